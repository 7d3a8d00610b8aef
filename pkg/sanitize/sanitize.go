package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

const maxDisplayNameRunes = 100

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// ChatText trims a chat message and removes control characters other than
// newlines and tabs
func ChatText(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}
	return strings.TrimSpace(result.String())
}

// DisplayName cleans a client-supplied name before it is stored and shown to
// the other party: single line, no markup, at most 100 characters
func DisplayName(input string) string {
	input = htmlTagRegex.ReplaceAllString(input, "")

	var result strings.Builder
	n := 0
	for _, r := range input {
		if unicode.IsControl(r) {
			continue
		}
		if n == maxDisplayNameRunes {
			break
		}
		result.WriteRune(r)
		n++
	}
	return strings.TrimSpace(result.String())
}
