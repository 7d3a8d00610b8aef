package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims", "  hello  ", "hello"},
		{"keeps newlines and tabs", "line one\n\tline two", "line one\n\tline two"},
		{"drops control characters", "bell\a and null\x00", "bell and null"},
		{"only whitespace", " \r\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChatText(tt.input))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Dr. Grey", DisplayName("  <b>Dr. Grey</b>\n"))
	assert.Equal(t, "alert(1)", DisplayName("<script>alert(1)</script>"))
	assert.Len(t, []rune(DisplayName(strings.Repeat("é", 150))), 100)
}
