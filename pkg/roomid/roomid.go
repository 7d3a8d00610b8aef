// Package roomid derives unguessable real-time room names for appointments.
package roomid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Prefix marks video room names, distinguishing them from chat rooms (which use the bare appointment id)
const Prefix = "room_"

// New returns Prefix + 32 hex chars: a BLAKE2b-128 of the appointment id keyed with fresh entropy.
func New(appointmentID uuid.UUID) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	h, err := blake2b.New(16, key)
	if err != nil {
		return "", fmt.Errorf("failed to init blake2b: %w", err)
	}
	h.Write(appointmentID[:])

	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// IsVideoRoom reports whether name looks like a room produced by New
func IsVideoRoom(name string) bool {
	if !strings.HasPrefix(name, Prefix) {
		return false
	}
	rest := name[len(Prefix):]
	if len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
