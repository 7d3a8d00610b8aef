package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role identifies which credential namespace produced an Identity
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Identity is the authenticated caller: either Patient(id) or Doctor(id).
// It is produced once by the auth middleware and consumed by every authorization check.
type Identity struct {
	Role   Role      `json:"role"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name,omitempty"`
}

// Patient builds a patient identity
func Patient(id uuid.UUID) Identity {
	return Identity{Role: RolePatient, UserID: id}
}

// Doctor builds a doctor identity
func Doctor(id uuid.UUID) Identity {
	return Identity{Role: RoleDoctor, UserID: id}
}

// IsPatient reports whether the identity came from the patient namespace
func (i Identity) IsPatient() bool { return i.Role == RolePatient }

// IsDoctor reports whether the identity came from the doctor namespace
func (i Identity) IsDoctor() bool { return i.Role == RoleDoctor }

// IsZero reports whether the identity is unset
func (i Identity) IsZero() bool {
	return i.Role == "" || i.UserID == uuid.Nil
}

// Same compares role and id, ignoring the display name
func (i Identity) Same(other Identity) bool {
	return i.Role == other.Role && i.UserID == other.UserID
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Role, i.UserID)
}
