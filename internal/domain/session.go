package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a consultation session
type SessionStatus string

const (
	SessionScheduled SessionStatus = "Scheduled"
	SessionActive    SessionStatus = "Active"
	SessionEnded     SessionStatus = "Ended"
	// SessionExpired is a call closed by the stale-session job. The doctor can still end
	// it, which completes the appointment.
	SessionExpired SessionStatus = "Expired"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrSessionExists is returned when the appointment already has a session
	ErrSessionExists = errors.New("session already exists for appointment")
	// ErrSessionEnded is returned when ending a session that is already ended
	ErrSessionEnded = errors.New("session already ended")
)

// Session maps one appointment to its call room
type Session struct {
	SessionID     uuid.UUID     `json:"session_id"`
	AppointmentID uuid.UUID     `json:"appointment_id"`
	RoomID        string        `json:"room_id"`
	DoctorID      uuid.UUID     `json:"doctor_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	Status        SessionStatus `json:"status"`
	StartTime     *time.Time    `json:"start_time,omitempty"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Involves reports whether id is the bound doctor or patient
func (s *Session) Involves(id Identity) bool {
	switch id.Role {
	case RolePatient:
		return id.UserID == s.PatientID
	case RoleDoctor:
		return id.UserID == s.DoctorID
	}
	return false
}

// IsEnded reports whether the session reached its terminal state
func (s *Session) IsEnded() bool {
	return s.Status == SessionEnded
}

// IsClosed reports whether the call room no longer admits participants
func (s *Session) IsClosed() bool {
	return s.Status == SessionEnded || s.Status == SessionExpired
}
