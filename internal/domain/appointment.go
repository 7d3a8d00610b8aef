package domain

import (
	"github.com/google/uuid"
)

// AppointmentMode is how the consultation takes place
type AppointmentMode string

const (
	ModePhysical AppointmentMode = "Physical"
	ModeOnline   AppointmentMode = "Online"
)

// Appointment is owned by the booking system. The consultation core reads it
// to gate video and chat, and flips IsCompleted when a session ends.
type Appointment struct {
	AppointmentID uuid.UUID       `json:"appointment_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	DoctorID      uuid.UUID       `json:"doctor_id"`
	SlotDate      string          `json:"slot_date"`
	SlotTime      string          `json:"slot_time"`
	Payment       bool            `json:"payment"`
	Mode          AppointmentMode `json:"appointment_mode"`
	IsCompleted   bool            `json:"is_completed"`
	Cancelled     bool            `json:"cancelled"`
}

// Involves reports whether id is this appointment's patient or doctor,
// matched against the field of the identity's own namespace.
func (a *Appointment) Involves(id Identity) bool {
	switch id.Role {
	case RolePatient:
		return id.UserID == a.PatientID
	case RoleDoctor:
		return id.UserID == a.DoctorID
	}
	return false
}

// Counterpart returns the other party's user id
func (a *Appointment) Counterpart(id Identity) uuid.UUID {
	if id.IsDoctor() {
		return a.PatientID
	}
	return a.DoctorID
}

// VideoEligible reports whether a video session may exist for the appointment
func (a *Appointment) VideoEligible() bool {
	return !a.Cancelled && a.Payment && a.Mode == ModeOnline
}
