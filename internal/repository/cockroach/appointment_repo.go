package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultlink-backend/internal/domain"
)

// AppointmentRepository reads appointments owned by the booking platform
type AppointmentRepository struct {
	pool *pgxpool.Pool
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(pool *pgxpool.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// GetByID retrieves an appointment by ID
func (r *AppointmentRepository) GetByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	query := `
		SELECT appointment_id, patient_id, doctor_id, slot_date, slot_time,
		       payment, appointment_mode, is_completed, cancelled
		FROM appointments
		WHERE appointment_id = $1
	`

	var (
		appt domain.Appointment
		mode string
	)
	err := r.pool.QueryRow(ctx, query, appointmentID).Scan(
		&appt.AppointmentID,
		&appt.PatientID,
		&appt.DoctorID,
		&appt.SlotDate,
		&appt.SlotTime,
		&appt.Payment,
		&mode,
		&appt.IsCompleted,
		&appt.Cancelled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}

	appt.Mode = domain.AppointmentMode(mode)
	return &appt, nil
}
