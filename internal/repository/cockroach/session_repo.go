package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultlink-backend/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

const sessionColumns = `
	session_id, appointment_id, room_id, doctor_id, patient_id,
	status, start_time, end_time, created_at, updated_at`

// SessionRepository handles consultation session rows.
// consult_sessions carries UNIQUE(appointment_id) and UNIQUE(room_id).
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a session. It returns domain.ErrSessionExists when the
// appointment already has one, leaving the caller to re-read the winner.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO consult_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		s.SessionID,
		s.AppointmentID,
		s.RoomID,
		s.DoctorID,
		s.PatientID,
		string(s.Status),
		s.StartTime,
		s.EndTime,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByAppointmentID retrieves the session of an appointment
func (r *SessionRepository) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM consult_sessions WHERE appointment_id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, appointmentID))
}

// GetByRoomID retrieves the session owning a room
func (r *SessionRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM consult_sessions WHERE room_id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, roomID))
}

// MarkActive moves a Scheduled session to Active, stamping start_time once.
// It reports whether a row changed.
func (r *SessionRepository) MarkActive(ctx context.Context, roomID string, at time.Time) (bool, error) {
	query := `
		UPDATE consult_sessions
		SET status = 'Active',
		    start_time = COALESCE(start_time, $2),
		    updated_at = $2
		WHERE room_id = $1 AND status = 'Scheduled'
	`

	tag, err := r.pool.Exec(ctx, query, roomID, at)
	if err != nil {
		return false, fmt.Errorf("failed to activate session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// End ends the session and completes its appointment in one transaction.
// Returns domain.ErrNotFound or domain.ErrSessionEnded when nothing was updated.
func (r *SessionRepository) End(ctx context.Context, appointmentID uuid.UUID, endedAt time.Time) (*domain.Session, error) {
	var ended *domain.Session

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			UPDATE consult_sessions
			SET status = 'Ended', end_time = COALESCE(end_time, $2), updated_at = $2
			WHERE appointment_id = $1 AND status <> 'Ended'
			RETURNING ` + sessionColumns

		s, err := scanSession(tx.QueryRow(ctx, query, appointmentID, endedAt))
		if errors.Is(err, domain.ErrNotFound) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM consult_sessions WHERE appointment_id = $1)`,
				appointmentID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check session: %w", err)
			}
			if exists {
				return domain.ErrSessionEnded
			}
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE appointments SET is_completed = true WHERE appointment_id = $1`,
			appointmentID,
		); err != nil {
			return fmt.Errorf("failed to complete appointment: %w", err)
		}

		ended = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ended, nil
}

// ListActiveStartedBefore returns Active sessions whose start_time is older than cutoff
func (r *SessionRepository) ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM consult_sessions
		WHERE status = 'Active' AND start_time < $1
		ORDER BY start_time ASC
		LIMIT 500
	`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// Expire closes an Active session without completing the appointment. End still
// accepts the Expired row.
func (r *SessionRepository) Expire(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error) {
	query := `
		UPDATE consult_sessions
		SET status = 'Expired', end_time = $2, updated_at = $2
		WHERE session_id = $1 AND status = 'Active'
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, endedAt)
	if err != nil {
		return false, fmt.Errorf("failed to expire session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// CountByStatus returns the number of sessions per status
func (r *SessionRepository) CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM consult_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SessionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan session count: %w", err)
		}
		counts[domain.SessionStatus(status)] = n
	}

	return counts, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s      domain.Session
		status string
	)

	err := row.Scan(
		&s.SessionID,
		&s.AppointmentID,
		&s.RoomID,
		&s.DoctorID,
		&s.PatientID,
		&status,
		&s.StartTime,
		&s.EndTime,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.Status = domain.SessionStatus(status)
	return &s, nil
}
