package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/roomid"
)

// AppointmentRepository is the booking platform's appointment store
type AppointmentRepository interface {
	GetByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
}

// SessionRepository persists consultation sessions
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.Session, error)
	GetByRoomID(ctx context.Context, roomID string) (*domain.Session, error)
	MarkActive(ctx context.Context, roomID string, at time.Time) (bool, error)
	End(ctx context.Context, appointmentID uuid.UUID, endedAt time.Time) (*domain.Session, error)
	ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
	Expire(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error)
}

// Service implements the session store: one call room per eligible appointment
type Service struct {
	appointmentRepo AppointmentRepository
	sessionRepo     SessionRepository
	metrics         *metrics.Metrics
	newRoomID       func(uuid.UUID) (string, error)
	now             func() time.Time
}

// NewService creates a new session service. m may be nil.
func NewService(appointmentRepo AppointmentRepository, sessionRepo SessionRepository, m *metrics.Metrics) *Service {
	return &Service{
		appointmentRepo: appointmentRepo,
		sessionRepo:     sessionRepo,
		metrics:         m,
		newRoomID:       roomid.New,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrGetSession returns the appointment's session, creating it on first use.
// Concurrent callers converge on one row through the unique index on appointment_id.
func (s *Service) CreateOrGetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	appt, err := s.appointmentRepo.GetByID(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotEligibleError("Appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}

	if !appt.Involves(requester) {
		return nil, apperrors.UnauthorizedError("Not a participant of this appointment")
	}

	switch {
	case appt.Cancelled:
		return nil, apperrors.NotEligibleError("Appointment is cancelled")
	case appt.Mode != domain.ModeOnline:
		return nil, apperrors.NotEligibleError("This appointment is not for online consultation")
	case !appt.Payment:
		return nil, apperrors.NotEligibleError("Payment is required before starting the consultation")
	}

	existing, err := s.sessionRepo.GetByAppointmentID(ctx, appointmentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	roomID, err := s.newRoomID(appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate room id: %w", err)
	}

	now := s.now()
	created := &domain.Session{
		SessionID:     uuid.New(),
		AppointmentID: appointmentID,
		RoomID:        roomID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Status:        domain.SessionScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.sessionRepo.Create(ctx, created)
	if errors.Is(err, domain.ErrSessionExists) {
		// Lost the race: return the winner's row
		winner, err := s.sessionRepo.GetByAppointmentID(ctx, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session after conflict: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSession("created")
	logger.FromContext(ctx).Info("Consultation session created",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("room_id", roomID),
		zap.String("requester", requester.String()))

	return created, nil
}

// GetSession returns the appointment's session to one of its participants
func (s *Service) GetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	sess, err := s.sessionRepo.GetByAppointmentID(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("Session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if !sess.Involves(requester) {
		return nil, apperrors.UnauthorizedError("Not a participant of this session")
	}

	return sess, nil
}

// EndSession ends the call and completes the appointment. Only the bound doctor may end it,
// and ending twice yields ALREADY_ENDED. An Expired session can still be ended.
func (s *Service) EndSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	sess, err := s.sessionRepo.GetByAppointmentID(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("Session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if !requester.IsDoctor() || requester.UserID != sess.DoctorID {
		return nil, apperrors.UnauthorizedError("Only the consulting doctor can end this session")
	}

	if sess.IsEnded() {
		return nil, apperrors.AlreadyEndedError()
	}

	ended, err := s.sessionRepo.End(ctx, appointmentID, s.now())
	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		return nil, apperrors.AlreadyEndedError()
	case errors.Is(err, domain.ErrNotFound):
		return nil, apperrors.NotFoundError("Session")
	case err != nil:
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	s.metrics.RecordSession("ended")
	logger.FromContext(ctx).Info("Consultation session ended",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("room_id", ended.RoomID))

	return ended, nil
}

// Authorize checks that identity may join the video room. The session must exist,
// bind identity, and be neither ended nor expired.
func (s *Service) Authorize(ctx context.Context, roomID string, identity domain.Identity) (*domain.Session, error) {
	sess, err := s.sessionRepo.GetByRoomID(ctx, roomID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("Room")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if !sess.Involves(identity) {
		return nil, apperrors.UnauthorizedError("Not a participant of this room")
	}
	if sess.IsClosed() {
		return nil, apperrors.AlreadyEndedError()
	}

	return sess, nil
}

// MarkActive flags the session as in progress once both parties are in the room
func (s *Service) MarkActive(ctx context.Context, roomID string) error {
	changed, err := s.sessionRepo.MarkActive(ctx, roomID, s.now())
	if err != nil {
		return fmt.Errorf("failed to activate session: %w", err)
	}
	if changed {
		s.metrics.RecordSession("activated")
	}
	return nil
}

// ExpireStale moves Active sessions that started more than maxAge ago to Expired. The
// appointment is left incomplete until the doctor ends the session. maxAge <= 0 disables expiry.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	now := s.now()
	stale, err := s.sessionRepo.ListActiveStartedBefore(ctx, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	expired := 0
	for _, sess := range stale {
		ok, err := s.sessionRepo.Expire(ctx, sess.SessionID, now)
		if err != nil {
			logger.Warn("Failed to expire session",
				zap.String("session_id", sess.SessionID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			expired++
			s.metrics.RecordSession("expired")
		}
	}

	return expired, nil
}
