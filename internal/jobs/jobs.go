// Package jobs runs the service's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/config"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
)

const jobTimeout = 30 * time.Second

// SessionStore is the part of the session store the jobs touch
type SessionStore interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// SessionCounter reports how many sessions are in each status
type SessionCounter interface {
	CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error)
}

// RoomStats reports live relay occupancy
type RoomStats interface {
	Stats() (rooms, endpoints int)
}

// PoolStater exposes connection pool statistics
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// Dependencies are the collaborators the jobs read from. Nil entries skip the
// corresponding gauge.
type Dependencies struct {
	Sessions SessionStore
	Counter  SessionCounter
	Rooms    RoomStats
	Pool     PoolStater
}

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	cron    *cron.Cron
	cfg     config.JobsConfig
	deps    Dependencies
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewScheduler registers the gauge refresh and, when SessionMaxDuration is set,
// the stale-session expiry
func NewScheduler(cfg config.JobsConfig, deps Dependencies, m *metrics.Metrics) (*Scheduler, error) {
	log := logger.Named("jobs")
	cronLog := cronLogger{log.Sugar()}

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		), cron.WithLogger(cronLog)),
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		log:     log,
	}

	if _, err := s.cron.AddFunc(cfg.GaugeSchedule, s.run("refresh_gauges", s.RefreshGauges)); err != nil {
		return nil, fmt.Errorf("invalid gauge schedule %q: %w", cfg.GaugeSchedule, err)
	}

	if cfg.SessionMaxDuration > 0 && deps.Sessions != nil {
		if _, err := s.cron.AddFunc(cfg.ExpirySchedule, s.run("expire_sessions", s.ExpireSessions)); err != nil {
			return nil, fmt.Errorf("invalid expiry schedule %q: %w", cfg.ExpirySchedule, err)
		}
	}

	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and returns a context that is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(name string, job func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Warn("Job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("Job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// RefreshGauges copies relay occupancy, pool usage and session counts into the metrics
func (s *Scheduler) RefreshGauges(ctx context.Context) error {
	if s.deps.Rooms != nil {
		rooms, _ := s.deps.Rooms.Stats()
		s.metrics.SetRoomsActive(rooms)
	}

	if s.deps.Pool != nil {
		stat := s.deps.Pool.Stat()
		s.metrics.SetDBConnections(int(stat.AcquiredConns()), int(stat.IdleConns()))
	}

	if s.deps.Counter == nil {
		return nil
	}
	counts, err := s.deps.Counter.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	s.metrics.SetSessionsByStatus(byStatus)
	return nil
}

// ExpireSessions ends sessions that have been Active longer than SessionMaxDuration
func (s *Scheduler) ExpireSessions(ctx context.Context) error {
	expired, err := s.deps.Sessions.ExpireStale(ctx, s.cfg.SessionMaxDuration)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("Expired stale sessions", zap.Int("count", expired))
	}
	return nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
