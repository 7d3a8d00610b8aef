package database

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"consultlink-backend/pkg/logger"
)

// RetryPolicy is an exponential backoff used while dependencies come up
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the startup behaviour of every service binary
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Connect calls dial until it succeeds, the attempts run out, or ctx is done
func Connect[T any](ctx context.Context, name string, policy RetryPolicy, dial func(context.Context) (T, error)) (T, error) {
	var (
		conn T
		err  error
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		conn, err = dial(ctx)
		if err == nil {
			logger.Info("Connected", zap.String("dependency", name), zap.Int("attempt", attempt))
			return conn, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		logger.Warn("Connection attempt failed, retrying",
			zap.String("dependency", name),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return conn, ctx.Err()
		case <-time.After(delay):
		}
	}

	return conn, err
}
