// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout bounds a single HTTP handler's storage work
	DefaultTimeout = 10 * time.Second

	// WebSocketWriteWait is the deadline for one websocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// TokenLifetime is the lifetime of tokens minted by tooling
	TokenLifetime = 15 * time.Minute
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Chat limits
const (
	// MaxChatMessageLength is the largest accepted chat message, in bytes
	MaxChatMessageLength = 4000
)

// Credential headers. Patient tokens travel in "token", doctor tokens in "dtoken".
const (
	HeaderPatientToken = "token"
	HeaderDoctorToken  = "dtoken"
)

// Context keys set by the auth middleware
const (
	ContextIdentity = "identity"
	ContextTokenID  = "token_id"
)
