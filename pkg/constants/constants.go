// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Call-related constants
const (
	// RingTimeout is how long an unanswered one-to-one call rings before
	// it is marked missed
	RingTimeout = 45 * time.Second

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour

	// ReconcileInterval is the interval between sweeps for stale call records
	ReconcileInterval = 5 * time.Minute

	// ReconcileGrace is the minimum age of a non-terminal record with no
	// live session before reconciliation closes it
	ReconcileGrace = 2 * time.Minute

	// CallStatusInitiated indicates a call record has been created
	CallStatusInitiated = "initiated"

	// CallStatusRinging indicates a call is waiting to be answered
	CallStatusRinging = "ringing"

	// CallStatusActive indicates a call is in progress
	CallStatusActive = "active"

	// CallStatusEnded indicates a call has ended
	CallStatusEnded = "ended"

	// CallStatusMissed indicates a call was never answered
	CallStatusMissed = "missed"

	// CallStatusDeclined indicates a call was rejected by the callee
	CallStatusDeclined = "declined"

	// CallTypeAudio indicates an audio-only call
	CallTypeAudio = "audio"

	// CallTypeVideo indicates a video call
	CallTypeVideo = "video"
)

// User presence constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"

	// PresenceTTL is how long a presence entry lives without a refresh
	PresenceTTL = 90 * time.Second
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100

	// MinPageSize is the minimum number of items per page
	MinPageSize = 1
)
