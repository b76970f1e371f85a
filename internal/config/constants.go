package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Call start attempts per user per minute
const CallStartRateLimitPerMin = 10

// Directory pagination
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Home feed sizes
const (
	HomePopularLimit = 3
	HomeRecentLimit  = 10
)

// Voice provider timeouts
const (
	VoiceRequestTimeout = 15 * time.Second
	VoiceConnectTimeout = 15 * time.Second
)
