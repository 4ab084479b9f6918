// Package config loads call service configuration from the environment.
package config

import (
	"time"

	"github.com/vishalthakur2004/Trendly-sub000/pkg/constants"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/env"
)

// Config holds the call service configuration
type Config struct {
	Env  string
	Port int

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Auth
	JWTSecret string

	// CORS
	AllowedOrigins []string

	// Call lifecycle
	RingTimeout       time.Duration
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load reads configuration from environment variables.
// Secrets support Docker secrets via the _FILE suffix convention.
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetInt("PORT", 8083),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisPassword: env.GetStringFromFile("REDIS_PASSWORD", ""),
		RedisDB:       env.GetInt("REDIS_DB", 0),
		RedisPoolSize: env.GetInt("REDIS_POOL_SIZE", 10),

		JWTSecret: env.GetStringFromFile("JWT_SECRET", "dev-secret-change-me"),

		AllowedOrigins: env.GetStringSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		RingTimeout:       env.GetDuration("CALL_RING_TIMEOUT", constants.RingTimeout),
		ReconcileInterval: env.GetDuration("CALL_RECONCILE_INTERVAL", constants.ReconcileInterval),
		ReconcileGrace:    env.GetDuration("CALL_RECONCILE_GRACE", constants.ReconcileGrace),
	}
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
