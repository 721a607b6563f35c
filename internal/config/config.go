// Package config loads process settings from the environment and the gateway file that
// binds vendors to backends.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/R3E-Network/zkgate/internal/catalog"
)

// Settings are the process-level knobs, read from ZKGATE_* environment variables.
type Settings struct {
	Addr            string        `env:"ZKGATE_ADDR,default=0.0.0.0:3000"`
	GatewayConfig   string        `env:"ZKGATE_CONFIG,default=config/gateway.yaml"`
	ProgramsDir     string        `env:"ZKGATE_PROGRAMS_DIR,default=programs"`
	LogLevel        string        `env:"ZKGATE_LOG_LEVEL,default=info"`
	LogFormat       string        `env:"ZKGATE_LOG_FORMAT,default=text"`
	MaxBodyBytes    int64         `env:"ZKGATE_MAX_BODY_BYTES,default=536870912"`
	ShutdownTimeout time.Duration `env:"ZKGATE_SHUTDOWN_TIMEOUT,default=30s"`

	CatalogDriver string `env:"ZKGATE_CATALOG,default=memory"`
	PostgresDSN   string `env:"ZKGATE_POSTGRES_DSN"`
	RedisURL      string `env:"ZKGATE_REDIS_URL"`
	RedisPrefix   string `env:"ZKGATE_REDIS_PREFIX,default=zkgate"`

	JWTSecret      string  `env:"ZKGATE_JWT_SECRET"`
	RateLimitRPS   float64 `env:"ZKGATE_RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int     `env:"ZKGATE_RATE_LIMIT_BURST,default=100"`
	EventBuffer    int     `env:"ZKGATE_EVENT_BUFFER,default=1000"`
	CORSOrigins    string  `env:"ZKGATE_CORS_ORIGINS"`
}

// Load decodes Settings from the environment and validates them.
func Load() (*Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field requirements.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("ZKGATE_ADDR is required")
	}
	if strings.TrimSpace(s.ProgramsDir) == "" {
		return errors.New("ZKGATE_PROGRAMS_DIR is required")
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("ZKGATE_MAX_BODY_BYTES must be positive, got %d", s.MaxBodyBytes)
	}
	if s.RateLimitRPS < 0 || s.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}

	switch strings.ToLower(s.CatalogDriver) {
	case catalog.DriverMemory, "":
		s.CatalogDriver = catalog.DriverMemory
	case catalog.DriverPostgres:
		s.CatalogDriver = catalog.DriverPostgres
		if s.PostgresDSN == "" {
			return errors.New("ZKGATE_POSTGRES_DSN is required for the postgres catalog")
		}
	case catalog.DriverRedis:
		s.CatalogDriver = catalog.DriverRedis
		if s.RedisURL == "" {
			return errors.New("ZKGATE_REDIS_URL is required for the redis catalog")
		}
	default:
		return fmt.Errorf("unknown catalog driver %q", s.CatalogDriver)
	}
	return nil
}

// AuthEnabled reports whether admin routes require a token.
func (s *Settings) AuthEnabled() bool {
	return s.JWTSecret != ""
}
