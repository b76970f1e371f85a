package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "password",
}

// Bookmark persistence strategies.
const (
	BookmarksPersisted = "persisted"
	BookmarksDisabled  = "disabled"
	BookmarksLocal     = "local"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisURL              string `env:"REDIS_URL,required"`
	RunMigrations         bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	AuthJWKSURL           string `env:"AUTH_JWKS_URL"`
	AuthJWTSecret         string `env:"AUTH_JWT_SECRET"`
	AuthIssuer            string `env:"AUTH_ISSUER"`
	VoiceAPIURL           string `env:"VOICE_API_URL" envDefault:"https://api.vapi.ai"`
	VoiceAPIKey           string `env:"VOICE_API_KEY"`
	BookmarksMode         string `env:"BOOKMARKS_MODE" envDefault:"disabled"`
	CallSessionTTLSeconds int    `env:"CALL_SESSION_TTL_SECONDS" envDefault:"1800"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) CallSessionTTL() time.Duration {
	return time.Duration(c.CallSessionTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.BookmarksMode {
	case BookmarksPersisted, BookmarksDisabled, BookmarksLocal:
	default:
		return fmt.Errorf("BOOKMARKS_MODE must be one of %s, %s, %s (got %q)",
			BookmarksPersisted, BookmarksDisabled, BookmarksLocal, c.BookmarksMode)
	}

	if c.CallSessionTTLSeconds <= 0 {
		return fmt.Errorf("CALL_SESSION_TTL_SECONDS must be positive")
	}

	if isProduction {
		if c.AuthJWKSURL == "" {
			if err := validateSecret("AUTH_JWT_SECRET", c.AuthJWTSecret); err != nil {
				return err
			}
		} else if !strings.HasPrefix(c.AuthJWKSURL, "https://") {
			return fmt.Errorf("AUTH_JWKS_URL must use https in production")
		}
		if c.VoiceAPIKey == "" {
			log.Warn().Msg("VOICE_API_KEY is empty in production: voice sessions will fail to start")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
