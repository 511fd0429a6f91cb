// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	Addr        string `env:"AUTH_ADDR" envDefault:":8300"`
	PostgresDSN string `env:"AUTH_PG_DSN"`
	Environment string `env:"AUTH_ENV" envDefault:"development"`

	SessionDuration time.Duration `env:"AUTH_SESSION_DURATION" envDefault:"168h"`
	CookieDomain    string        `env:"AUTH_COOKIE_DOMAIN" envDefault:"amphoraxe.ca"`

	LoginMaxAttempts  int           `env:"AUTH_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindow       time.Duration `env:"AUTH_LOGIN_WINDOW" envDefault:"300s"`
	SignupMaxAttempts int           `env:"AUTH_SIGNUP_MAX_ATTEMPTS" envDefault:"3"`
	SignupWindow      time.Duration `env:"AUTH_SIGNUP_WINDOW" envDefault:"3600s"`

	HashWorkers int `env:"AUTH_HASH_WORKERS" envDefault:"4"`

	CORSOrigins []string `env:"AUTH_CORS_ORIGINS" envSeparator:","`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production hardening
// (secure cookies, among others).
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}
