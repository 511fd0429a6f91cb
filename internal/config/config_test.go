package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8300" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SessionDuration != 168*time.Hour {
		t.Fatalf("SessionDuration = %v", cfg.SessionDuration)
	}
	if cfg.LoginMaxAttempts != 5 || cfg.LoginWindow != 300*time.Second {
		t.Fatalf("login limits = %d/%v", cfg.LoginMaxAttempts, cfg.LoginWindow)
	}
	if cfg.SignupMaxAttempts != 3 || cfg.SignupWindow != 3600*time.Second {
		t.Fatalf("signup limits = %d/%v", cfg.SignupMaxAttempts, cfg.SignupWindow)
	}
	if cfg.CookieDomain != "amphoraxe.ca" {
		t.Fatalf("CookieDomain = %q", cfg.CookieDomain)
	}
	if cfg.IsProduction() {
		t.Fatal("default environment must not be production")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_ADDR", ":9000")
	t.Setenv("AUTH_ENV", "production")
	t.Setenv("AUTH_SESSION_DURATION", "24h")
	t.Setenv("AUTH_LOGIN_MAX_ATTEMPTS", "10")
	t.Setenv("AUTH_CORS_ORIGINS", "https://a.amphoraxe.ca,https://b.amphoraxe.ca")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production")
	}
	if cfg.SessionDuration != 24*time.Hour {
		t.Fatalf("SessionDuration = %v", cfg.SessionDuration)
	}
	if cfg.LoginMaxAttempts != 10 {
		t.Fatalf("LoginMaxAttempts = %d", cfg.LoginMaxAttempts)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.amphoraxe.ca" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}
