package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Tokens.VerificationTTL != 24*time.Hour {
		t.Fatalf("expected 24h verification ttl, got %s", cfg.Tokens.VerificationTTL)
	}
	if cfg.Tokens.ResetTTL != 30*time.Minute {
		t.Fatalf("expected 30m reset ttl, got %s", cfg.Tokens.ResetTTL)
	}
	if cfg.Session.SingleSession {
		t.Fatalf("multiple sessions per account should be allowed by default")
	}
	if cfg.Accounts.DefaultRole != "ROLE_USER" || len(cfg.Accounts.DefaultPrivileges) != 2 {
		t.Fatalf("unexpected default role config: %+v", cfg.Accounts)
	}
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Setenv("THERMO_SESSION_SINGLE_SESSION", "true")
	t.Setenv("THERMO_TOKENS_RESET_TTL", "45m")
	t.Setenv("THERMO_APP_STORAGE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Session.SingleSession {
		t.Fatalf("expected single session switch from env")
	}
	if cfg.Tokens.ResetTTL != 45*time.Minute {
		t.Fatalf("expected 45m reset ttl, got %s", cfg.Tokens.ResetTTL)
	}
	if cfg.App.Storage != "memory" {
		t.Fatalf("expected memory storage, got %s", cfg.App.Storage)
	}
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	t.Setenv("THERMO_APP_STORAGE", "mongo")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for unknown storage")
	}
}

func TestValidateRequiresBaseURLOutsideDevelopment(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg.App.BaseURL = " "
	cfg.App.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty base_url to be rejected in production")
	}

	cfg.App.Env = "development"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("development may derive links from the request: %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresSettings{User: "u", Password: "p", Host: "db", Port: 5432, Database: "thermo", SSLMode: "disable"}
	if got := p.DSN(); got != "postgres://u:p@db:5432/thermo?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}
