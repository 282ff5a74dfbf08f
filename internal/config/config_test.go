package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.JWKSURL != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("Identity.JWKSURL = %q", cfg.Identity.JWKSURL)
	}
	if cfg.Identity.Audience != "caseflow" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if !cfg.Definitions.StrictChecksums {
		t.Error("Definitions.StrictChecksums = false, want true")
	}
	if cfg.Workflow.Store.Driver != "postgres" {
		t.Errorf("Workflow.Store.Driver = %q, want postgres", cfg.Workflow.Store.Driver)
	}
	if cfg.Workflow.ActionTimeout != 4*time.Second {
		t.Errorf("Workflow.ActionTimeout = %v, want 4s", cfg.Workflow.ActionTimeout)
	}
	if cfg.Audit.Retry.MaxAttempts != 3 {
		t.Errorf("Audit.Retry.MaxAttempts = %d, want 3", cfg.Audit.Retry.MaxAttempts)
	}
	if cfg.Notifier.Driver != "nats" {
		t.Errorf("Notifier.Driver = %q, want nats", cfg.Notifier.Driver)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Workflow.Store.Driver != "memory" {
		t.Errorf("default Workflow.Store.Driver = %q, want memory", cfg.Workflow.Store.Driver)
	}
	if cfg.Workflow.ActionTimeout != 5*time.Second {
		t.Errorf("default Workflow.ActionTimeout = %v, want 5s", cfg.Workflow.ActionTimeout)
	}
	if cfg.Audit.Retry.MaxAttempts != 5 {
		t.Errorf("default Audit.Retry.MaxAttempts = %d, want 5", cfg.Audit.Retry.MaxAttempts)
	}
	if cfg.Notifier.Driver != "log" {
		t.Errorf("default Notifier.Driver = %q, want log", cfg.Notifier.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASEFLOW_SERVER_PORT", "3000")
	t.Setenv("CASEFLOW_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("CASEFLOW_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("CASEFLOW_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("CASEFLOW_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("CASEFLOW_WORKFLOW_STORE_DRIVER", "memory")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Workflow.Store.Driver != "memory" {
		t.Errorf("Workflow.Store.Driver = %q, want memory (env override)", cfg.Workflow.Store.Driver)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "caseflow"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_unknown_driver(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "caseflow"
	cfg.Workflow.Store.Driver = "cassandra"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with unknown store driver should return error")
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090, env sets 5555; env wins.
	t.Setenv("CASEFLOW_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
