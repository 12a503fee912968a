package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func TestLoader_LoadWithQuotas(t *testing.T) {
	dir := t.TempDir()

	gateway := `
server:
  port: 8181
quota:
  default_limit: 30
  window: 30s
`
	if err := os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(gateway), 0o644); err != nil {
		t.Fatal(err)
	}
	quotas := `
tenants:
  tenant-a: 100
  tenant-blocked: 0
`
	if err := os.WriteFile(filepath.Join(dir, "quotas.yaml"), []byte(quotas), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir, slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := l.Config()
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %s", cfg.Server.Host)
	}
	if cfg.Quota.DefaultLimit != 30 {
		t.Errorf("expected default_limit 30, got %d", cfg.Quota.DefaultLimit)
	}
	if cfg.Quota.Window != 30*time.Second {
		t.Errorf("expected 30s window, got %s", cfg.Quota.Window)
	}

	q := l.Quotas()
	if q.Tenants["tenant-a"] != 100 {
		t.Errorf("expected tenant-a override 100, got %d", q.Tenants["tenant-a"])
	}
	if v, ok := q.Tenants["tenant-blocked"]; !ok || v != 0 {
		t.Error("expected explicit zero override for tenant-blocked")
	}
}

func TestLoader_LoadWithoutQuotasFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte("server:\n  port: 8282\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir, slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if l.Quotas() == nil || len(l.Quotas().Tenants) != 0 {
		t.Error("missing quotas file should yield an empty override set")
	}
}
