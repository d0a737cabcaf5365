package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.BindAddr != "127.0.0.1:18790" {
		t.Fatalf("bind addr: %q", cfg.Gateway.BindAddr)
	}
	if cfg.LogLevel != "info" || cfg.Production {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Sessions.ExpiryMinutes != 30 || cfg.Batch.MaxConcurrency != 5 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.OTel.Exporter != "none" {
		t.Fatalf("otel exporter: %q", cfg.OTel.Exporter)
	}
}

func TestLoadFrom_FileAndEnvOverride(t *testing.T) {
	home := t.TempDir()
	raw := `
log_level: debug
allow_anonymous: true
gateway:
  bind_addr: "127.0.0.1:9999"
  rate_limit_per_minute: 10
sessions:
  expiry_minutes: 5
`
	if err := os.WriteFile(ConfigPath(home), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKDECK_BIND_ADDR", "127.0.0.1:7777")

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.BindAddr != "127.0.0.1:7777" {
		t.Fatalf("env must win over file: %q", cfg.Gateway.BindAddr)
	}
	if cfg.LogLevel != "debug" || !cfg.AllowAnonymous {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Gateway.RateLimitPerMinute != 10 || cfg.Sessions.ExpiryMinutes != 5 {
		t.Fatalf("file values lost: %+v", cfg)
	}
}

func TestLoadFrom_InvalidLogLevel(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: blaring\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatalf("expected validation error for bad log level")
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := Config{HomeDir: "/srv/td", PolicyPath: "policy.yaml"}
	if got := cfg.ResolvedPolicyPath(); got != filepath.Join("/srv/td", "policy.yaml") {
		t.Fatalf("policy path: %q", got)
	}
	cfg.PolicyPath = "/etc/taskdeck/rules.yaml"
	if got := cfg.ResolvedPolicyPath(); got != "/etc/taskdeck/rules.yaml" {
		t.Fatalf("absolute policy path: %q", got)
	}
	if got := cfg.ResolvedDBPath(); got != filepath.Join("/srv/td", "taskdeck.db") {
		t.Fatalf("db path: %q", got)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := a
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint must be deterministic")
	}
	b.Gateway.BindAddr = "0.0.0.0:80"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint must change with bind addr")
	}
}

func TestWatcher_EmitsOnPolicyWrite(t *testing.T) {
	home := t.TempDir()
	policyPath := filepath.Join(home, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(home, policyPath, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(policyPath, []byte("rules:\n  - action: read\n"), 0o644); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != policyPath {
			t.Fatalf("event path: %q", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload event after policy write")
	}
}
