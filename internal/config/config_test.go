package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 45
auth:
  enabled: true
  api_key: secret
  webhook_token: hook-secret
database:
  dsn: postgres://leadforge:pw@localhost:5432/leadforge
  max_conns: 12
worker:
  base_url: https://worker.internal
  auth_token: worker-secret
  timeout_seconds: 20
notify:
  poll_interval_seconds: 5
  change_topic: lead-events
pubsub:
  project_id: leadforge-prod
storage:
  gcs_bucket: leadforge-snapshots
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" || cfg.Auth.WebhookToken != "hook-secret" {
		t.Fatalf("expected auth overrides to apply: %+v", cfg.Auth)
	}
	if cfg.Database.DSN == "" || cfg.Database.MaxConns != 12 {
		t.Fatalf("expected database overrides to apply: %+v", cfg.Database)
	}
	if cfg.Worker.BaseURL != "https://worker.internal" || cfg.WorkerTimeout() != 20*time.Second {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if cfg.PollInterval() != 5*time.Second || cfg.Notify.ChangeTopic != "lead-events" {
		t.Fatalf("expected notify overrides to apply: %+v", cfg.Notify)
	}
	if cfg.PubSub.ProjectID != "leadforge-prod" {
		t.Fatalf("expected pubsub project id: %+v", cfg.PubSub)
	}
	if cfg.Storage.GCSBucket != "leadforge-snapshots" {
		t.Fatalf("expected storage bucket: %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RequestTimeout() != 60*time.Second {
		t.Fatalf("expected default request timeout 60s, got %v", cfg.RequestTimeout())
	}
	if cfg.PollInterval() != 3*time.Second || cfg.TickInterval() != time.Second {
		t.Fatalf("expected default watcher intervals, got %+v", cfg.Notify)
	}
	if cfg.Notify.ChangeTopic != "session-changes" {
		t.Fatalf("expected default change topic, got %q", cfg.Notify.ChangeTopic)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected logging.development default true")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }},
		{"zero worker timeout", func(c *Config) { c.Worker.TimeoutSeconds = 0 }},
		{"zero poll interval", func(c *Config) { c.Notify.PollIntervalSeconds = 0 }},
		{"auth enabled without key", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.APIKey = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
