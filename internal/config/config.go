// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DBConfig       `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles. The API key guards the
// dashboard routes; the webhook token guards the worker callback route.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	APIKey       string `mapstructure:"api_key"`
	WebhookToken string `mapstructure:"webhook_token"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores, which is the development default.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// WorkerConfig points at the external scraping worker.
type WorkerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthToken      string `mapstructure:"auth_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NotifyConfig tunes the progress watcher and change fan-out.
type NotifyConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	TickIntervalSeconds int    `mapstructure:"tick_interval_seconds"`
	ChangeTopic         string `mapstructure:"change_topic"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project ID selects the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// StorageConfig selects where raw callback snapshots are archived. The GCS
// bucket wins over the local directory; with neither set the in-memory blob
// store is used.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("worker.timeout_seconds", 30)
	v.SetDefault("notify.poll_interval_seconds", 3)
	v.SetDefault("notify.tick_interval_seconds", 1)
	v.SetDefault("notify.change_topic", "session-changes")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Worker.TimeoutSeconds <= 0 {
		return fmt.Errorf("worker.timeout_seconds must be > 0")
	}
	if c.Notify.PollIntervalSeconds <= 0 {
		return fmt.Errorf("notify.poll_interval_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout converts the server timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// WorkerTimeout converts the worker timeout config into a duration.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSeconds) * time.Second
}

// PollInterval converts the watcher poll config into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Notify.PollIntervalSeconds) * time.Second
}

// TickInterval converts the watcher tick config into a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Notify.TickIntervalSeconds) * time.Second
}
