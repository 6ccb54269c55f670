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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pulling    PullingConfig    `mapstructure:"pulling"`
	Sequential SequentialConfig `mapstructure:"sequential"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig configures bearer-token authentication for the admin API.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PriorityRateLimitConfig configures one priority class's capacity.
type PriorityRateLimitConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
}

// PullingConfig governs the pulling engine.
type PullingConfig struct {
	RateLimits         [5]PriorityRateLimitConfig `mapstructure:"rate_limits"`
	HTTPTimeoutSeconds int                        `mapstructure:"http_timeout_seconds"`
	MaxConnsPerHost    int                        `mapstructure:"max_conns_per_host"`
	DeliveryWorkers    int                        `mapstructure:"delivery_workers"`
	DeliveryBuffer     int                        `mapstructure:"delivery_buffer"`
	RescheduleMs       int                        `mapstructure:"reschedule_ms"`
	SelfReschedule     bool                       `mapstructure:"self_reschedule"`
	RetryMaxAttempts   int                        `mapstructure:"retry_max_attempts"`
	RetryBaseMs        int                        `mapstructure:"retry_base_ms"`
	RetryMaxMs         int                        `mapstructure:"retry_max_ms"`
}

// SequentialConfig governs the sequential processing stage.
type SequentialConfig struct {
	ShardCount       int `mapstructure:"shard_count"`
	StallThresholdMs int `mapstructure:"stall_threshold_ms"`
}

// StorageConfig sets paths for response-body archival. Provider selects the
// BlobStore backend: "gcs" for production, "local" for a filesystem-backed
// dev deployment, "memory" for tests and demos.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the audit database.
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
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

	defaultRateLimit := map[string]interface{}{"concurrency": 8, "rps": 20.0, "burst": 8}
	v.SetDefault("pulling.rate_limits", []map[string]interface{}{
		defaultRateLimit, defaultRateLimit, defaultRateLimit, defaultRateLimit, defaultRateLimit,
	})
	v.SetDefault("pulling.http_timeout_seconds", 10)
	v.SetDefault("pulling.max_conns_per_host", 16)
	v.SetDefault("pulling.delivery_workers", 4)
	v.SetDefault("pulling.delivery_buffer", 256)
	v.SetDefault("pulling.reschedule_ms", 20)
	v.SetDefault("pulling.self_reschedule", true)
	v.SetDefault("pulling.retry_max_attempts", 3)
	v.SetDefault("pulling.retry_base_ms", 250)
	v.SetDefault("pulling.retry_max_ms", 5000)

	v.SetDefault("sequential.shard_count", 16)
	v.SetDefault("sequential.stall_threshold_ms", 2000)

	v.SetDefault("storage.provider", "gcs")
	v.SetDefault("storage.prefix", "responses/")
	v.SetDefault("storage.local_dir", "./data/responses")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.service_name", "pulling-pipeline")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pulling.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("pulling.http_timeout_seconds must be > 0")
	}
	if c.Sequential.ShardCount <= 0 {
		return fmt.Errorf("sequential.shard_count must be > 0")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
	}
	if c.Storage.Enabled {
		switch c.Storage.Provider {
		case "gcs":
			if c.Storage.GCSBucket == "" {
				return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
			}
		case "local":
			if c.Storage.LocalDir == "" {
				return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
			}
		case "memory":
		default:
			return fmt.Errorf("storage.provider must be one of gcs, local, memory")
		}
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// HTTPTimeout renders the configured HTTP timeout as a Duration.
func (c PullingConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// RescheduleInterval renders the configured reschedule cadence as a
// Duration.
func (c PullingConfig) RescheduleInterval() time.Duration {
	return time.Duration(c.RescheduleMs) * time.Millisecond
}

// StallThreshold renders the configured stall watermark as a Duration.
func (c SequentialConfig) StallThreshold() time.Duration {
	return time.Duration(c.StallThresholdMs) * time.Millisecond
}
