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
	Research ResearchConfig `mapstructure:"research"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ResearchConfig governs the analysis pipeline.
type ResearchConfig struct {
	Model              string   `mapstructure:"model"`
	MaxTokens          int      `mapstructure:"max_tokens"`
	Temperature        float64  `mapstructure:"temperature"`
	Categories         []string `mapstructure:"categories"`
	MaxParallel        int      `mapstructure:"max_parallel"`
	PromptPer1K        float64  `mapstructure:"prompt_price_per_1k"`
	CompletionPer1K    float64  `mapstructure:"completion_price_per_1k"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_seconds"`
}

// FetchConfig configures content extraction retry behavior.
type FetchConfig struct {
	MaxAttempts      int      `mapstructure:"max_attempts"`
	BackoffInitialMs int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int      `mapstructure:"backoff_max_ms"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	UserAgents       []string `mapstructure:"user_agents"`
	MaxLinks         int      `mapstructure:"max_links"`
	MaxImages        int      `mapstructure:"max_images"`
	MaxBodyBytes     int      `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects the job and blob store backends.
type StorageConfig struct {
	// JobStore is one of "memory" or "postgres".
	JobStore string `mapstructure:"job_store"`
	// BlobStore is one of "memory", "local", or "gcs".
	BlobStore string `mapstructure:"blob_store"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// OpenAIConfig holds completion-service credentials and limits.
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for terminal-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESEARCH")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("research.model", "gpt-4o-mini")
	v.SetDefault("research.max_tokens", 2048)
	v.SetDefault("research.temperature", 0.2)
	v.SetDefault("research.max_parallel", 5)
	v.SetDefault("research.prompt_price_per_1k", 0.00015)
	v.SetDefault("research.completion_price_per_1k", 0.0006)
	v.SetDefault("research.shutdown_timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 8000)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_links", 100)
	v.SetDefault("fetch.max_images", 50)
	v.SetDefault("fetch.max_body_bytes", 50*1024)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.job_store", "memory")
	v.SetDefault("storage.blob_store", "memory")
	v.SetDefault("storage.prefix", "research")
	v.SetDefault("db.table", "research_jobs")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("openai.timeout_seconds", 120)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Research.MaxParallel <= 0 {
		return fmt.Errorf("research.max_parallel must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.JobStore {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.job_store is postgres")
		}
	default:
		return fmt.Errorf("storage.job_store must be memory or postgres, got %q", c.Storage.JobStore)
	}
	switch c.Storage.BlobStore {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.blob_store is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob_store is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_store must be memory, local, or gcs, got %q", c.Storage.BlobStore)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ServerTimeout converts the configured request timeout to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown of in-flight jobs.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Research.ShutdownTimeoutSec) * time.Second
}
