// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration. It is read once at startup and
// immutable afterwards.
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Cache   CacheConfig
	Storage StorageConfig
	Chat    ChatConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string
	MasterKey string
}

// EngineConfig holds the generation engine endpoint and model defaults.
type EngineConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	ContextSize int
	BatchSize   int
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	Enabled  bool
	Backend  string // "memory" or "redis"
	TTL      time.Duration
	RedisURL string
}

// StorageConfig holds session storage configuration.
type StorageConfig struct {
	Type        string // "memory", "sqlite" or "postgresql"
	SQLitePath  string
	PostgresURL string
}

// ChatConfig holds prompt assembly and streaming knobs.
type ChatConfig struct {
	SystemPromptPath   string
	HistoryTokenBudget int
	ReplayPause        time.Duration
}

// MetricsConfig holds Prometheus exposure configuration.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Pretty bool
}

// Load reads configuration from .env file and environment
func Load() (*Config, error) {
	v := viper.New()

	// Load .env file (optional, won't fail if not found)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	// Set defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENGINE_URL", "http://localhost:8081")
	v.SetDefault("MODEL_NAME", "")
	v.SetDefault("MODEL_MAX_TOKENS", 256)
	v.SetDefault("MODEL_TEMPERATURE", 0.7)
	v.SetDefault("MODEL_TOP_P", 0.9)
	v.SetDefault("MODEL_CONTEXT_SIZE", 2048)
	v.SetDefault("MODEL_BATCH_SIZE", 512)
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_TTL_SECONDS", 3600)
	v.SetDefault("STORAGE_TYPE", "memory")
	v.SetDefault("SQLITE_PATH", "pocketllm.db")
	v.SetDefault("HISTORY_TOKEN_BUDGET", 1024)
	v.SetDefault("SYSTEM_PROMPT_PATH", "")
	v.SetDefault("STREAM_REPLAY_PAUSE_MS", 10)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_ENDPOINT", "/metrics")
	v.SetDefault("LOG_PRETTY", false)

	// Enable automatic environment variable reading
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("PORT"),
			MasterKey: v.GetString("MASTER_KEY"),
		},
		Engine: EngineConfig{
			BaseURL:     v.GetString("ENGINE_URL"),
			Model:       v.GetString("MODEL_NAME"),
			MaxTokens:   v.GetInt("MODEL_MAX_TOKENS"),
			Temperature: v.GetFloat64("MODEL_TEMPERATURE"),
			TopP:        v.GetFloat64("MODEL_TOP_P"),
			ContextSize: v.GetInt("MODEL_CONTEXT_SIZE"),
			BatchSize:   v.GetInt("MODEL_BATCH_SIZE"),
		},
		Cache: CacheConfig{
			Enabled:  v.GetBool("CACHE_ENABLED"),
			Backend:  v.GetString("CACHE_BACKEND"),
			TTL:      time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
			RedisURL: v.GetString("REDIS_URL"),
		},
		Storage: StorageConfig{
			Type:        v.GetString("STORAGE_TYPE"),
			SQLitePath:  v.GetString("SQLITE_PATH"),
			PostgresURL: v.GetString("POSTGRES_URL"),
		},
		Chat: ChatConfig{
			SystemPromptPath:   v.GetString("SYSTEM_PROMPT_PATH"),
			HistoryTokenBudget: v.GetInt("HISTORY_TOKEN_BUDGET"),
			ReplayPause:        time.Duration(v.GetInt("STREAM_REPLAY_PAUSE_MS")) * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:  v.GetBool("METRICS_ENABLED"),
			Endpoint: v.GetString("METRICS_ENDPOINT"),
		},
		Log: LogConfig{
			Pretty: v.GetBool("LOG_PRETTY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid cache backend %q, expected memory or redis", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when the cache backend is redis")
	}

	switch c.Storage.Type {
	case "memory", "sqlite", "postgresql":
	default:
		return fmt.Errorf("invalid storage type %q, expected memory, sqlite or postgresql", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when the storage type is sqlite")
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required when the storage type is postgresql")
	}

	if c.Chat.HistoryTokenBudget <= 0 {
		return fmt.Errorf("HISTORY_TOKEN_BUDGET must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	return nil
}
