package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Relay     RelayConfig     `mapstructure:"relay"`
	State     StateConfig     `mapstructure:"state"`
	Redis     RedisConfig     `mapstructure:"redis"`
	History   HistoryConfig   `mapstructure:"history"`
	FileStore FileStoreConfig `mapstructure:"filestore"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AccessLog       bool          `mapstructure:"access_log"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// CaptureConfig bounds how long a capture request may sit in each stage.
type CaptureConfig struct {
	AckDeadline     time.Duration `mapstructure:"ack_deadline"`
	PublishDeadline time.Duration `mapstructure:"publish_deadline"`
	RetainFor       time.Duration `mapstructure:"retain_for"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type RelayConfig struct {
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	CompletionGrace time.Duration `mapstructure:"completion_grace"`
}

// StateConfig selects where the sequence ledger and the latest artifact live.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // memory | redis
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type HistoryConfig struct {
	Driver     string         `mapstructure:"driver"` // none | sqlite | postgres
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type FileStoreConfig struct {
	BasePath         string        `mapstructure:"base_path"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	AllowedMimeTypes []string      `mapstructure:"allowed_mime_types"`
	Retention        time.Duration `mapstructure:"retention"`
}

type AnalyzerConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AutoAnalyze bool          `mapstructure:"auto_analyze"`
}

// Load initializes configuration from environment variables and config file
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("METERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Load config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.access_log", false)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Capture protocol defaults
	v.SetDefault("capture.ack_deadline", "15s")
	v.SetDefault("capture.publish_deadline", "25s")
	v.SetDefault("capture.retain_for", "2m")
	v.SetDefault("capture.sweep_interval", "1s")

	// Relay defaults
	v.SetDefault("relay.min_duration", "2s")
	v.SetDefault("relay.max_duration", "6s")
	v.SetDefault("relay.completion_grace", "15s")

	v.SetDefault("state.backend", "memory")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "meterhub")

	// History defaults
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.sqlite_path", "./data/history.db")
	v.SetDefault("history.postgres.port", 5432)
	v.SetDefault("history.postgres.sslmode", "disable")

	// FileStore defaults
	v.SetDefault("filestore.base_path", "./uploads")
	v.SetDefault("filestore.max_file_size", 10*1024*1024) // 10MB
	v.SetDefault("filestore.allowed_mime_types", []string{"image/jpeg", "image/png", "image/webp"})
	v.SetDefault("filestore.retention", "168h")

	// Analyzer defaults
	v.SetDefault("analyzer.model", "gpt-4o-mini")
	v.SetDefault("analyzer.base_url", "https://api.openai.com/v1")
	v.SetDefault("analyzer.timeout", "60s")
	v.SetDefault("analyzer.auto_analyze", false)
}

func validateConfig(config *Config) error {
	if config.Capture.AckDeadline <= 0 || config.Capture.PublishDeadline <= 0 {
		return fmt.Errorf("capture deadlines must be positive")
	}
	if config.Capture.SweepInterval <= 0 {
		return fmt.Errorf("capture sweep interval must be positive")
	}
	if config.Relay.MinDuration <= 0 || config.Relay.MaxDuration < config.Relay.MinDuration {
		return fmt.Errorf("relay durations must satisfy 0 < min_duration <= max_duration")
	}
	switch config.State.Backend {
	case "memory":
	case "redis":
		if config.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", config.State.Backend)
	}
	switch config.History.Driver {
	case "none":
	case "sqlite":
		if config.History.SQLitePath == "" {
			return fmt.Errorf("history sqlite_path is required")
		}
	case "postgres":
		if config.History.Postgres.Host == "" {
			return fmt.Errorf("history postgres host is required")
		}
	default:
		return fmt.Errorf("unknown history driver %q", config.History.Driver)
	}
	if config.FileStore.BasePath == "" {
		return fmt.Errorf("filestore base_path is required")
	}
	if config.FileStore.MaxFileSize <= 0 {
		return fmt.Errorf("filestore max_file_size must be positive")
	}
	return nil
}
