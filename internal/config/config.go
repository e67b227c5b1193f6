package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/models"
)

// AppConfig holds all configuration for the digest CLI and server
type AppConfig struct {
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Server   ServerSettings  `yaml:"server"`
	Storage  StorageSettings `yaml:"storage"`
	Redis    RedisSettings   `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// PipelineConfig controls file discovery, date resolution and chunking
type PipelineConfig struct {
	DataDir                  string        `yaml:"data_dir"`
	Pattern                  string        `yaml:"pattern"`
	HoursPerChunk            int           `yaml:"hours_per_chunk"`
	InteractiveHoursPerChunk int           `yaml:"interactive_hours_per_chunk"`
	Policy                   string        `yaml:"policy"`
	MaxGap                   time.Duration `yaml:"max_gap"`
	Date                     string        `yaml:"date"`
	DisableSystemDate        bool          `yaml:"disable_system_date"`
	Workers                  int           `yaml:"workers"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadMB    int           `yaml:"max_upload_mb"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	IndexSize      int           `yaml:"index_size"`
}

// StorageSettings contains SQLite persistence configuration
type StorageSettings struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// RedisSettings contains the stream handoff configuration
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// LoadConfig loads configuration from a YAML file. An empty path loads
// defaults and environment overrides only.
func LoadConfig(path string) (*AppConfig, error) {
	var config AppConfig
	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Pipeline.DataDir == "" {
		ac.Pipeline.DataDir = "./data"
	}
	if ac.Pipeline.Pattern == "" {
		ac.Pipeline.Pattern = "lora_data_*.csv"
	}
	if ac.Pipeline.HoursPerChunk == 0 {
		ac.Pipeline.HoursPerChunk = 24
	}
	if ac.Pipeline.InteractiveHoursPerChunk == 0 {
		ac.Pipeline.InteractiveHoursPerChunk = 4
	}
	if ac.Pipeline.Policy == "" {
		ac.Pipeline.Policy = chunker.PolicyGapWindow
	}
	if ac.Pipeline.MaxGap == 0 {
		ac.Pipeline.MaxGap = chunker.DefaultMaxGap
	}
	if ac.Pipeline.Workers == 0 {
		ac.Pipeline.Workers = 1
	}

	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.MaxUploadMB == 0 {
		ac.Server.MaxUploadMB = 10
	}
	if ac.Server.PingInterval == 0 {
		ac.Server.PingInterval = 30 * time.Second
	}
	if ac.Server.PongTimeout == 0 {
		ac.Server.PongTimeout = 60 * time.Second
	}
	if ac.Server.IndexSize == 0 {
		ac.Server.IndexSize = 5000
	}

	if ac.Storage.DBPath == "" {
		ac.Storage.DBPath = "./data/lora-digest.db"
	}
	if ac.Storage.BatchSize == 0 {
		ac.Storage.BatchSize = 10
	}
	if ac.Storage.FlushPeriod == 0 {
		ac.Storage.FlushPeriod = 5 * time.Second
	}
	if ac.Storage.ChannelSize == 0 {
		ac.Storage.ChannelSize = 100
	}
	if ac.Storage.RetentionDays == 0 {
		ac.Storage.RetentionDays = 90
	}
	if ac.Storage.CleanupPeriod == 0 {
		ac.Storage.CleanupPeriod = 24 * time.Hour
	}

	if ac.Redis.Addr == "" {
		ac.Redis.Addr = "localhost:6379"
	}
	if ac.Redis.Stream == "" {
		ac.Redis.Stream = "lora-digest:chunks"
	}
	if ac.Redis.MaxLen == 0 {
		ac.Redis.MaxLen = 10000
	}

	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Only non-empty variables are applied.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("DIGEST_DATA_DIR"); v != "" {
		ac.Pipeline.DataDir = v
	}
	if v := os.Getenv("DIGEST_PATTERN"); v != "" {
		ac.Pipeline.Pattern = v
	}
	if v := os.Getenv("DIGEST_HOURS_PER_CHUNK"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DIGEST_HOURS_PER_CHUNK %q: %w", v, err)
		}
		ac.Pipeline.HoursPerChunk = hours
	}
	if v := os.Getenv("DIGEST_DATE"); v != "" {
		ac.Pipeline.Date = v
	}
	if v := os.Getenv("DIGEST_POLICY"); v != "" {
		ac.Pipeline.Policy = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		ac.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	p := ac.Pipeline
	if p.HoursPerChunk < 1 || p.InteractiveHoursPerChunk < 1 {
		return fmt.Errorf("hours per chunk must be at least 1")
	}
	if p.Policy != chunker.PolicyGapWindow && p.Policy != chunker.PolicyHourBucket {
		return fmt.Errorf("unknown chunk policy %q", p.Policy)
	}
	if p.Policy == chunker.PolicyHourBucket && (p.HoursPerChunk > 24 || p.InteractiveHoursPerChunk > 24) {
		return fmt.Errorf("hour-bucket chunks cannot exceed 24 hours")
	}
	if p.MaxGap < time.Second {
		return fmt.Errorf("max gap must be at least 1 second")
	}
	if p.Date != "" {
		if _, err := time.Parse(models.DateLayout, p.Date); err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
	}
	if p.Workers < 1 || p.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64")
	}

	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.MaxUploadMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}

	if ac.Storage.Enabled {
		if ac.Storage.BatchSize < 1 {
			return fmt.Errorf("storage batch size must be at least 1")
		}
		if ac.Storage.RetentionDays < 1 {
			return fmt.Errorf("retention days must be at least 1")
		}
	}
	if ac.Redis.Enabled && ac.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if _, err := zerolog.ParseLevel(ac.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q", ac.Logging.Level)
	}
	if ac.Logging.Format != "json" && ac.Logging.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}
	return nil
}

// PipelineWindow returns the batch chunk window.
func (ac *AppConfig) PipelineWindow() time.Duration {
	return time.Duration(ac.Pipeline.HoursPerChunk) * time.Hour
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	redis := ac.Redis
	if redis.Password != "" {
		redis.Password = maskToken(redis.Password)
	}
	return fmt.Sprintf("AppConfig{Pipeline: %+v, Server: %+v, Storage: %+v, Redis: %+v, Logging: %+v}",
		ac.Pipeline,
		server,
		ac.Storage,
		redis,
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
