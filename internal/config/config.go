package config

import (
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	S3       S3       `yaml:"s3"`
	Inbox    Inbox    `yaml:"inbox"`
	Queue    Queue    `yaml:"queue"`
	Log      Log      `yaml:"log"`
}

// S3 holds S3/MinIO storage configuration for profile avatars
type S3 struct {
	Enabled         bool          `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string        `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string        `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string        `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string        `yaml:"bucket" env:"S3_BUCKET" env-default:"avatars"`
	Region          string        `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	URLExpiry       time.Duration `yaml:"url_expiry" env:"S3_URL_EXPIRY" env-default:"1h"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS" env-separator:"," env-default:"*"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	// Connection pool settings
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Redis holds the shared profile cache and queue broker settings
type Redis struct {
	URL        string        `yaml:"url" env:"REDIS_URL"`
	ProfileTTL time.Duration `yaml:"profile_ttl" env:"REDIS_PROFILE_TTL" env-default:"10m"`
}

// Enabled reports whether a Redis URL is configured
func (r Redis) Enabled() bool {
	return r.URL != ""
}

// Inbox holds aggregation engine settings
type Inbox struct {
	CoalesceWindow     time.Duration `yaml:"coalesce_window" env:"INBOX_COALESCE_WINDOW" env-default:"75ms"`
	ProfileConcurrency int           `yaml:"profile_concurrency" env:"INBOX_PROFILE_CONCURRENCY" env-default:"8"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"INBOX_WRITE_TIMEOUT" env-default:"10s"`
	MinBackoff         time.Duration `yaml:"min_backoff" env:"INBOX_MIN_BACKOFF" env-default:"500ms"`
	MaxBackoff         time.Duration `yaml:"max_backoff" env:"INBOX_MAX_BACKOFF" env-default:"30s"`
	ChannelPrefix      string        `yaml:"channel_prefix" env:"INBOX_CHANNEL_PREFIX" env-default:"inbox_"`
}

// Queue holds background write queue settings
type Queue struct {
	Enabled     bool          `yaml:"enabled" env:"QUEUE_ENABLED" env-default:"false"`
	Concurrency int           `yaml:"concurrency" env:"QUEUE_CONCURRENCY" env-default:"10"`
	MaxRetry    int           `yaml:"max_retry" env:"QUEUE_MAX_RETRY" env-default:"5"`
	Retention   time.Duration `yaml:"retention" env:"QUEUE_RETENTION" env-default:"10m"`
}

// Log holds logging configuration
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps the configured level name to a slog level
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
