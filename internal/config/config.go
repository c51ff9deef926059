package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type Config struct {
	HTTPAddr string
	LogLevel string

	YouTubeAPIKey  string
	YouTubeBaseURL string
	MaxRetries     int
	RetryBaseDelay time.Duration
	ReplyGap       int

	StoreDriver string
	SQLitePath  string
	Database    Database

	AMQPServerURL string
	QueueName     string

	JobTimeout      time.Duration
	JobTTL          time.Duration
	DefaultMaxPages int
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		HTTPAddr:       env("HTTP_ADDR", ":9988"),
		LogLevel:       env("LOG_LEVEL", "info"),
		YouTubeAPIKey:  os.Getenv("YOUTUBE_API_KEY"),
		YouTubeBaseURL: os.Getenv("YOUTUBE_API_BASE_URL"),
		StoreDriver:    env("STORE_DRIVER", StoreMemory),
		SQLitePath:     env("SQLITE_PATH", "mentions.db"),
		Database: Database{
			Host:     os.Getenv("HOST"),
			Port:     env("DBPORT", "5432"),
			User:     os.Getenv("USERNAME"),
			Password: os.Getenv("PASSWORD"),
			Name:     os.Getenv("DBNAME"),
		},
		AMQPServerURL: os.Getenv("AMQP_SERVER_URL"),
		QueueName:     env("QUEUE_NAME", "crawler"),
	}

	var err error
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.ReplyGap, err = intEnv("REPLY_GAP_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.DefaultMaxPages, err = intEnv("DEFAULT_MAX_PAGES", 5); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = durationEnv("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = durationEnv("JOB_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JobTTL, err = durationEnv("JOB_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.YouTubeAPIKey == "" {
		errs = append(errs, errors.New("YOUTUBE_API_KEY is required"))
	}
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("HOST and DBNAME are required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.AMQPServerURL != "" && c.StoreDriver == StoreMemory {
		errs = append(errs, errors.New("AMQP dispatch needs a shared store, set STORE_DRIVER"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if c.ReplyGap < 0 {
		errs = append(errs, errors.New("REPLY_GAP_THRESHOLD must not be negative"))
	}
	if c.DefaultMaxPages < 0 {
		errs = append(errs, errors.New("DEFAULT_MAX_PAGES must not be negative"))
	}
	return errors.Join(errs...)
}

// DSN is the postgres connection string in the form the crawler has always used.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable password=%s port=%s TimeZone=Asia/Seoul",
		d.Host, d.User, d.Name, d.Password, d.Port)
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// NewLogger returns the process logger at LOG_LEVEL, falling back to info.
func (c *Config) NewLogger(component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("component", component).Logger()
}
