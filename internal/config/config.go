// Package config loads application configuration from environment variables,
// optionally layered over a TOML file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Queue backends.
const (
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	// SecretKey is the hex-encoded 32-byte AES key for credentials at rest.
	SecretKey string `toml:"secret_key"`

	APIBaseURL     string  `toml:"api_base_url"`
	Email          string  `toml:"email"`
	Password       string  `toml:"password"`
	TimezoneOffset int     `toml:"timezone_offset"`
	APIRateLimit   float64 `toml:"api_rate_limit"`

	RenewalThresholdDays int           `toml:"renewal_threshold_days"`
	MaturationOffset     time.Duration `toml:"-"`
	CronSpec             string        `toml:"cron_spec"`
	CronTimezone         string        `toml:"cron_timezone"`

	QueueBackend  string        `toml:"queue_backend"`
	RedisURL      string        `toml:"redis_url"`
	QueueAttempts int           `toml:"queue_attempts"`
	BackoffBase   time.Duration `toml:"-"`
	Workers       int           `toml:"workers"`
	PollInterval  time.Duration `toml:"-"`
	StallTimeout  time.Duration `toml:"-"`

	AdminJWTSecret string `toml:"admin_jwt_secret"`
}

// defaults returns a Config populated with default values.
func defaults() Config {
	return Config{
		ListenAddr:           "127.0.0.1:8080",
		DBPath:               "ordersync.db",
		APIBaseURL:           "https://www.simcompanies.com",
		APIRateLimit:         2,
		RenewalThresholdDays: 5,
		MaturationOffset:     47*time.Hour + 3*time.Minute,
		CronSpec:             "0 6 * * *",
		CronTimezone:         "UTC",
		QueueBackend:         QueueBackendSQLite,
		QueueAttempts:        3,
		BackoffBase:          time.Minute,
		Workers:              2,
		PollInterval:         time.Second,
		StallTimeout:         10 * time.Minute,
	}
}

// EncryptionKey decodes SecretKey. It returns nil when no key is configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.SecretKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("ORDERSYNC_SECRET_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ORDERSYNC_SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// HasAccountCredentials returns true when both the account email and password are set.
// Without them the credential renewal handshake cannot run.
func (c *Config) HasAccountCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// Load reads configuration and returns a validated Config. When
// ORDERSYNC_CONFIG_FILE names a TOML file, its values replace the defaults;
// environment variables always take precedence over the file.
func Load() (*Config, error) {
	cfg := defaults()

	if path, ok := os.LookupEnv("ORDERSYNC_CONFIG_FILE"); ok && path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// fileConfig overlays Config with durations as strings, since TOML has no
// duration type.
type fileConfig struct {
	Config
	MaturationOffset string `toml:"maturation_offset"`
	BackoffBase      string `toml:"backoff_base"`
	PollInterval     string `toml:"poll_interval"`
	StallTimeout     string `toml:"stall_timeout"`
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	fc := fileConfig{Config: *cfg}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"maturation_offset", fc.MaturationOffset, &fc.Config.MaturationOffset},
		{"backoff_base", fc.BackoffBase, &fc.Config.BackoffBase},
		{"poll_interval", fc.PollInterval, &fc.Config.PollInterval},
		{"stall_timeout", fc.StallTimeout, &fc.Config.StallTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s has invalid duration %q: %w", path, d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	*cfg = fc.Config
	return nil
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"ORDERSYNC_LISTEN_ADDR", &cfg.ListenAddr},
		{"ORDERSYNC_DB_PATH", &cfg.DBPath},
		{"ORDERSYNC_SECRET_KEY", &cfg.SecretKey},
		{"ORDERSYNC_API_BASE_URL", &cfg.APIBaseURL},
		{"ORDERSYNC_EMAIL", &cfg.Email},
		{"ORDERSYNC_PASSWORD", &cfg.Password},
		{"ORDERSYNC_CRON_SPEC", &cfg.CronSpec},
		{"ORDERSYNC_CRON_TIMEZONE", &cfg.CronTimezone},
		{"ORDERSYNC_QUEUE_BACKEND", &cfg.QueueBackend},
		{"ORDERSYNC_REDIS_URL", &cfg.RedisURL},
		{"ORDERSYNC_ADMIN_JWT_SECRET", &cfg.AdminJWTSecret},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ORDERSYNC_TIMEZONE_OFFSET", &cfg.TimezoneOffset},
		{"ORDERSYNC_RENEWAL_THRESHOLD_DAYS", &cfg.RenewalThresholdDays},
		{"ORDERSYNC_QUEUE_ATTEMPTS", &cfg.QueueAttempts},
		{"ORDERSYNC_WORKERS", &cfg.Workers},
	}
	for _, i := range ints {
		if v, ok := os.LookupEnv(i.key); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s has invalid integer %q: %w", i.key, v, err)
			}
			*i.dst = parsed
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ORDERSYNC_MATURATION_OFFSET", &cfg.MaturationOffset},
		{"ORDERSYNC_BACKOFF_BASE", &cfg.BackoffBase},
		{"ORDERSYNC_POLL_INTERVAL", &cfg.PollInterval},
		{"ORDERSYNC_STALL_TIMEOUT", &cfg.StallTimeout},
	}
	for _, d := range durations {
		if v, ok := os.LookupEnv(d.key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s has invalid duration %q: %w", d.key, v, err)
			}
			*d.dst = parsed
		}
	}

	if v, ok := os.LookupEnv("ORDERSYNC_API_RATE_LIMIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORDERSYNC_API_RATE_LIMIT has invalid number %q: %w", v, err)
		}
		cfg.APIRateLimit = parsed
	}

	return nil
}

func (c *Config) validate() error {
	switch c.QueueBackend {
	case QueueBackendSQLite:
	case QueueBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("ORDERSYNC_REDIS_URL is required when the queue backend is %q", QueueBackendRedis)
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}

	if c.RenewalThresholdDays < 0 {
		return fmt.Errorf("renewal threshold must not be negative, got %d", c.RenewalThresholdDays)
	}
	if c.MaturationOffset <= 0 {
		return fmt.Errorf("maturation offset must be positive, got %s", c.MaturationOffset)
	}
	if c.QueueAttempts < 1 {
		return fmt.Errorf("queue attempts must be at least 1, got %d", c.QueueAttempts)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if _, err := time.LoadLocation(c.CronTimezone); err != nil {
		return fmt.Errorf("ORDERSYNC_CRON_TIMEZONE %q: %w", c.CronTimezone, err)
	}
	if _, err := c.EncryptionKey(); err != nil {
		return err
	}

	return nil
}
