package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every ORDERSYNC_ env var that Load() reads.
var allConfigKeys = []string{
	"ORDERSYNC_CONFIG_FILE",
	"ORDERSYNC_LISTEN_ADDR",
	"ORDERSYNC_DB_PATH",
	"ORDERSYNC_SECRET_KEY",
	"ORDERSYNC_API_BASE_URL",
	"ORDERSYNC_EMAIL",
	"ORDERSYNC_PASSWORD",
	"ORDERSYNC_TIMEZONE_OFFSET",
	"ORDERSYNC_API_RATE_LIMIT",
	"ORDERSYNC_RENEWAL_THRESHOLD_DAYS",
	"ORDERSYNC_MATURATION_OFFSET",
	"ORDERSYNC_CRON_SPEC",
	"ORDERSYNC_CRON_TIMEZONE",
	"ORDERSYNC_QUEUE_BACKEND",
	"ORDERSYNC_REDIS_URL",
	"ORDERSYNC_QUEUE_ATTEMPTS",
	"ORDERSYNC_BACKOFF_BASE",
	"ORDERSYNC_WORKERS",
	"ORDERSYNC_POLL_INTERVAL",
	"ORDERSYNC_STALL_TIMEOUT",
	"ORDERSYNC_ADMIN_JWT_SECRET",
}

// isolateConfigEnv saves and unsets all ORDERSYNC_ env vars so tests don't
// inherit values from the host environment.
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "ordersync.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.RenewalThresholdDays)
	assert.Equal(t, 47*time.Hour+3*time.Minute, cfg.MaturationOffset)
	assert.Equal(t, "0 6 * * *", cfg.CronSpec)
	assert.Equal(t, QueueBackendSQLite, cfg.QueueBackend)
	assert.Equal(t, 3, cfg.QueueAttempts)
	assert.Equal(t, time.Minute, cfg.BackoffBase)
	assert.Equal(t, 2, cfg.Workers)
	assert.False(t, cfg.HasAccountCredentials())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("ORDERSYNC_DB_PATH", "/tmp/test.db")
	t.Setenv("ORDERSYNC_EMAIL", "ops@example.com")
	t.Setenv("ORDERSYNC_PASSWORD", "hunter2")
	t.Setenv("ORDERSYNC_RENEWAL_THRESHOLD_DAYS", "7")
	t.Setenv("ORDERSYNC_MATURATION_OFFSET", "24h3m")
	t.Setenv("ORDERSYNC_WORKERS", "4")
	t.Setenv("ORDERSYNC_API_RATE_LIMIT", "0.5")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.True(t, cfg.HasAccountCredentials())
	assert.Equal(t, 7, cfg.RenewalThresholdDays)
	assert.Equal(t, 24*time.Hour+3*time.Minute, cfg.MaturationOffset)
	assert.Equal(t, 4, cfg.Workers)
	assert.InDelta(t, 0.5, cfg.APIRateLimit, 1e-9)
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_POLL_INTERVAL", "soon")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDERSYNC_POLL_INTERVAL")
}

func TestLoad_InvalidInteger(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_QUEUE_ATTEMPTS", "three")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDERSYNC_QUEUE_ATTEMPTS")
}

func TestLoad_RedisBackendRequiresURL(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_QUEUE_BACKEND", "redis")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("ORDERSYNC_REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
}

func TestLoad_UnknownBackend(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_QUEUE_BACKEND", "kafka")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_ZeroAttemptsRejected(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_QUEUE_ATTEMPTS", "0")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_SecretKey(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_SECRET_KEY", strings.Repeat("ab", 32))

	cfg, err := Load()
	require.NoError(t, err)

	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoad_SecretKeyWrongLength(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_SECRET_KEY", "abcd")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoad_ConfigFileWithEnvPrecedence(t *testing.T) {
	isolateConfigEnv(t)

	path := filepath.Join(t.TempDir(), "ordersync.toml")
	contents := `
listen_addr = "0.0.0.0:7000"
db_path = "/data/file.db"
renewal_threshold_days = 3
maturation_offset = "24h"
backoff_base = "30s"
workers = 6
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("ORDERSYNC_CONFIG_FILE", path)
	t.Setenv("ORDERSYNC_DB_PATH", "/env/wins.db")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.ListenAddr)
	assert.Equal(t, "/env/wins.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.RenewalThresholdDays)
	assert.Equal(t, 24*time.Hour, cfg.MaturationOffset)
	assert.Equal(t, 30*time.Second, cfg.BackoffBase)
	assert.Equal(t, 6, cfg.Workers)
	// Untouched by file or env: default survives.
	assert.Equal(t, "0 6 * * *", cfg.CronSpec)
}

func TestLoad_ConfigFileMissing(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ORDERSYNC_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()

	require.Error(t, err)
}
