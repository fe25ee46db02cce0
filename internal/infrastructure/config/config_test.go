package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetPackrEnv clears every PACKR_ variable for the duration of the test.
func unsetPackrEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PACKR_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		unsetPackrEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "packr-sync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "packr", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	})

	t.Run("applies sync tier defaults", func(t *testing.T) {
		unsetPackrEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.True(t, cfg.Sync.Enabled)
		assert.True(t, cfg.Sync.NearRealTime.Enabled)
		assert.Equal(t, 5*time.Minute, cfg.Sync.NearRealTime.Cadence)
		assert.Equal(t, 30*time.Minute, cfg.Sync.NearRealTime.Lookback)
		assert.Equal(t, 30*time.Minute, cfg.Sync.Medium.Cadence)
		assert.Equal(t, 2*time.Hour, cfg.Sync.Medium.Lookback)
		assert.Equal(t, 2*time.Hour, cfg.Sync.Low.Cadence)
		assert.Equal(t, 24*time.Hour, cfg.Sync.Full.Cadence)
		assert.Equal(t, 30*24*time.Hour, cfg.Sync.Full.Lookback)
		assert.True(t, cfg.Sync.Full.FixedWindow)
		assert.False(t, cfg.Sync.NearRealTime.FixedWindow)
		assert.Equal(t, 2, cfg.Sync.Medium.Concurrency)
		assert.Equal(t, 2*time.Minute, cfg.Sync.RetryInterval)
		assert.Equal(t, 60*time.Minute, cfg.Sync.StaleRunningAfter)
		assert.Equal(t, 24*time.Hour, cfg.Sync.ManualLookback)
	})

	t.Run("applies source and webhook defaults", func(t *testing.T) {
		unsetPackrEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "generic_rest", cfg.Source.Vendor)
		assert.Equal(t, 500, cfg.Source.MaxPages)
		assert.Equal(t, []int{1000}, cfg.Source.TruncationCaps)
		assert.Equal(t, 5, cfg.Source.RetryMaxAttempts)
		assert.Equal(t, "X-WMS-Signature", cfg.Webhook.SignatureHeader)
		assert.Equal(t, int64(1<<20), cfg.Webhook.MaxBodySize)
		assert.Equal(t, 6.0, cfg.HTTP.ManualSyncPerMinute)
		assert.Equal(t, 3, cfg.HTTP.ManualSyncBurst)
	})

	t.Run("loads values from environment variables with PACKR prefix", func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_APP_PORT", "9000")
		t.Setenv("PACKR_DATABASE_HOST", "testdb.local")
		t.Setenv("PACKR_REDIS_ENABLED", "true")
		t.Setenv("PACKR_SOURCE_BASE_URL", "https://wms.example.com")
		t.Setenv("PACKR_WEBHOOK_SECRET", "shh")
		t.Setenv("PACKR_SYNC_NEAR_REAL_TIME_CADENCE", "10m")
		t.Setenv("PACKR_SYNC_MEDIUM_ENABLED", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "https://wms.example.com", cfg.Source.BaseURL)
		assert.Equal(t, "shh", cfg.Webhook.Secret)
		assert.Equal(t, 10*time.Minute, cfg.Sync.NearRealTime.Cadence)
		assert.False(t, cfg.Sync.Medium.Enabled)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("PACKR_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("rejects tier concurrency above pool bound", func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_SYNC_FULL_CONCURRENCY", "8")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.full.concurrency")
	})

	t.Run("rejects invalid jitter", func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_SYNC_JITTER", "1.5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.jitter")
	})

	t.Run("rejects malformed source base url", func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_SOURCE_BASE_URL", "not a url")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "source.base_url")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		unsetPackrEnv(t)
		t.Setenv("PACKR_APP_ENV", "production")
		t.Setenv("PACKR_DATABASE_PASSWORD", "secure-password")
		t.Setenv("PACKR_DATABASE_SSLMODE", "require")
		t.Setenv("PACKR_WEBHOOK_SECRET", "webhook-secret")
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	t.Run("requires webhook secret in production", func(t *testing.T) {
		setValidProductionBase(t)
		os.Unsetenv("PACKR_WEBHOOK_SECRET")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook.secret is required in production")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("PACKR_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.sslmode cannot be 'disable' in production")
	})

	t.Run("rejects full SQL logging in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("PACKR_TELEMETRY_DB_LOG_FULL_SQL", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db_log_full_sql")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "pass%40word%23123")
		assert.Contains(t, dsn, "sslmode=disable")
	})
}
