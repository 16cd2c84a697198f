package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackedEnv = []string{
	"LEDGERLINK_APP_NAME",
	"LEDGERLINK_APP_ENV",
	"LEDGERLINK_APP_PORT",
	"LEDGERLINK_DATABASE_HOST",
	"LEDGERLINK_DATABASE_PORT",
	"LEDGERLINK_DATABASE_PASSWORD",
	"LEDGERLINK_DATABASE_SSLMODE",
	"LEDGERLINK_DATABASE_MAX_OPEN_CONNS",
	"LEDGERLINK_DATABASE_MAX_IDLE_CONNS",
	"LEDGERLINK_DOCUMENT_STORE_DBNAME",
	"LEDGERLINK_DOCUMENT_STORE_SSLMODE",
	"LEDGERLINK_POOL_STRUCTURED_MIN_SIZE",
	"LEDGERLINK_POOL_STRUCTURED_MAX_SIZE",
	"LEDGERLINK_POOL_CACHE_ACQUIRE_TIMEOUT",
	"LEDGERLINK_PIPELINE_CONFIDENCE_THRESHOLD",
	"LEDGERLINK_CACHE_BACKEND",
	"LEDGERLINK_STORAGE_BACKEND",
	"LEDGERLINK_STORAGE_BUCKET",
	"LEDGERLINK_EVENTS_BACKEND",
	"LEDGERLINK_EVENTS_PROJECT_ID",
	"LEDGERLINK_RECONCILIATION_ENABLED",
	"LEDGERLINK_RECONCILIATION_AUDIT_INTERVAL",
	"LEDGERLINK_USAGE_MAX_KEYS",
}

// isolateEnv clears the tracked variables and restores them after the test.
func isolateEnv(t *testing.T) func() {
	t.Helper()
	original := make(map[string]string, len(trackedEnv))
	for _, k := range trackedEnv {
		original[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for k, v := range original {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
	return func() {
		for _, k := range trackedEnv {
			os.Unsetenv(k)
		}
		os.Setenv("LEDGERLINK_PIPELINE_CONFIDENCE_THRESHOLD", "0.8")
	}
}

func TestLoad(t *testing.T) {
	reset := isolateEnv(t)

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		reset()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "ledgerlink", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "ledgerlink", cfg.Database.DBName)
		assert.Equal(t, "ledgerlink_documents", cfg.DocumentStore.DBName)
		assert.Equal(t, 25, cfg.Pool.Structured.MaxSize)
		assert.Equal(t, 2*time.Second, cfg.Pool.Document.AcquireTimeout)
		assert.Equal(t, 45*time.Minute, cfg.Cache.DefaultTTL)
		assert.Equal(t, 10000, cfg.Usage.MaxKeys)
		assert.Equal(t, 5*time.Minute, cfg.Usage.SweepInterval)
		assert.Equal(t, 0.8, cfg.Pipeline.ConfidenceThreshold)
		assert.Equal(t, "none", cfg.Storage.Backend)
		assert.Equal(t, "memory", cfg.Events.Backend)
		assert.Zero(t, cfg.Reconciliation.AuditInterval)
	})

	t.Run("loads values from environment variables with LEDGERLINK prefix", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_APP_NAME", "test-app")
		os.Setenv("LEDGERLINK_APP_PORT", "9000")
		os.Setenv("LEDGERLINK_DATABASE_HOST", "testdb.local")
		os.Setenv("LEDGERLINK_DATABASE_PORT", "5433")
		os.Setenv("LEDGERLINK_DOCUMENT_STORE_DBNAME", "docs")
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MIN_SIZE", "2")
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MAX_SIZE", "10")
		os.Setenv("LEDGERLINK_POOL_CACHE_ACQUIRE_TIMEOUT", "750ms")
		os.Setenv("LEDGERLINK_PIPELINE_CONFIDENCE_THRESHOLD", "0.9")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "docs", cfg.DocumentStore.DBName)
		assert.Equal(t, 2, cfg.Pool.Structured.MinSize)
		assert.Equal(t, 10, cfg.Pool.Structured.MaxSize)
		assert.Equal(t, 750*time.Millisecond, cfg.Pool.Cache.AcquireTimeout)
		assert.Equal(t, 0.9, cfg.Pipeline.ConfidenceThreshold)
	})

	t.Run("requires confidence threshold", func(t *testing.T) {
		reset()
		os.Unsetenv("LEDGERLINK_PIPELINE_CONFIDENCE_THRESHOLD")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline.confidence_threshold")
	})

	t.Run("rejects confidence threshold above one", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_PIPELINE_CONFIDENCE_THRESHOLD", "1.5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline.confidence_threshold")
	})

	t.Run("validates pool min size cannot exceed max size", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MIN_SIZE", "8")
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MAX_SIZE", "4")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool.structured.min_size")
	})

	t.Run("validates pool cannot exceed database connections", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_DATABASE_MAX_OPEN_CONNS", "5")
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MAX_SIZE", "10")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool.structured.max_size")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("LEDGERLINK_DATABASE_MAX_IDLE_CONNS", "20")
		os.Setenv("LEDGERLINK_POOL_STRUCTURED_MAX_SIZE", "10")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("requires audit interval when reconciliation enabled", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_RECONCILIATION_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconciliation.audit_interval")

		os.Setenv("LEDGERLINK_RECONCILIATION_AUDIT_INTERVAL", "10m")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, cfg.Reconciliation.AuditInterval)
	})

	t.Run("requires bucket for object storage", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_STORAGE_BACKEND", "s3")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.bucket")
	})

	t.Run("requires project for pubsub", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_EVENTS_BACKEND", "pubsub")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "events.project_id")
	})

	t.Run("rejects unknown cache backend", func(t *testing.T) {
		reset()
		os.Setenv("LEDGERLINK_CACHE_BACKEND", "memcached")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.backend")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	reset := isolateEnv(t)

	setValidProductionBase := func() {
		reset()
		os.Setenv("LEDGERLINK_APP_ENV", "production")
		os.Setenv("LEDGERLINK_DATABASE_PASSWORD", "secure-password")
		os.Setenv("LEDGERLINK_DATABASE_SSLMODE", "require")
		os.Setenv("LEDGERLINK_DOCUMENT_STORE_SSLMODE", "require")
	}

	t.Run("requires database.password in production", func(t *testing.T) {
		setValidProductionBase()
		os.Unsetenv("LEDGERLINK_DATABASE_PASSWORD")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password is required in production")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		setValidProductionBase()
		os.Setenv("LEDGERLINK_DOCUMENT_STORE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "document_store.sslmode cannot be 'disable' in production")
	})

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase()

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}
