package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, StoreRedis, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, 10, cfg.DeleteMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.DeleteMaxEventAge)
	assert.Equal(t, 8, cfg.DeleteMaxDepth)
	assert.False(t, cfg.EncryptionEnabled)
	assert.Empty(t, cfg.MinioEndpoint)
	assert.Equal(t, time.UTC, cfg.ResetTimezone)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("ENCRYPTION_ENABLED", "true")
	t.Setenv("TX_MAX_ATTEMPTS", "9")
	t.Setenv("DELETE_MAX_EVENT_AGE", "2m")
	t.Setenv("RESET_SCHEDULE", "  ")
	t.Setenv("RESET_TIMEZONE", "Europe/Warsaw")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.True(t, cfg.EncryptionEnabled)
	assert.Equal(t, 9, cfg.TxMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.DeleteMaxEventAge)
	assert.Empty(t, cfg.ResetSchedule)
	assert.Equal(t, "Europe/Warsaw", cfg.ResetTimezone.String())
}

func TestLoadLayersConfigFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_addr: \":9000\"\nminio_bucket: avatars\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MINIO_BUCKET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "from-env", cfg.MinioBucket)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("TX_MAX_ATTEMPTS", "0")
	t.Setenv("RESET_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESET_TIMEZONE")
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "TX_MAX_ATTEMPTS")
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
