package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "repohawk", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Worker.ScanTimeout)
	assert.Equal(t, 25, cfg.Triage.MaxIterations)
	assert.Equal(t, "https://api.osv.dev", cfg.OSV.BaseURL)
	assert.Equal(t, int64(10<<20), cfg.Scanner.MaxOutputBytes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("WORKER_SCAN_TIMEOUT", "10m")
	t.Setenv("TRIAGE_PROVIDER", "openai")
	t.Setenv("DB_PORT", "5433")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Worker.ScanTimeout)
	assert.Equal(t, "openai", cfg.Triage.Provider)
	assert.Equal(t, 5433, cfg.Database.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("zero concurrency", func(t *testing.T) {
		t.Setenv("WORKER_CONCURRENCY", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "WORKER_CONCURRENCY")
	})

	t.Run("short encryption key", func(t *testing.T) {
		t.Setenv("APP_ENCRYPTION_KEY", "abcd")
		_, err := Load()
		assert.ErrorContains(t, err, "APP_ENCRYPTION_KEY")
	})

	t.Run("passphrase without salt", func(t *testing.T) {
		t.Setenv("APP_ENCRYPTION_PASSPHRASE", "correct horse battery staple")
		_, err := Load()
		assert.ErrorContains(t, err, "APP_ENCRYPTION_SALT")
	})
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_PASSWORD", "real-password")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "whsec")

	t.Run("requires encryption material", func(t *testing.T) {
		_, err := Load()
		assert.ErrorContains(t, err, "APP_ENCRYPTION_KEY")
	})

	t.Run("passes with key set", func(t *testing.T) {
		t.Setenv("APP_ENCRYPTION_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})
}

func TestConnectionStrings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.Database.DSN(), "host=localhost")
	assert.Contains(t, cfg.Database.DSN(), "dbname=repohawk")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}
