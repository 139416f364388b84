package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 30*time.Second, cfg.Ledger.LockTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "ledger.transaction", cfg.Kafka.Topic.TransactionEvents)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: sqlite
  path: /tmp/ledger.db
ledger:
  currency: EUR
  summary_cache_ttl: 1m
`)
	t.Setenv("REVLEDGER_SERVER_PORT", "9100")
	t.Setenv("REVLEDGER_EVENTS_KAFKA", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, "EUR", cfg.Ledger.Currency)
	assert.Equal(t, time.Minute, cfg.Ledger.SummaryCacheTTL)
	assert.True(t, cfg.Events.Kafka)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateCollectsProblems(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
  worker_id: 2048
database:
  driver: postgres
ledger:
  currency: DOLLARS
  main_account_name: " "
jobs:
  outbox_batch_size: 0
  reconcile_interval: 0s
`)
	_, err := Load(path)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "database.driver")
	assert.Contains(t, msg, "ledger.currency")
	assert.Contains(t, msg, "main_account_name")
	assert.Contains(t, msg, "server.worker_id")
	assert.Contains(t, msg, "jobs.outbox_batch_size")
	assert.Contains(t, msg, "jobs.reconcile_interval")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("whatever"))
}
