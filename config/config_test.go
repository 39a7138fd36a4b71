package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
engine:
  tick_seconds: 5
  config_refresh_seconds: 120
  min_merge_size: 2.5
api:
  clob_base: "https://clob.example.com"
sheets:
  base_url: "https://docs.google.com/spreadsheets/d/test"
storage:
  dsn: ":memory:"
log:
  level: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	t.Setenv("POLYMARKET_PRIVATE_KEY", "deadbeef")

	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.TickInterval())
	assert.Equal(t, 2*time.Minute, cfg.ConfigRefreshInterval())
	assert.Equal(t, 2.5, cfg.Engine.MinMergeSize)
	assert.Equal(t, "https://clob.example.com", cfg.API.CLOBBase)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Lo no especificado cae a defaults sensatos.
	assert.Equal(t, time.Minute, cfg.SummaryInterval())
	assert.Equal(t, 30*time.Second, cfg.StaleBookAge())
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "https://polygon-rpc.com", cfg.API.RPCURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POLYMARKET_PRIVATE_KEY", "deadbeef")
	t.Setenv("SHEETS_BASE_URL", "https://docs.google.com/spreadsheets/d/override")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, "deadbeef", cfg.PrivateKey)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/override", cfg.Sheets.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingPrivateKeyFails(t *testing.T) {
	t.Setenv("POLYMARKET_PRIVATE_KEY", "")

	_, err := Load(writeConfig(t, testYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLYMARKET_PRIVATE_KEY")
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
