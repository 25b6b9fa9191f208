package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "https://api.upbit.com", cfg.APIURL)
	assert.Equal(t, "wss://api.upbit.com/websocket/v1", cfg.WSURL)
	assert.Equal(t, "data/sevensplit.db", cfg.DBPath)
	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH", "KRW-SOL"}, cfg.Watchlist)
	assert.Equal(t, 1.0, cfg.TickIntervalSec)
	assert.Equal(t, 1800, cfg.OrderTimeoutSec)
	assert.Equal(t, 1800, cfg.BuyCooldownSec)
	assert.Equal(t, 5000.0, cfg.MinOrderAmount)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 100, cfg.RetryInitialDelayMs)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"db_path": "/tmp/state.db",
		"watchlist": ["KRW-XRP"],
		"tick_interval_sec": 2.5,
		"order_timeout_sec": 600,
		"log": {"level": "debug", "output": "both", "file": "logs/bot.log"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/state.db", cfg.DBPath)
	assert.Equal(t, []string{"KRW-XRP"}, cfg.Watchlist)
	assert.Equal(t, 2.5, cfg.TickIntervalSec)
	assert.Equal(t, 600, cfg.OrderTimeoutSec)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "both", cfg.LogConfig.Output)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigBadJSON(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)
}
