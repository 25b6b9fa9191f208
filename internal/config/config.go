package config

import (
	"encoding/json"
	"os"

	"sevensplit-bot-go/internal/models"
)

// LoadConfig reads the JSON config file at path into a Config struct and
// fills in defaults for omitted fields.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.upbit.com"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "wss://api.upbit.com/websocket/v1"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/sevensplit.db"
	}
	if len(cfg.Watchlist) == 0 {
		cfg.Watchlist = []string{"KRW-BTC", "KRW-ETH", "KRW-SOL"}
	}
	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 1.0
	}
	if cfg.AccountsRefreshSec <= 0 {
		cfg.AccountsRefreshSec = 10.0
	}
	if cfg.CandleRefreshSec <= 0 {
		cfg.CandleRefreshSec = 30.0
	}
	if cfg.OrderTimeoutSec <= 0 {
		cfg.OrderTimeoutSec = 1800
	}
	if cfg.BuyCooldownSec <= 0 {
		cfg.BuyCooldownSec = 1800
	}
	if cfg.MinOrderAmount <= 0 {
		cfg.MinOrderAmount = 5000
	}
	if cfg.WebSocketPingSec <= 0 {
		cfg.WebSocketPingSec = 60
	}
	if cfg.WebSocketPriceMaxAge <= 0 {
		cfg.WebSocketPriceMaxAge = 3.0
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInitialDelayMs <= 0 {
		cfg.RetryInitialDelayMs = 100
	}
}
