package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"sevensplit-bot-go/internal/models"
)

// Archive is a SQLite side store that keeps completed trades and backtest
// runs beyond the lifetime of the strategies that produced them. The live
// state itself lives in the Badger store; this is retention only.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at dataSourceName.
func Open(dataSourceName string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create archive tables: %w", err)
	}
	return &Archive{db: db}, nil
}

func createTables(db *sql.DB) error {
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		split_id INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		buy_price REAL NOT NULL,
		sell_price REAL NOT NULL,
		volume REAL NOT NULL,
		buy_amount REAL NOT NULL,
		sell_amount REAL NOT NULL,
		total_fee REAL NOT NULL,
		net_profit REAL NOT NULL,
		profit_rate REAL NOT NULL,
		bought_at DATETIME NOT NULL,
		sold_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	createRunsTableSQL := `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		config TEXT NOT NULL,
		trade_count INTEGER NOT NULL,
		realized_profit REAL NOT NULL,
		unrealized_profit REAL NOT NULL,
		final_balance REAL NOT NULL,
		start_time DATETIME,
		end_time DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(createRunsTableSQL); err != nil {
		return err
	}
	return nil
}

// InsertTrades archives a batch of completed trades for one strategy.
func (a *Archive) InsertTrades(strategyID int64, trades []*models.Trade) error {
	query := `
	INSERT INTO trades (strategy_id, split_id, ticker, buy_price, sell_price, volume,
		buy_amount, sell_amount, total_fee, net_profit, profit_rate, bought_at, sold_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, t := range trades {
		_, err := a.db.Exec(query,
			strategyID, t.SplitID, t.Ticker, t.BuyPrice, t.SellPrice, t.Volume,
			t.BuyAmount, t.SellAmount, t.TotalFee, t.NetProfit, t.ProfitRate,
			t.BoughtAt, t.SoldAt,
		)
		if err != nil {
			return fmt.Errorf("failed to archive trade for split %d: %w", t.SplitID, err)
		}
	}
	return nil
}

// ListTrades returns archived trades for a ticker, oldest first.
func (a *Archive) ListTrades(ticker string) ([]*models.Trade, error) {
	query := `
	SELECT split_id, ticker, buy_price, sell_price, volume, buy_amount, sell_amount,
		total_fee, net_profit, profit_rate, bought_at, sold_at
	FROM trades WHERE ticker = ? ORDER BY sold_at ASC`

	rows, err := a.db.Query(query, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(
			&t.SplitID, &t.Ticker, &t.BuyPrice, &t.SellPrice, &t.Volume,
			&t.BuyAmount, &t.SellAmount, &t.TotalFee, &t.NetProfit, &t.ProfitRate,
			&t.BoughtAt, &t.SoldAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.GrossProfit = t.NetProfit + t.TotalFee
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// InsertRun records one backtest run summary together with the config
// that produced it.
func (a *Archive) InsertRun(result *models.SimulationResult, cfg models.StrategyConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO backtest_runs (ticker, config, trade_count, realized_profit,
		unrealized_profit, final_balance, start_time, end_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = a.db.Exec(query,
		result.Ticker, string(cfgJSON), len(result.Trades), result.RealizedProfit,
		result.UnrealizedProfit, result.FinalBalance, result.StartTime, result.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to record backtest run: %w", err)
	}
	return nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}
