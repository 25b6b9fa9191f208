package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sevensplit-bot-go/internal/backtest"
	"sevensplit-bot-go/internal/config"
	"sevensplit-bot-go/internal/downloader"
	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/logger"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/persistence"
	"sevensplit-bot-go/internal/reporter"
	"sevensplit-bot-go/internal/scheduler"
	"sevensplit-bot-go/internal/service"
	"sevensplit-bot-go/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	strategyPath := flag.String("strategy", "strategy.json", "path to the strategy config file (backtest)")
	dataPath := flag.String("data", "", "path to historical candle CSV (backtest)")
	ticker := flag.String("ticker", "", "market to backtest (e.g., KRW-BTC)")
	startDate := flag.String("start", "", "backtest start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "backtest end date (YYYY-MM-DD)")
	budget := flag.Float64("budget", 1000000, "backtest budget in KRW")
	startIndex := flag.Int("start-index", 30, "candles reserved for signal warm-up")
	flag.Parse()

	// A default logger first, so config loading itself can log.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading keys from the environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("cannot load config file: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := resolveBacktestData(cfg, *ticker, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, *strategyPath, finalDataPath, *budget, *startIndex)
	default:
		logger.S().Fatalf("unknown mode %q, expected 'live' or 'backtest'", *mode)
	}
}

// resolveBacktestData downloads candles when a ticker/date range is given,
// otherwise requires an explicit data path.
func resolveBacktestData(cfg *models.Config, ticker, startDate, endDate, dataPath string) (string, error) {
	if ticker != "" && startDate != "" && endDate != "" {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("bad date format, expected YYYY-MM-DD (start: %v, end: %v)", err1, err2)
		}

		d := downloader.NewCandleDownloader(cfg.APIURL)
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", ticker, startDate, endDate)
		if err := d.DownloadDailyCandles(ticker, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("candle download failed: %w", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("backtest mode needs --data or --ticker/--start/--end")
	}
	return dataPath, nil
}

func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- starting live trading mode ---")

	accessKey := os.Getenv("UPBIT_ACCESS_KEY")
	secretKey := os.Getenv("UPBIT_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		logger.S().Fatal("UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY must be set")
	}

	store, err := persistence.NewBadgerStore(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("cannot open state database: %v", err)
	}
	defer store.Close()

	var archive *storage.Archive
	if cfg.ArchiveDBPath != "" {
		archive, err = storage.Open(cfg.ArchiveDBPath)
		if err != nil {
			logger.S().Fatalf("cannot open trade archive: %v", err)
		}
		defer archive.Close()
	}

	exch := exchange.NewUpbitExchange(accessKey, secretKey, cfg, logger.S())
	defer exch.Close()

	svc, err := service.NewService(exch, store, archive, cfg, logger.S())
	if err != nil {
		logger.S().Fatalf("service init failed: %v", err)
	}

	// Stream everything we will be ticking.
	codes := cfg.Watchlist
	for _, inst := range svc.Instances() {
		codes = appendUnique(codes, inst.Ticker)
	}
	if err := exch.StartTickerStream(codes); err != nil {
		logger.S().Warnf("ticker stream start failed, REST only: %v", err)
	}

	sched := scheduler.NewScheduler(exch, svc, cfg, logger.S())
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sched.Stop()
	logger.S().Info("engine stopped, state persisted")
}

func runBacktestMode(cfg *models.Config, strategyPath, dataPath string, budget float64, startIndex int) {
	logger.S().Info("--- starting backtest mode ---")

	strategyCfg, ticker, err := loadStrategyConfig(strategyPath)
	if err != nil {
		logger.S().Fatalf("cannot load strategy config: %v", err)
	}

	candles, err := loadCandlesCSV(dataPath, ticker)
	if err != nil {
		logger.S().Fatalf("cannot load candle data: %v", err)
	}
	if startIndex >= len(candles) {
		logger.S().Fatalf("start index %d beyond %d candles", startIndex, len(candles))
	}

	runner := &backtest.Runner{ExpandDaily: true, Log: logger.S()}
	result, err := runner.Run(ticker, budget, strategyCfg, candles, startIndex)
	if err != nil {
		logger.S().Fatalf("backtest failed: %v", err)
	}

	reporter.WriteReport(os.Stdout, result, budget)

	if cfg.ArchiveDBPath != "" {
		archive, err := storage.Open(cfg.ArchiveDBPath)
		if err != nil {
			logger.S().Warnf("cannot open trade archive: %v", err)
			return
		}
		defer archive.Close()
		if err := archive.InsertRun(result, strategyCfg); err != nil {
			logger.S().Warnf("cannot record backtest run: %v", err)
		}
	}
}

// loadStrategyConfig reads a strategy config file: the StrategyConfig
// fields plus a "ticker" field.
func loadStrategyConfig(path string) (models.StrategyConfig, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.StrategyConfig{}, "", err
	}
	defer file.Close()

	var wrapper struct {
		Ticker string `json:"ticker"`
		models.StrategyConfig
	}
	if err := json.NewDecoder(file).Decode(&wrapper); err != nil {
		return models.StrategyConfig{}, "", err
	}
	if wrapper.Ticker == "" {
		return models.StrategyConfig{}, "", fmt.Errorf("strategy config needs a ticker")
	}
	return wrapper.StrategyConfig, wrapper.Ticker, nil
}

// loadCandlesCSV reads the downloader's CSV format: timestamp(ms), open,
// high, low, close, volume, header row first.
func loadCandlesCSV(path, ticker string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, fmt.Errorf("candle file %s is empty", path)
	}
	records = records[1:]

	candles := make([]models.Candle, 0, len(records))
	for _, record := range records {
		if len(record) < 6 {
			continue
		}
		ts, errT := strconv.ParseInt(record[0], 10, 64)
		open, errO := strconv.ParseFloat(record[1], 64)
		high, errH := strconv.ParseFloat(record[2], 64)
		low, errL := strconv.ParseFloat(record[3], 64)
		closePrice, errC := strconv.ParseFloat(record[4], 64)
		volume, errV := strconv.ParseFloat(record[5], 64)
		if errT != nil || errO != nil || errH != nil || errL != nil || errC != nil || errV != nil {
			logger.S().Warnf("skipping unparsable candle row: %v", record)
			continue
		}
		candles = append(candles, models.Candle{
			Ticker:    ticker,
			Timestamp: time.UnixMilli(ts),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
