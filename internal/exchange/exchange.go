package exchange

import (
	"errors"
	"time"

	"sevensplit-bot-go/internal/models"
)

// Typed failures the decision and reconciliation layers branch on.
// Everything else is treated as a transient external failure.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderNotFound     = errors.New("order not found")
	ErrRateLimited       = errors.New("rate limited")
)

// Client is the common interface over the live exchange and the
// deterministic backtest double. The strategy engine only ever talks to
// this interface.
type Client interface {
	CurrentPrice(ticker string) (float64, error)
	CurrentPrices(tickers []string) (map[string]float64, error)
	Accounts() ([]models.Account, error)
	// Candles returns up to count bars for the interval ("minutes/5",
	// "days", ...), oldest first.
	Candles(ticker, interval string, count int) ([]models.Candle, error)
	OpenOrders(ticker string) ([]models.Order, error)

	PlaceLimitBuy(ticker string, price, volume float64) (*models.Order, error)
	PlaceLimitSell(ticker string, price, volume float64) (*models.Order, error)
	// PlaceMarketBuy spends the given quote amount at the current price.
	PlaceMarketBuy(ticker string, amount float64) (*models.Order, error)
	PlaceMarketSell(ticker string, volume float64) (*models.Order, error)
	OrderStatus(uuid string) (*models.Order, error)
	Cancel(uuid string) error

	NormalizePrice(price float64) float64
	TickSize(price float64) float64

	// Now is the exchange's notion of current time. The backtest double
	// returns the replayed candle's timestamp so elapsed-time logic stays
	// deterministic.
	Now() time.Time
}
