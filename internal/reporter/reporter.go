package reporter

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"sevensplit-bot-go/internal/models"
)

// maxTradeRows bounds the per-trade table; long runs get a summary row.
const maxTradeRows = 50

// WriteReport renders a backtest result to w: a run summary followed by
// the most recent completed trades.
func WriteReport(w io.Writer, result *models.SimulationResult, budget float64) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("Backtest Result: %s", result.Ticker)
	summary.AppendRows([]table.Row{
		{"Period", fmt.Sprintf("%s ~ %s", result.StartTime.Format("2006-01-02 15:04"), result.EndTime.Format("2006-01-02 15:04"))},
		{"Candles", result.CandleCount},
		{"Initial Budget", fmt.Sprintf("%.0f KRW", budget)},
		{"Final Balance", fmt.Sprintf("%.0f KRW", result.FinalBalance)},
		{"Realized Profit", fmt.Sprintf("%.0f KRW", result.RealizedProfit)},
		{"Unrealized Profit", fmt.Sprintf("%.0f KRW", result.UnrealizedProfit)},
		{"Return", fmt.Sprintf("%.2f%%", (result.FinalBalance-budget)/budget*100)},
		{"Completed Trades", len(result.Trades)},
		{"Open Splits", result.OpenSplits},
		{"Final Price", fmt.Sprintf("%.2f", result.FinalPrice)},
	})
	summary.Render()

	if len(result.Trades) == 0 {
		return
	}

	trades := table.NewWriter()
	trades.SetOutputMirror(w)
	trades.SetTitle("Trades")
	trades.AppendHeader(table.Row{"#", "Bought", "Sold", "Buy", "Sell", "Net Profit", "Rate"})

	rows := result.Trades
	if len(rows) > maxTradeRows {
		trades.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("(%d earlier trades omitted)", len(rows)-maxTradeRows), ""})
		rows = rows[len(rows)-maxTradeRows:]
	}
	for i, t := range rows {
		trades.AppendRow(table.Row{
			i + 1,
			t.BoughtAt.Format("01-02 15:04"),
			t.SoldAt.Format("01-02 15:04"),
			fmt.Sprintf("%.2f", t.BuyPrice),
			fmt.Sprintf("%.2f", t.SellPrice),
			fmt.Sprintf("%.0f", t.NetProfit),
			fmt.Sprintf("%.2f%%", t.ProfitRate),
		})
	}
	trades.Render()
}
