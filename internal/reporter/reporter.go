// Package reporter renders operator diagnostics as text tables.
package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"solana-copy-trader/internal/blockhash"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/portfolio"
	"solana-copy-trader/internal/scheduler"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// MonitorRow is one watched wallet's stream state.
type MonitorRow struct {
	Wallet     string
	State      string
	Events     uint64
	Reconnects uint64
	LastEvent  time.Time
}

// Status is everything the status dump shows.
type Status struct {
	GeneratedAt    time.Time
	Uptime         time.Duration
	BuyingDisabled bool
	Monitors       []MonitorRow
	Scheduler      scheduler.Status
	Positions      []models.PositionSummary
	Portfolio      []portfolio.Entry
	Blockhash      []blockhash.Status
}

// StrategyRow is the per-mint strategy state shown by the strategy dump.
type StrategyRow struct {
	Mint               string
	ActivityLevel      string
	TradesInWindow     int
	GlobalCooldown     time.Duration
	TokenCooldown      time.Duration
	Volatility         float64
	BuySlippageBps     int
	SellSlippageBps    int
	TotalPurchases     int
	RemainingPurchases int
}

// PnLSummary aggregates portfolio entries.
type PnLSummary struct {
	Spent      float64
	Received   float64
	HeldValue  float64
	Realized   float64
	Unrealized float64
}

// Summarize totals portfolio entries valued at their last seen price.
func Summarize(entries []portfolio.Entry) PnLSummary {
	var s PnLSummary
	for _, e := range entries {
		s.Spent += e.TotalSolSpent
		s.Received += e.TotalSolRecv
		s.HeldValue += e.TotalTokens * e.CurrentPrice
	}
	s.Realized = s.Received - s.Spent
	s.Unrealized = s.Realized + s.HeldValue
	return s
}

// RenderStatus writes the status dump.
func RenderStatus(w io.Writer, st Status) {
	fmt.Fprintf(w, "========== Copy Trader Status %s ==========\n", st.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Uptime: %s\n", st.Uptime.Truncate(time.Second))
	if st.BuyingDisabled {
		fmt.Fprintln(w, text.Colors{text.BgRed, text.FgWhite}.Sprint(" BUYING DISABLED: insufficient funds, sells continue "))
	}

	mt := newTable(w, "Monitors")
	mt.AppendHeader(table.Row{"Wallet", "State", "Events", "Reconnects", "Last Event"})
	for _, m := range st.Monitors {
		mt.AppendRow(table.Row{models.Short(m.Wallet), m.State, m.Events, m.Reconnects, formatTime(m.LastEvent)})
	}
	mt.Render()

	s := st.Scheduler
	fmt.Fprintf(w, "Scheduler: queue=%d active=%d/%d completed=%d failed=%d rejected=%d\n",
		s.QueueLength, s.ActiveWorkers, s.MaxWorkers, s.Completed, s.Failed, s.Rejected)

	RenderPositions(w, st.Positions, nil)

	pt := newTable(w, "Portfolio")
	pt.AppendHeader(table.Row{"Mint", "Buys", "Sells", "Spent SOL", "Recv SOL", "Tokens", "Price", "PnL %"})
	for _, e := range st.Portfolio {
		pnl := 0.0
		if e.AverageBuyPrice > 0 {
			pnl = (e.CurrentPrice - e.AverageBuyPrice) / e.AverageBuyPrice * 100
		}
		pt.AppendRow(table.Row{
			models.Short(e.Mint), e.BuyCount, e.SellCount,
			fmt.Sprintf("%.4f", e.TotalSolSpent), fmt.Sprintf("%.4f", e.TotalSolRecv),
			fmt.Sprintf("%.2f", e.TotalTokens), fmt.Sprintf("%.10f", e.CurrentPrice),
			fmt.Sprintf("%+.2f", pnl),
		})
	}
	sum := Summarize(st.Portfolio)
	pt.AppendFooter(table.Row{"Total", "", "", fmt.Sprintf("%.4f", sum.Spent), fmt.Sprintf("%.4f", sum.Received), "", "", fmt.Sprintf("%+.4f SOL", sum.Unrealized)})
	pt.Render()

	bt := newTable(w, "Blockhash Managers")
	bt.AppendHeader(table.Row{"Endpoint", "Valid", "Age (slots)", "Fallbacks", "Updates", "Success %", "Avg", "Last Error"})
	for _, b := range st.Blockhash {
		bt.AppendRow(table.Row{
			b.Endpoint, b.Valid, b.AgeSlots, b.Fallbacks, b.Stats.TotalUpdates,
			fmt.Sprintf("%.1f", b.Stats.SuccessRate()), b.Stats.AverageUpdateTime.Truncate(time.Microsecond), b.Stats.LastError,
		})
	}
	bt.Render()
}

// RenderPositions writes the position ledger. counts may be nil.
func RenderPositions(w io.Writer, positions []models.PositionSummary, counts map[string]models.TokenPurchaseCount) {
	t := newTable(w, "Position Tracking")
	header := table.Row{"Mint", "Target Wallet", "Amount", "Purchases", "Last Update"}
	if counts != nil {
		header = append(header, "Remaining/Total")
	}
	t.AppendHeader(header)

	sorted := append([]models.PositionSummary(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TokenMint == sorted[j].TokenMint {
			return sorted[i].TargetWallet < sorted[j].TargetWallet
		}
		return sorted[i].TokenMint < sorted[j].TokenMint
	})
	for _, p := range sorted {
		row := table.Row{models.Short(p.TokenMint), models.Short(p.TargetWallet), p.TotalAmount, p.PurchaseCount, formatTime(p.LastUpdate)}
		if counts != nil {
			c := counts[p.TokenMint]
			row = append(row, fmt.Sprintf("%d/%d", c.RemainingPurchases, c.TotalPurchases))
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"Positions", len(sorted)})
	t.Render()
}

// RenderStrategy writes per-mint strategy state.
func RenderStrategy(w io.Writer, rows []StrategyRow) {
	t := newTable(w, "Strategy State")
	t.AppendHeader(table.Row{"Mint", "Activity", "Trades/min", "Global CD", "Token CD", "Volatility", "Buy Slip", "Sell Slip", "Purchases"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			models.Short(r.Mint), strings.ToUpper(r.ActivityLevel), r.TradesInWindow,
			r.GlobalCooldown, r.TokenCooldown, fmt.Sprintf("%.3f", r.Volatility),
			fmt.Sprintf("%d bps", r.BuySlippageBps), fmt.Sprintf("%d bps", r.SellSlippageBps),
			fmt.Sprintf("%d/%d", r.RemainingPurchases, r.TotalPurchases),
		})
	}
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}
