package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/cooldown"
	"solana-copy-trader/internal/execution"
	"solana-copy-trader/internal/latency"
	"solana-copy-trader/internal/ledger"
	"solana-copy-trader/internal/liquidity"
	"solana-copy-trader/internal/metrics"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/portfolio"
	"solana-copy-trader/internal/slippage"
	"solana-copy-trader/internal/stream"

	"go.uber.org/zap"
)

// State is a monitor's connection state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateRetrying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateStreaming:
		return "Streaming"
	case StateRetrying:
		return "Retrying"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Source is the transaction stream a monitor subscribes through.
type Source interface {
	Run(ctx context.Context, accounts []string, onReady func(), handle stream.Handler) error
}

// Notifier receives operator alerts. Implementations must not block.
type Notifier interface {
	Notify(kind alert.Kind, title string, fields map[string]any) bool
	InsufficientFunds(fields map[string]any) bool
}

// Outcome is the synchronous decision for one event. A false Success is a
// veto with a Reason, never an error.
type Outcome struct {
	Success bool
	Reason  string
}

func skip(reason string) Outcome { return Outcome{Reason: reason} }

// TradeResult is what a spawned buy or sell task resolves to.
type TradeResult struct {
	Side      execution.Side
	Mint      string
	Signature string
	Amount    uint64  // tokens bought or sold, base units
	SOL       float64 // spent or received
	FullExit  bool
	Chunks    int
	Stopped   bool
}

// Shared is the state every monitor in the process shares: the ledger,
// the risk layers, the executor and the buying switch.
type Shared struct {
	Config    *models.Config
	Ledger    *ledger.Store
	Cooldown  *cooldown.Governor
	Liquidity *liquidity.Analyzer
	Latency   *latency.Compensator
	Slippage  *slippage.Tracker
	Portfolio *portfolio.Book
	Executor  execution.Executor
	Alerts    Notifier
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time

	// BookExecutedFills records our own fills into the portfolio from
	// execution results. Set it when own swaps never reach the stream, as
	// with the paper swapper.
	BookExecutedFills bool

	buyingDisabled atomic.Bool
}

// BuyingDisabled reports whether an insufficient-funds failure switched
// buys off.
func (s *Shared) BuyingDisabled() bool { return s.buyingDisabled.Load() }

// DisableBuying switches buys off for the rest of the process. It reports
// whether this call changed the state.
func (s *Shared) DisableBuying(reason string) bool {
	if !s.buyingDisabled.CompareAndSwap(false, true) {
		return false
	}
	s.Metrics.SetBuyingDisabled(true)
	s.Logger.Sugar().Errorf("BUYING DISABLED: %s. Sells continue.", reason)
	return true
}

// EnableBuying switches buys back on.
func (s *Shared) EnableBuying() {
	if s.buyingDisabled.CompareAndSwap(true, false) {
		s.Metrics.SetBuyingDisabled(false)
		s.Logger.Sugar().Info("Buying re-enabled.")
	}
}

func (s *Shared) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Shared) notify(kind alert.Kind, title string, fields map[string]any) {
	if s.Alerts != nil {
		s.Alerts.Notify(kind, title, fields)
	}
}

// AnomalyHook builds the ledger callback for a purchase counter that would
// have gone negative. The ledger has already logged and clamped it.
func AnomalyHook(m *metrics.Metrics, alerts Notifier) func(mint string, remaining int) {
	return func(mint string, remaining int) {
		m.Anomaly("negative_purchase_count")
		if alerts != nil {
			alerts.Notify(alert.KindDataIntegrity, "Negative purchase counter", map[string]any{
				"mint":      mint,
				"remaining": remaining,
			})
		}
	}
}
