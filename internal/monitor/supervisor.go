package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/blockhash"
	"solana-copy-trader/internal/execution"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/reporter"
	"solana-copy-trader/internal/scheduler"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrBalanceBelowLimit is returned by CheckBalance when the controlled
// wallet holds less SOL than the configured floor.
var ErrBalanceBelowLimit = errors.New("wallet balance below limit")

const (
	statusInterval = 60 * time.Second
	gaugeInterval  = 5 * time.Second
	defaultSweep   = 10 * time.Minute
	defaultCleanup = 5 * time.Minute
)

// Supervisor runs a set of monitors plus the background upkeep loops they
// depend on.
type Supervisor struct {
	shared    *Shared
	monitors  []*Monitor
	blockhash *blockhash.Registry
	out       io.Writer
	logger    *zap.Logger
	started   time.Time
}

// NewSupervisor groups monitors. registry may be nil; out receives the
// signal-triggered dumps.
func NewSupervisor(shared *Shared, monitors []*Monitor, registry *blockhash.Registry, out io.Writer, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		shared:    shared,
		monitors:  monitors,
		blockhash: registry,
		out:       out,
		logger:    logger,
		started:   shared.now(),
	}
}

// Monitors returns the supervised monitors.
func (s *Supervisor) Monitors() []*Monitor { return s.monitors }

// CheckBalance verifies the controlled wallet can fund trading.
func (s *Supervisor) CheckBalance(ctx context.Context, holdings execution.Holdings) error {
	lamports, err := holdings.SOLBalance(ctx)
	if err != nil {
		return fmt.Errorf("read wallet balance: %w", err)
	}
	balance := models.LamportsToSOL(lamports)
	limit := s.shared.Config.LimitBalance
	if balance < limit {
		if s.shared.Alerts != nil {
			s.shared.Alerts.InsufficientFunds(map[string]any{"balance": balance, "limit": limit})
		}
		return fmt.Errorf("%w: %.4f SOL < %.4f SOL", ErrBalanceBelowLimit, balance, limit)
	}
	s.logger.Sugar().Infof("Supervisor: wallet balance %.4f SOL (limit %.4f SOL)", balance, limit)
	s.shared.notify(alert.KindBalance, "Wallet balance", map[string]any{"balance": balance, "limit": limit})
	return nil
}

// Run starts every monitor and the upkeep loops, then blocks until ctx
// ends. Monitors are stopped before it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, m := range s.monitors {
		if err := m.Start(ctx); err != nil {
			s.stopMonitors()
			return fmt.Errorf("start monitor %s: %w", models.Short(m.Wallet()), err)
		}
	}
	s.logger.Sugar().Infof("Supervisor: %d monitor(s) running", len(s.monitors))

	cfg := s.shared.Config
	sweep := time.Duration(cfg.Ledger.SweepIntervalMin) * time.Minute
	if sweep <= 0 {
		sweep = defaultSweep
	}
	cleanup := models.Sec(cfg.Slippage.CleanupIntervalSec)
	if cleanup <= 0 {
		cleanup = defaultCleanup
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.shared.Ledger.RunSweeper(gctx, sweep)
		return nil
	})
	g.Go(func() error {
		s.shared.Slippage.RunCleanup(gctx, cleanup)
		return nil
	})
	g.Go(func() error {
		every(gctx, statusInterval, s.logStatus)
		return nil
	})
	g.Go(func() error {
		every(gctx, gaugeInterval, s.RefreshGauges)
		return nil
	})

	err := g.Wait()
	s.stopMonitors()
	return err
}

func (s *Supervisor) stopMonitors() {
	for _, m := range s.monitors {
		m.Stop()
	}
}

func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// RefreshGauges pushes point-in-time values into the metrics registry.
func (s *Supervisor) RefreshGauges() {
	sh := s.shared
	sh.Metrics.SetOpenPositions(len(sh.Ledger.AllPositions()))
	sh.Metrics.SetBuyingDisabled(sh.BuyingDisabled())
	st := s.schedulerStatus()
	sh.Metrics.SetScheduler(st.QueueLength, st.ActiveWorkers)
	if s.blockhash != nil {
		var oldest time.Duration
		for _, b := range s.blockhash.Statuses() {
			if b.LastUpdate.IsZero() {
				continue
			}
			if age := sh.now().Sub(b.LastUpdate); age > oldest {
				oldest = age
			}
		}
		sh.Metrics.SetBlockhashAge(oldest)
	}
}

func (s *Supervisor) schedulerStatus() scheduler.Status {
	var total scheduler.Status
	for _, m := range s.monitors {
		st := m.Scheduler().Status()
		total.QueueLength += st.QueueLength
		total.ActiveWorkers += st.ActiveWorkers
		total.MaxWorkers += st.MaxWorkers
		total.Processing = total.Processing || st.Processing
		total.Completed += st.Completed
		total.Failed += st.Failed
		total.Rejected += st.Rejected
	}
	return total
}

func (s *Supervisor) logStatus() {
	st := s.schedulerStatus()
	streaming := 0
	for _, m := range s.monitors {
		if m.State() == StateStreaming {
			streaming++
		}
	}
	spent, received := s.shared.Portfolio.Totals()
	s.logger.Sugar().Infof("Status: %d/%d streams up, %d positions, queue=%d active=%d, spent %.4f SOL, received %.4f SOL, buying disabled %t",
		streaming, len(s.monitors), len(s.shared.Ledger.AllPositions()), st.QueueLength, st.ActiveWorkers,
		spent, received, s.shared.BuyingDisabled())
}

// Status collects the data for the status dump.
func (s *Supervisor) Status() reporter.Status {
	sh := s.shared
	now := sh.now()
	st := reporter.Status{
		GeneratedAt:    now,
		BuyingDisabled: sh.BuyingDisabled(),
		Scheduler:      s.schedulerStatus(),
		Positions:      sh.Ledger.AllPositions(),
		Portfolio:      sh.Portfolio.All(),
	}
	st.Uptime = now.Sub(s.started)
	for _, m := range s.monitors {
		st.Monitors = append(st.Monitors, reporter.MonitorRow{
			Wallet:     m.Wallet(),
			State:      m.State().String(),
			Events:     m.Events(),
			Reconnects: m.Reconnects(),
			LastEvent:  m.LastEvent(),
		})
	}
	if s.blockhash != nil {
		st.Blockhash = s.blockhash.Statuses()
	}
	return st
}

// StrategyRows describes the cooldown, slippage and purchase state of
// every mint the process has seen.
func (s *Supervisor) StrategyRows() []reporter.StrategyRow {
	sh := s.shared
	counts := sh.Ledger.Counts()
	mints := make(map[string]struct{}, len(counts))
	for m := range counts {
		mints[m] = struct{}{}
	}
	for _, m := range sh.Cooldown.Mints() {
		mints[m] = struct{}{}
	}

	rows := make([]reporter.StrategyRow, 0, len(mints))
	for mint := range mints {
		cd := sh.Cooldown.Describe(mint)
		c := counts[mint]
		rows = append(rows, reporter.StrategyRow{
			Mint:               mint,
			ActivityLevel:      string(cd.Level),
			TradesInWindow:     cd.TradesInWindow,
			GlobalCooldown:     cd.GlobalCooldown,
			TokenCooldown:      cd.TokenCooldown,
			Volatility:         sh.Slippage.Volatility(mint),
			BuySlippageBps:     sh.Slippage.ForBuy(mint).FinalBps,
			SellSlippageBps:    sh.Slippage.ForSell(mint).FinalBps,
			TotalPurchases:     c.TotalPurchases,
			RemainingPurchases: c.RemainingPurchases,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Mint < rows[j].Mint })
	return rows
}

// Dump kinds for PrintDump.
const (
	DumpStatus    = "status"
	DumpPositions = "positions"
	DumpStrategy  = "strategy"
)

// PrintDump writes one of the operator dumps to the supervisor's output.
func (s *Supervisor) PrintDump(kind string) {
	switch kind {
	case DumpStatus:
		reporter.RenderStatus(s.out, s.Status())
	case DumpPositions:
		reporter.RenderPositions(s.out, s.shared.Ledger.AllPositions(), s.shared.Ledger.Counts())
	case DumpStrategy:
		reporter.RenderStrategy(s.out, s.StrategyRows())
	default:
		s.logger.Sugar().Warnf("Supervisor: unknown dump %q", kind)
	}
}
