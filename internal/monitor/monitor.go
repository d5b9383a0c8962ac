// Package monitor mirrors the trades of watched wallets. One Monitor runs
// per wallet; all monitors share the ledger, the risk layers and the
// executor through Shared.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"solana-copy-trader/internal/classifier"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/scheduler"
	"solana-copy-trader/internal/stream"

	"go.uber.org/zap"
)

const defaultReconnectDelay = time.Second

// Monitor owns one wallet's stream connection and its execution queue.
type Monitor struct {
	wallet string
	shared *Shared
	source Source
	sched  *scheduler.Scheduler
	logger *zap.Logger

	reconnectDelay time.Duration

	state      atomic.Int32
	events     atomic.Uint64
	reconnects atomic.Uint64
	lastEvent  atomic.Int64 // unix nanos

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor for wallet in the Idle state.
func New(wallet string, shared *Shared, source Source, logger *zap.Logger) *Monitor {
	cfg := shared.Config
	delay := models.Ms(cfg.Stream.ReconnectDelayMs)
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Monitor{
		wallet:         wallet,
		shared:         shared,
		source:         source,
		sched:          scheduler.New(cfg.Scheduler, logger),
		logger:         logger,
		reconnectDelay: delay,
	}
}

// Wallet is the watched wallet.
func (m *Monitor) Wallet() string { return m.wallet }

// State is the current connection state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Events is the number of stream notifications handled.
func (m *Monitor) Events() uint64 { return m.events.Load() }

// Reconnects is the number of times the stream was re-established.
func (m *Monitor) Reconnects() uint64 { return m.reconnects.Load() }

// LastEvent is when the last notification arrived.
func (m *Monitor) LastEvent() time.Time {
	ns := m.lastEvent.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Scheduler exposes the monitor's execution queue for status reporting.
func (m *Monitor) Scheduler() *scheduler.Scheduler { return m.sched }

func (m *Monitor) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Sugar().Debugf("Monitor %s: %s -> %s", models.Short(m.wallet), prev, s)
	}
}

// Start moves Idle to Connecting and runs the reconnect loop in the
// background until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already running")
	}
	if m.State() == StateStopped {
		return errors.New("monitor was stopped")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.sched.Start(ctx)
	m.setState(StateConnecting)
	m.logger.Sugar().Infof("Monitor: watching wallet %s", m.wallet)

	go m.run(ctx)
	return nil
}

// Stop halts the stream, ends in-progress chunk loops between chunks and
// waits for spawned tasks to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.setState(StateStopped)
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.sched.Stop()
	m.setState(StateStopped)
	m.logger.Sugar().Infof("Monitor: stopped watching %s", models.Short(m.wallet))
}

// run is the Connecting -> Streaming -> Retrying loop.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		m.setState(StateConnecting)
		err := m.source.Run(ctx, []string{m.wallet}, func() {
			m.setState(StateStreaming)
		}, m.HandleEvent)
		if ctx.Err() != nil {
			return
		}

		m.setState(StateRetrying)
		m.reconnects.Add(1)
		m.shared.Metrics.Reconnect(m.wallet)
		if err != nil {
			m.logger.Sugar().Warnf("Monitor %s: stream error: %v, reconnecting in %s", models.Short(m.wallet), err, m.reconnectDelay)
		} else {
			m.logger.Sugar().Warnf("Monitor %s: stream closed, reconnecting in %s", models.Short(m.wallet), m.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnectDelay):
		}
	}
}

// HandleEvent classifies one notification and dispatches it. Discarded
// events are filtered silently.
func (m *Monitor) HandleEvent(ev stream.TransactionEvent) {
	m.events.Add(1)
	m.lastEvent.Store(m.shared.now().UnixNano())
	m.shared.Metrics.EventReceived(m.wallet)

	rec, err := classifier.Classify(ev)
	if err != nil {
		m.shared.Metrics.EventDiscarded(discardReason(err))
		m.logger.Sugar().Debugf("Monitor %s: discarded %s: %v", models.Short(m.wallet), models.Short(ev.Signature), err)
		return
	}
	m.shared.Latency.RecordTimestamp(rec.Signature, rec.Timestamp)

	out, _ := m.Dispatch(rec)
	if !out.Success && out.Reason != "" {
		m.logger.Sugar().Infof("Monitor %s: skip %s %s: %s", models.Short(m.wallet), side(rec.IsBuy), models.Short(rec.TokenMint), out.Reason)
	}
}

// Dispatch routes a classified record to the buy or sell path. The future
// is non-nil when an execution task was spawned.
func (m *Monitor) Dispatch(rec models.TransactionRecord) (Outcome, *scheduler.Future) {
	if rec.TokenChanges == 0 || rec.TokenMint == "" {
		return skip("not actionable"), nil
	}
	own := rec.ActorWallet == m.shared.Config.Wallet
	switch {
	case rec.IsBuy && own:
		m.recordOwnFill(rec)
		return Outcome{Success: true}, nil
	case rec.IsBuy:
		return m.handleBuy(rec)
	case own:
		m.recordOwnFill(rec)
		return Outcome{Success: true}, nil
	default:
		return m.handleSell(rec)
	}
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, classifier.ErrFailedTransaction):
		return "failed"
	case errors.Is(err, classifier.ErrUnknownProtocol):
		return "unknown_protocol"
	case errors.Is(err, classifier.ErrMissingMint):
		return "missing_mint"
	case errors.Is(err, classifier.ErrNoTokenChange):
		return "no_token_change"
	case errors.Is(err, classifier.ErrMissingMeta):
		return "missing_meta"
	case errors.Is(err, classifier.ErrAmountOverflow):
		return "amount_overflow"
	default:
		return "other"
	}
}

func side(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
