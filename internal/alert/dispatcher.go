// Package alert fans operator notifications out to sinks without ever
// blocking the trading path.
package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"solana-copy-trader/internal/models"

	"go.uber.org/zap"
)

// Kind classifies an alert and forms the last token of its NATS subject.
type Kind string

const (
	KindBuy               Kind = "buy"
	KindSell              Kind = "sell"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindError             Kind = "error"
	KindDataIntegrity     Kind = "data_integrity"
	KindBalance           Kind = "balance"
)

const (
	defaultBufferSize = 128
	defaultIFCooldown = 5 * time.Minute
	deliverTimeout    = 5 * time.Second
)

// Alert is one notification.
type Alert struct {
	Kind   Kind           `json:"kind"`
	Title  string         `json:"title"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// Sink delivers alerts somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Queued    uint64
	Delivered uint64
	Dropped   uint64
	Failed    uint64
	Throttled uint64
}

// Dispatcher buffers alerts and delivers them from a single goroutine.
type Dispatcher struct {
	cfg    models.AlertConfig
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
	onDrop func()

	queue chan Alert
	wg    sync.WaitGroup
	once  sync.Once

	mu             sync.Mutex
	lastIFAlert    time.Time
	ifAlertEnabled bool
	ifCooldown     time.Duration

	queued, delivered, dropped, failed, throttled atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithDropHook is called each time an alert is dropped on a full buffer.
func WithDropHook(fn func()) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(cfg models.AlertConfig, logger *zap.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	cooldown := models.Sec(cfg.InsufficientFundsCooldownSec)
	if cooldown <= 0 {
		cooldown = defaultIFCooldown
	}
	d := &Dispatcher{
		cfg:            cfg,
		sinks:          sinks,
		logger:         logger,
		now:            time.Now,
		queue:          make(chan Alert, size),
		ifAlertEnabled: cfg.EnableInsufficientFundsAlerts,
		ifCooldown:     cooldown,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery goroutine. It drains whatever is queued when
// ctx ends or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop closes the queue and waits for pending alerts to be delivered.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Send queues an alert. It never blocks; a full buffer drops the alert.
func (d *Dispatcher) Send(a Alert) (ok bool) {
	if a.At.IsZero() {
		a.At = d.now()
	}
	defer func() {
		// send on a closed queue after Stop
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case d.queue <- a:
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop()
		}
		d.logger.Sugar().Warnf("Alert: buffer full, dropped %s alert %q", a.Kind, a.Title)
		return false
	}
}

// Notify is shorthand for Send with a fresh Alert.
func (d *Dispatcher) Notify(kind Kind, title string, fields map[string]any) bool {
	return d.Send(Alert{Kind: kind, Title: title, Fields: fields})
}

// InsufficientFunds sends an insufficient-funds alert unless they are
// switched off or one was sent within the cooldown.
func (d *Dispatcher) InsufficientFunds(fields map[string]any) bool {
	d.mu.Lock()
	if !d.ifAlertEnabled {
		d.mu.Unlock()
		return false
	}
	now := d.now()
	if !d.lastIFAlert.IsZero() && now.Sub(d.lastIFAlert) < d.ifCooldown {
		d.mu.Unlock()
		d.throttled.Add(1)
		return false
	}
	d.lastIFAlert = now
	d.mu.Unlock()

	return d.Send(Alert{Kind: KindInsufficientFunds, Title: "Insufficient funds", Fields: fields, At: now})
}

// SetInsufficientFundsAlerts switches insufficient-funds alerts on or off.
func (d *Dispatcher) SetInsufficientFundsAlerts(enabled bool) {
	d.mu.Lock()
	d.ifAlertEnabled = enabled
	d.mu.Unlock()
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Throttled: d.throttled.Load(),
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case a, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, a)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case a, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(context.Background(), a)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := s.Deliver(sctx, a)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Sugar().Errorf("Alert: sink %s failed for %s alert: %v", s.Name(), a.Kind, err)
			continue
		}
		d.delivered.Add(1)
	}
}
