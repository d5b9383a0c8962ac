// Package slippage widens slippage tolerance with observed price volatility.
package slippage

import (
	"context"
	"math"
	"sync"
	"time"

	"solana-copy-trader/internal/models"
)

// defaultVolatility is assumed when a mint has fewer than two usable samples.
const defaultVolatility = 0.5

// maxVolatility caps the normalised volatility index.
const maxVolatility = 2.0

// Result describes one slippage computation.
type Result struct {
	BaseBps    int
	Volatility float64
	Adjustment float64 // volatility * multiplier
	FinalBps   int
	Factor     float64 // final / base
}

type sample struct {
	price float64
	at    time.Time
}

// Tracker keeps a short price history per mint.
type Tracker struct {
	cfg    models.SlippageConfig
	now    func() time.Time
	window time.Duration

	mu      sync.Mutex
	history map[string][]sample
}

// NewTracker creates a tracker. A nil clock means time.Now.
func NewTracker(cfg models.SlippageConfig, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	window := models.Ms(cfg.VolatilityWindowMs)
	if window <= 0 {
		window = time.Minute
	}
	return &Tracker{
		cfg:     cfg,
		now:     now,
		window:  window,
		history: make(map[string][]sample),
	}
}

// RecordPrice appends an observation. Non-positive prices are ignored.
func (t *Tracker) RecordPrice(mint string, price float64, at time.Time) {
	if mint == "" || price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[mint], sample{price: price, at: at})
	cutoff := at.Add(-t.window)
	drop := 0
	for drop < len(h) && h[drop].at.Before(cutoff) {
		drop++
	}
	h = h[drop:]
	if len(h) > 2*t.cfg.HistoryWindow {
		h = append([]sample(nil), h[len(h)-t.cfg.HistoryWindow:]...)
	}
	t.history[mint] = h
}

// Volatility is the standard deviation of absolute relative price changes,
// scaled by ten and capped at two.
func (t *Tracker) Volatility(mint string) float64 {
	t.mu.Lock()
	h := t.history[mint]
	changes := make([]float64, 0, len(h))
	for i := 1; i < len(h); i++ {
		if prev := h[i-1].price; prev > 0 {
			changes = append(changes, math.Abs((h[i].price-prev)/prev))
		}
	}
	t.mu.Unlock()

	if len(changes) == 0 {
		return defaultVolatility
	}
	var mean float64
	for _, c := range changes {
		mean += c
	}
	mean /= float64(len(changes))
	var variance float64
	for _, c := range changes {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(changes))
	return math.Min(math.Sqrt(variance)*10, maxVolatility)
}

// Calculate scales baseBps by the mint's volatility and clamps the result.
func (t *Tracker) Calculate(mint string, baseBps int) Result {
	vol := t.Volatility(mint)
	adj := vol * t.cfg.VolatilityMultiplier
	final := float64(baseBps) * (1 + adj)
	final = math.Max(float64(t.cfg.MinBps), math.Min(final, float64(t.cfg.MaxBps)))
	r := Result{
		BaseBps:    baseBps,
		Volatility: vol,
		Adjustment: adj,
		FinalBps:   int(math.Round(final)),
	}
	if baseBps > 0 {
		r.Factor = final / float64(baseBps)
	}
	return r
}

// ForBuy uses the configured buy base.
func (t *Tracker) ForBuy(mint string) Result { return t.Calculate(mint, t.cfg.BaseBuyBps) }

// ForSell uses the configured sell base.
func (t *Tracker) ForSell(mint string) Result { return t.Calculate(mint, t.cfg.BaseSellBps) }

// Cleanup drops samples older than twice the volatility window and forgets
// mints left with none.
func (t *Tracker) Cleanup() int {
	cutoff := t.now().Add(-2 * t.window)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for mint, h := range t.history {
		kept := h[:0]
		for _, s := range h {
			if s.at.After(cutoff) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(t.history, mint)
			removed++
			continue
		}
		t.history[mint] = kept
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx ends.
func (t *Tracker) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

// Samples reports how many observations are held for mint.
func (t *Tracker) Samples(mint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history[mint])
}
