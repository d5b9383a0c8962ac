// Package latency measures how stale a copied event is and decides whether
// and how conservatively to act on it.
package latency

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"solana-copy-trader/internal/models"
)

// Level categorises a delay.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Action is the trade side being compensated.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// DelayInfo describes the lag between an event and now.
type DelayInfo struct {
	Delay        time.Duration
	DelayMinutes float64
	IsAcceptable bool
	Level        Level
}

// Adjustment is the price-side compensation for a delay.
type Adjustment struct {
	Factor     float64
	ShouldSkip bool
	Warning    string
}

// Verdict combines delay and adjustment into an execute/skip decision.
type Verdict struct {
	ShouldExecute bool
	Delay         DelayInfo
	Adjustment    Adjustment
	Reason        string
}

// Stats summarises recently recorded event delays.
type Stats struct {
	Count   int
	Average time.Duration
	Max     time.Duration
	Min     time.Duration
	Levels  map[Level]int
}

var conservativeFactors = map[Level]float64{
	LevelLow:      1.0,
	LevelMedium:   0.8,
	LevelHigh:     0.6,
	LevelCritical: 0.0,
}

// Compensator holds latency thresholds and a bounded cache of observed
// event timestamps keyed by signature.
type Compensator struct {
	cfg models.LatencyConfig
	now func() time.Time

	mu         sync.Mutex
	timestamps map[string]time.Time
}

// NewCompensator creates a compensator. A nil clock means time.Now.
func NewCompensator(cfg models.LatencyConfig, now func() time.Time) *Compensator {
	if now == nil {
		now = time.Now
	}
	if cfg.TimestampCacheSize <= 0 {
		cfg.TimestampCacheSize = 1000
	}
	return &Compensator{
		cfg:        cfg,
		now:        now,
		timestamps: make(map[string]time.Time),
	}
}

// Enabled reports whether compensation is switched on.
func (c *Compensator) Enabled() bool { return c.cfg.Enabled }

// CalculateDelay measures eventTime against now.
func (c *Compensator) CalculateDelay(eventTime time.Time) DelayInfo {
	delay := c.now().Sub(eventTime)
	return DelayInfo{
		Delay:        delay,
		DelayMinutes: delay.Minutes(),
		IsAcceptable: delay.Milliseconds() <= c.cfg.MaxAcceptableDelayMs,
		Level:        c.level(delay),
	}
}

// CalculatePriceAdjustment derives the expected-price factor for action.
// Sells shrink the expected price, buys grow it, both capped. A disabled
// compensator or an unacceptable delay yields a skip.
func (c *Compensator) CalculatePriceAdjustment(info DelayInfo, action Action) Adjustment {
	if !c.cfg.Enabled || !info.IsAcceptable {
		return Adjustment{Factor: 1.0, ShouldSkip: true}
	}

	shift := info.DelayMinutes * c.cfg.PriceAdjustmentPerMinute
	var factor float64
	if action == Sell {
		factor = math.Max(1.0-shift, 1.0-c.cfg.MaxPriceAdjustment)
	} else {
		factor = math.Min(1.0+shift, 1.0+c.cfg.MaxPriceAdjustment)
	}

	adj := Adjustment{Factor: factor}
	switch info.Level {
	case LevelCritical:
		adj.ShouldSkip = true
		adj.Warning = fmt.Sprintf("critical delay (%.1f min), skipping trade", info.DelayMinutes)
	case LevelHigh:
		adj.Warning = fmt.Sprintf("high delay (%.1f min), using conservative pricing", info.DelayMinutes)
	}
	return adj
}

// ShouldExecute decides whether an event observed at eventTime is still
// worth acting on.
func (c *Compensator) ShouldExecute(eventTime time.Time, action Action) Verdict {
	if !c.cfg.Enabled {
		return Verdict{ShouldExecute: true, Adjustment: Adjustment{Factor: 1.0}, Reason: "latency compensation disabled"}
	}
	info := c.CalculateDelay(eventTime)
	adj := c.CalculatePriceAdjustment(info, action)
	reason := adj.Warning
	if reason == "" {
		if adj.ShouldSkip {
			reason = fmt.Sprintf("delay %.1f min exceeds acceptable maximum", info.DelayMinutes)
		} else {
			reason = "acceptable delay"
		}
	}
	return Verdict{
		ShouldExecute: !adj.ShouldSkip,
		Delay:         info,
		Adjustment:    adj,
		Reason:        reason,
	}
}

// ConservativeSellAmount scales a sell size down by delay level and floors.
func (c *Compensator) ConservativeSellAmount(amount uint64, info DelayInfo) uint64 {
	factor, ok := conservativeFactors[info.Level]
	if !ok || factor >= 1.0 {
		return amount
	}
	return uint64(math.Floor(float64(amount) * factor))
}

// RecordTimestamp caches an event's origin time, keeping the newest
// TimestampCacheSize entries.
func (c *Compensator) RecordTimestamp(signature string, eventTime time.Time) {
	if signature == "" || eventTime.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamps[signature] = eventTime
	if len(c.timestamps) <= c.cfg.TimestampCacheSize {
		return
	}

	type entry struct {
		sig string
		at  time.Time
	}
	entries := make([]entry, 0, len(c.timestamps))
	for sig, at := range c.timestamps {
		entries = append(entries, entry{sig, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	for _, e := range entries[c.cfg.TimestampCacheSize:] {
		delete(c.timestamps, e.sig)
	}
}

// DelayStats summarises the delays of cached events measured against now.
func (c *Compensator) DelayStats() Stats {
	c.mu.Lock()
	times := make([]time.Time, 0, len(c.timestamps))
	for _, at := range c.timestamps {
		times = append(times, at)
	}
	c.mu.Unlock()

	stats := Stats{Levels: make(map[Level]int)}
	if len(times) == 0 {
		return stats
	}
	var sum time.Duration
	for i, at := range times {
		info := c.CalculateDelay(at)
		sum += info.Delay
		if i == 0 || info.Delay > stats.Max {
			stats.Max = info.Delay
		}
		if i == 0 || info.Delay < stats.Min {
			stats.Min = info.Delay
		}
		stats.Levels[info.Level]++
	}
	stats.Count = len(times)
	stats.Average = sum / time.Duration(len(times))
	return stats
}

func (c *Compensator) level(delay time.Duration) Level {
	ms := delay.Milliseconds()
	switch {
	case ms <= c.cfg.LowThresholdMs:
		return LevelLow
	case ms <= c.cfg.MediumThresholdMs:
		return LevelMedium
	case ms <= c.cfg.HighThresholdMs:
		return LevelHigh
	default:
		return LevelCritical
	}
}
