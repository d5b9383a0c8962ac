// Package cooldown spaces trades according to recent market activity.
package cooldown

import (
	"sync"
	"time"

	"solana-copy-trader/internal/models"
)

// ActivityLevel buckets trades per activity window.
type ActivityLevel string

const (
	ActivityLow    ActivityLevel = "low"
	ActivityMedium ActivityLevel = "medium"
	ActivityHigh   ActivityLevel = "high"
)

// Skip reasons.
const (
	ReasonGlobal = "global_cooldown"
	ReasonToken  = "token_cooldown"
)

// Decision is the result of a cooldown check.
type Decision struct {
	CanTrade bool
	WaitTime time.Duration
	Reason   string
}

// Governor tracks the last global and per-mint trade times plus a rolling
// log of market activity per mint.
type Governor struct {
	cfg models.CooldownConfig
	now func() time.Time

	mu             sync.Mutex
	lastGlobal     time.Time
	lastToken      map[string]time.Time
	activity       map[string][]time.Time
	activityWindow time.Duration
}

// NewGovernor creates a governor. A nil clock means time.Now.
func NewGovernor(cfg models.CooldownConfig, now func() time.Time) *Governor {
	if now == nil {
		now = time.Now
	}
	window := models.Ms(cfg.ActivityWindowMs)
	if window <= 0 {
		window = time.Minute
	}
	return &Governor{
		cfg:            cfg,
		now:            now,
		lastToken:      make(map[string]time.Time),
		activity:       make(map[string][]time.Time),
		activityWindow: window,
	}
}

// RecordMarketActivity notes a trade on mint and trims the window.
func (g *Governor) RecordMarketActivity(mint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.activity[mint] = trim(append(g.activity[mint], now), now.Add(-g.activityWindow))
}

// MarketActivityLevel buckets the mint's recent trade count.
func (g *Governor) MarketActivityLevel(mint string) ActivityLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levelLocked(mint)
}

// DynamicCooldown returns the spacing for mint (or the global spacing when
// tokenSpecific is false). An empty mint counts as medium activity.
func (g *Governor) DynamicCooldown(mint string, tokenSpecific bool) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownLocked(mint, tokenSpecific)
}

// CheckCooldown evaluates the global spacing first, then the per-mint one.
// isBuy is accepted for symmetry with the callers; both sides share spacing.
func (g *Governor) CheckCooldown(mint string, isBuy bool) Decision {
	_ = isBuy
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked(mint)
}

// TryAcquire checks the cooldown and, when trading is allowed, stamps the
// global and per-mint trade times in the same critical section.
func (g *Governor) TryAcquire(mint string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.checkLocked(mint)
	if d.CanTrade {
		g.stampLocked(mint)
	}
	return d
}

// UpdateTimestamps stamps the global and per-mint trade times.
func (g *Governor) UpdateTimestamps(mint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stampLocked(mint)
}

// Snapshot describes the governor's view of one mint.
type Snapshot struct {
	Level          ActivityLevel
	TradesInWindow int
	GlobalCooldown time.Duration
	TokenCooldown  time.Duration
	LastTokenTrade time.Time
}

// Describe returns the current cooldown state for mint.
func (g *Governor) Describe(mint string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Level:          g.levelLocked(mint),
		TradesInWindow: len(g.activity[mint]),
		GlobalCooldown: g.cooldownLocked("", false),
		TokenCooldown:  g.cooldownLocked(mint, true),
		LastTokenTrade: g.lastToken[mint],
	}
}

// Mints lists mints with recorded activity or trade stamps.
func (g *Governor) Mints() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[string]struct{}, len(g.lastToken))
	var out []string
	for m := range g.lastToken {
		seen[m] = struct{}{}
		out = append(out, m)
	}
	for m := range g.activity {
		if _, ok := seen[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func (g *Governor) checkLocked(mint string) Decision {
	now := g.now()

	global := g.cooldownLocked("", false)
	if since := now.Sub(g.lastGlobal); since < global {
		return Decision{WaitTime: global - since, Reason: ReasonGlobal}
	}

	if mint != "" {
		token := g.cooldownLocked(mint, true)
		if since := now.Sub(g.lastToken[mint]); since < token {
			return Decision{WaitTime: token - since, Reason: ReasonToken}
		}
	}
	return Decision{CanTrade: true}
}

func (g *Governor) stampLocked(mint string) {
	now := g.now()
	g.lastGlobal = now
	if mint != "" {
		g.lastToken[mint] = now
	}
}

func (g *Governor) levelLocked(mint string) ActivityLevel {
	now := g.now()
	events := trim(g.activity[mint], now.Add(-g.activityWindow))
	if len(events) == 0 {
		delete(g.activity, mint)
		return ActivityLow
	}
	g.activity[mint] = events
	switch n := len(events); {
	case n >= g.cfg.HighActivityTrades:
		return ActivityHigh
	case n >= g.cfg.MediumActivityTrades:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

func (g *Governor) cooldownLocked(mint string, tokenSpecific bool) time.Duration {
	base, floor := g.cfg.BaseGlobalMs, g.cfg.MinGlobalMs
	if tokenSpecific {
		base, floor = g.cfg.BaseTokenMs, g.cfg.MinTokenMs
	}

	level := ActivityMedium
	if mint != "" {
		level = g.levelLocked(mint)
	}

	multiplier := 1.0
	switch level {
	case ActivityHigh:
		multiplier = g.cfg.HighActivityMultiplier
	case ActivityLow:
		multiplier = g.cfg.LowActivityMultiplier
	}

	cooldown := time.Duration(float64(base) * multiplier * float64(time.Millisecond))
	if min := models.Ms(floor); cooldown < min {
		return min
	}
	return cooldown
}

// trim drops timestamps at or before cutoff; events are in arrival order.
func trim(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}
