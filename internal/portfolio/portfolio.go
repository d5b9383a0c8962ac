// Package portfolio tracks the controlled wallet's own fills per mint.
package portfolio

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Entry is the running book for one mint. Prices are SOL per whole token.
type Entry struct {
	Mint            string
	Decimals        uint8
	TotalTokens     float64
	TotalSolSpent   float64
	TotalSolRecv    float64
	AverageBuyPrice float64
	BuyCount        int
	SellCount       int
	FirstBuyTime    time.Time
	LastUpdate      time.Time
	CurrentPrice    float64
}

// Book is safe for concurrent use.
type Book struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty book. A nil clock means time.Now.
func New(now func() time.Time) *Book {
	if now == nil {
		now = time.Now
	}
	return &Book{now: now, entries: make(map[string]*Entry)}
}

// Record folds one fill of sol SOL at price into mint's entry.
func (b *Book) Record(mint string, sol float64, isBuy bool, decimals uint8, price float64) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[mint]
	if !ok {
		e = &Entry{Mint: mint, Decimals: decimals}
		b.entries[mint] = e
	}
	now := b.now()
	sol = math.Abs(sol)

	var tokens float64
	if price > 0 {
		tokens = sol / price
	}
	if isBuy {
		e.TotalSolSpent += sol
		e.BuyCount++
		e.TotalTokens += tokens
		if e.FirstBuyTime.IsZero() {
			e.FirstBuyTime = now
		}
	} else {
		e.TotalSolRecv += sol
		e.SellCount++
		e.TotalTokens = math.Max(0, e.TotalTokens-tokens)
	}
	if e.TotalTokens > 0 {
		e.AverageBuyPrice = e.TotalSolSpent / e.TotalTokens
	} else {
		e.AverageBuyPrice = 0
	}
	if price > 0 {
		e.CurrentPrice = price
	}
	e.LastUpdate = now
	return *e
}

// Entry returns a copy of mint's entry.
func (b *Book) Entry(mint string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[mint]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns every entry, most recently updated first.
func (b *Book) All() []Entry {
	b.mu.RLock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].Mint < out[j].Mint
		}
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})
	return out
}

// Delete forgets mint.
func (b *Book) Delete(mint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[mint]
	delete(b.entries, mint)
	return ok
}

// PnL is the fractional change of price over the average buy price.
func (b *Book) PnL(mint string, price float64) float64 {
	e, ok := b.Entry(mint)
	if !ok || e.AverageBuyPrice == 0 {
		return 0
	}
	return (price - e.AverageBuyPrice) / e.AverageBuyPrice
}

// NetProfit is the held tokens' value at price minus SOL spent.
func (b *Book) NetProfit(mint string, price float64) float64 {
	e, ok := b.Entry(mint)
	if !ok {
		return 0
	}
	return e.TotalTokens*price - e.TotalSolSpent
}

// RealizedPnL is SOL received minus SOL spent.
func (b *Book) RealizedPnL(mint string) float64 {
	e, ok := b.Entry(mint)
	if !ok {
		return 0
	}
	return e.TotalSolRecv - e.TotalSolSpent
}

// Totals sums spent and received across mints.
func (b *Book) Totals() (spent, received float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		spent += e.TotalSolSpent
		received += e.TotalSolRecv
	}
	return spent, received
}
