// Package ledger tracks mirrored purchases per mint and source wallet and
// resolves how much of our holdings a copied sell corresponds to.
package ledger

import (
	"context"
	"math"
	"math/bits"
	"sort"
	"sync"
	"time"

	"solana-copy-trader/internal/models"

	"go.uber.org/zap"
)

// DefaultTTL is how long an untouched position or counter survives a sweep.
const DefaultTTL = 24 * time.Hour

// SellMatch is the resolved mirrored sell for a target wallet's sell.
type SellMatch struct {
	OurSellAmount  uint64
	Purchase       models.Purchase
	IsProportional bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithChangeHook is called after every mutation, outside the lock.
func WithChangeHook(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithAnomalyHook is called when a purchase counter would go negative.
func WithAnomalyHook(fn func(mint string, remaining int)) Option {
	return func(s *Store) { s.onAnomaly = fn }
}

// Store is the process-wide position ledger. All methods are safe for
// concurrent use; every check-and-mutate runs under one lock acquisition.
type Store struct {
	mu        sync.RWMutex
	positions map[string]map[string]*models.Position // mint -> wallet -> position
	counts    map[string]*models.TokenPurchaseCount
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	onChange  func()
	onAnomaly func(mint string, remaining int)
}

// NewStore creates an empty ledger.
func NewStore(ttl time.Duration, logger *zap.Logger, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		positions: make(map[string]map[string]*models.Position),
		counts:    make(map[string]*models.TokenPurchaseCount),
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddPosition appends a purchase for (mint, wallet) and bumps the mint's counter.
func (s *Store) AddPosition(mint, wallet string, targetAmount, ourAmount uint64) {
	s.mu.Lock()
	now := s.now()
	byWallet, ok := s.positions[mint]
	if !ok {
		byWallet = make(map[string]*models.Position)
		s.positions[mint] = byWallet
	}
	pos, ok := byWallet[wallet]
	if !ok {
		pos = &models.Position{}
		byWallet[wallet] = pos
	}
	pos.Purchases = append(pos.Purchases, models.Purchase{
		TargetBoughtAmount: targetAmount,
		OurBoughtAmount:    ourAmount,
		BuyTime:            now,
		LastUpdate:         now,
	})
	pos.TotalAmount += ourAmount
	pos.LastUpdate = now
	purchases := len(pos.Purchases)
	remaining := s.adjustCountLocked(mint, 1, now)
	s.mu.Unlock()

	s.logger.Sugar().Infof("Ledger: added purchase #%d for %s from %s (%d remaining for mint)",
		purchases, models.Short(mint), models.Short(wallet), remaining)
	s.changed()
}

// GetExactSellAmount resolves the mirrored amount for a target sell of
// targetSellAmount. An exact targetBoughtAmount match returns that purchase's
// amount unscaled. Otherwise the purchase nearest by absolute difference is
// scaled by targetSellAmount/targetBoughtAmount and floored. On equal
// distance the larger targetBoughtAmount wins, then the earlier purchase.
// Returns nil when nothing is tracked for the pair.
func (s *Store) GetExactSellAmount(mint, wallet string, targetSellAmount uint64) *SellMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := s.positionLocked(mint, wallet)
	if pos == nil || len(pos.Purchases) == 0 {
		return nil
	}

	for _, p := range pos.Purchases {
		if p.TargetBoughtAmount == targetSellAmount {
			return &SellMatch{OurSellAmount: p.OurBoughtAmount, Purchase: p}
		}
	}

	best := -1
	var bestDiff uint64
	for i, p := range pos.Purchases {
		if p.TargetBoughtAmount == 0 {
			continue
		}
		diff := absDiff(p.TargetBoughtAmount, targetSellAmount)
		switch {
		case best == -1, diff < bestDiff:
			best, bestDiff = i, diff
		case diff == bestDiff && p.TargetBoughtAmount > pos.Purchases[best].TargetBoughtAmount:
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	closest := pos.Purchases[best]
	amount := scale(closest.OurBoughtAmount, targetSellAmount, closest.TargetBoughtAmount)
	if amount > pos.TotalAmount {
		amount = pos.TotalAmount
	}
	return &SellMatch{OurSellAmount: amount, Purchase: closest, IsProportional: true}
}

// RemovePurchase drops the purchase whose targetBoughtAmount equals
// targetSellAmount, decrements the counter and deletes an emptied position.
func (s *Store) RemovePurchase(mint, wallet string, targetSellAmount uint64) bool {
	s.mu.Lock()
	pos := s.positionLocked(mint, wallet)
	if pos == nil {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, p := range pos.Purchases {
		if p.TargetBoughtAmount == targetSellAmount {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return false
	}

	now := s.now()
	removed := pos.Purchases[idx]
	pos.Purchases = append(pos.Purchases[:idx], pos.Purchases[idx+1:]...)
	pos.TotalAmount = subFloor(pos.TotalAmount, removed.OurBoughtAmount)
	pos.LastUpdate = now
	remaining := s.adjustCountLocked(mint, -1, now)
	if len(pos.Purchases) == 0 {
		s.removePositionLocked(mint, wallet)
	}
	s.mu.Unlock()

	s.logger.Sugar().Infof("Ledger: removed purchase for %s from %s (%d remaining for mint)",
		models.Short(mint), models.Short(wallet), remaining)
	s.changed()
	return true
}

// ApplyProportionalSell records a sell that did not consume an exact
// purchase: the position total shrinks by sold and the counter drops by one.
// A position whose total reaches zero is deleted.
func (s *Store) ApplyProportionalSell(mint, wallet string, sold uint64) bool {
	s.mu.Lock()
	pos := s.positionLocked(mint, wallet)
	if pos == nil {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	pos.TotalAmount = subFloor(pos.TotalAmount, sold)
	pos.LastUpdate = now
	remaining := s.adjustCountLocked(mint, -1, now)
	emptied := pos.TotalAmount == 0
	if emptied {
		s.removePositionLocked(mint, wallet)
	}
	s.mu.Unlock()

	s.logger.Sugar().Infof("Ledger: proportional sell for %s from %s (%d remaining for mint, position closed: %t)",
		models.Short(mint), models.Short(wallet), remaining, emptied)
	s.changed()
	return true
}

// UpdatePurchaseCount adjusts the mint's counter by delta and returns the
// remaining count. The counter is clamped at zero.
func (s *Store) UpdatePurchaseCount(mint string, delta int) int {
	s.mu.Lock()
	remaining := s.adjustCountLocked(mint, delta, s.now())
	s.mu.Unlock()
	s.changed()
	return remaining
}

// PurchaseCount returns a copy of the mint's counter (zero value if absent).
func (s *Store) PurchaseCount(mint string) models.TokenPurchaseCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.counts[mint]; ok {
		return *c
	}
	return models.TokenPurchaseCount{}
}

// RemainingPurchaseCount returns how many purchases are still open for mint.
func (s *Store) RemainingPurchaseCount(mint string) int {
	return s.PurchaseCount(mint).RemainingPurchases
}

// IsLastRemainingPurchase reports whether the next sell of mint is a full exit.
func (s *Store) IsLastRemainingPurchase(mint string) bool {
	return s.RemainingPurchaseCount(mint) == 1
}

// Position returns a copy of the (mint, wallet) position.
func (s *Store) Position(mint, wallet string) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos := s.positionLocked(mint, wallet)
	if pos == nil {
		return models.Position{}, false
	}
	return copyPosition(pos), true
}

// RemovePosition deletes the (mint, wallet) position outright.
func (s *Store) RemovePosition(mint, wallet string) bool {
	s.mu.Lock()
	ok := s.removePositionLocked(mint, wallet)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// AllPositions lists every position ordered by mint then wallet.
func (s *Store) AllPositions() []models.PositionSummary {
	return s.collect(func(string, string) bool { return true })
}

// PositionsByToken lists positions for one mint.
func (s *Store) PositionsByToken(mint string) []models.PositionSummary {
	return s.collect(func(m, _ string) bool { return m == mint })
}

// PositionsByWallet lists positions mirrored from one wallet.
func (s *Store) PositionsByWallet(wallet string) []models.PositionSummary {
	return s.collect(func(_, w string) bool { return w == wallet })
}

// Counts returns a copy of every mint counter.
func (s *Store) Counts() map[string]models.TokenPurchaseCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.TokenPurchaseCount, len(s.counts))
	for mint, c := range s.counts {
		out[mint] = *c
	}
	return out
}

// Sweep deletes positions and counters untouched for longer than the TTL.
func (s *Store) Sweep() (positions, counts int) {
	s.mu.Lock()
	now := s.now()
	for mint, byWallet := range s.positions {
		for wallet, pos := range byWallet {
			if now.Sub(pos.LastUpdate) > s.ttl {
				delete(byWallet, wallet)
				positions++
			}
		}
		if len(byWallet) == 0 {
			delete(s.positions, mint)
			if _, ok := s.counts[mint]; ok {
				delete(s.counts, mint)
				counts++
			}
		}
	}
	for mint, c := range s.counts {
		if now.Sub(c.LastUpdate) > s.ttl {
			delete(s.counts, mint)
			counts++
		}
	}
	s.mu.Unlock()

	if positions > 0 || counts > 0 {
		s.logger.Sugar().Infof("Ledger sweep: removed %d expired positions and %d counters", positions, counts)
		s.changed()
	}
	return positions, counts
}

// RunSweeper sweeps immediately and then every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	s.Sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Snapshot returns a deep copy suitable for persistence.
func (s *Store) Snapshot() *models.LedgerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &models.LedgerSnapshot{
		Positions: make(map[string]map[string]*models.Position, len(s.positions)),
		Counts:    make(map[string]*models.TokenPurchaseCount, len(s.counts)),
		SavedAt:   s.now(),
	}
	for mint, byWallet := range s.positions {
		m := make(map[string]*models.Position, len(byWallet))
		for wallet, pos := range byWallet {
			cp := copyPosition(pos)
			m[wallet] = &cp
		}
		snap.Positions[mint] = m
	}
	for mint, c := range s.counts {
		cp := *c
		snap.Counts[mint] = &cp
	}
	return snap
}

// Restore replaces the ledger contents with a snapshot.
func (s *Store) Restore(snap *models.LedgerSnapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.positions = make(map[string]map[string]*models.Position, len(snap.Positions))
	s.counts = make(map[string]*models.TokenPurchaseCount, len(snap.Counts))
	for mint, byWallet := range snap.Positions {
		m := make(map[string]*models.Position, len(byWallet))
		for wallet, pos := range byWallet {
			if pos == nil || len(pos.Purchases) == 0 {
				continue
			}
			cp := copyPosition(pos)
			m[wallet] = &cp
		}
		if len(m) > 0 {
			s.positions[mint] = m
		}
	}
	for mint, c := range snap.Counts {
		if c == nil {
			continue
		}
		cp := *c
		s.counts[mint] = &cp
	}
	s.mu.Unlock()
}

func (s *Store) positionLocked(mint, wallet string) *models.Position {
	byWallet, ok := s.positions[mint]
	if !ok {
		return nil
	}
	return byWallet[wallet]
}

func (s *Store) removePositionLocked(mint, wallet string) bool {
	byWallet, ok := s.positions[mint]
	if !ok {
		return false
	}
	if _, ok := byWallet[wallet]; !ok {
		return false
	}
	delete(byWallet, wallet)
	if len(byWallet) == 0 {
		delete(s.positions, mint)
	}
	return true
}

func (s *Store) adjustCountLocked(mint string, delta int, now time.Time) int {
	c, ok := s.counts[mint]
	if !ok {
		c = &models.TokenPurchaseCount{}
		s.counts[mint] = c
	}
	c.TotalPurchases += delta
	if c.TotalPurchases < 0 {
		c.TotalPurchases = 0
	}
	c.RemainingPurchases += delta
	if c.RemainingPurchases < 0 {
		got := c.RemainingPurchases
		c.RemainingPurchases = 0
		s.logger.Sugar().Warnf("Ledger integrity: purchase counter for %s went to %d, clamped to 0", models.Short(mint), got)
		if s.onAnomaly != nil {
			go s.onAnomaly(mint, got)
		}
	}
	c.LastUpdate = now
	return c.RemainingPurchases
}

func (s *Store) collect(keep func(mint, wallet string) bool) []models.PositionSummary {
	s.mu.RLock()
	var out []models.PositionSummary
	for mint, byWallet := range s.positions {
		for wallet, pos := range byWallet {
			if !keep(mint, wallet) {
				continue
			}
			out = append(out, models.PositionSummary{
				TokenMint:     mint,
				TargetWallet:  wallet,
				TotalAmount:   pos.TotalAmount,
				PurchaseCount: len(pos.Purchases),
				LastUpdate:    pos.LastUpdate,
			})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenMint != out[j].TokenMint {
			return out[i].TokenMint < out[j].TokenMint
		}
		return out[i].TargetWallet < out[j].TargetWallet
	})
	return out
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func copyPosition(p *models.Position) models.Position {
	cp := *p
	cp.Purchases = make([]models.Purchase, len(p.Purchases))
	copy(cp.Purchases, p.Purchases)
	return cp
}

// scale computes floor(amount * num / den) without overflowing.
func scale(amount, num, den uint64) uint64 {
	hi, lo := bits.Mul64(amount, num)
	if hi >= den {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func subFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
