package models

import "time"

// Purchase is one mirrored buy. Amounts are token base units.
type Purchase struct {
	TargetBoughtAmount uint64    `json:"target_bought_amount"`
	OurBoughtAmount    uint64    `json:"our_bought_amount"`
	BuyTime            time.Time `json:"buy_time"`
	LastUpdate         time.Time `json:"last_update"`
}

// Position tracks the purchases mirrored from one wallet for one mint.
type Position struct {
	Purchases   []Purchase `json:"purchases"`
	TotalAmount uint64     `json:"total_amount"`
	LastUpdate  time.Time  `json:"last_update"`
}

// TokenPurchaseCount counts live purchases for a mint across wallets.
type TokenPurchaseCount struct {
	TotalPurchases     int       `json:"total_purchases"`
	RemainingPurchases int       `json:"remaining_purchases"`
	LastUpdate         time.Time `json:"last_update"`
}

// PositionSummary is a flattened read-only view of a position.
type PositionSummary struct {
	TokenMint     string
	TargetWallet  string
	TotalAmount   uint64
	PurchaseCount int
	LastUpdate    time.Time
}

// LedgerSnapshot is the persisted form of the position ledger.
type LedgerSnapshot struct {
	Positions map[string]map[string]*Position `json:"positions"` // mint -> wallet -> position
	Counts    map[string]*TokenPurchaseCount  `json:"counts"`
	SavedAt   time.Time                       `json:"saved_at"`
}
