package persistence

import "solana-copy-trader/internal/models"

// SnapshotRepository stores the position ledger between restarts.
type SnapshotRepository interface {
	// SaveSnapshot atomically replaces the stored ledger.
	SaveSnapshot(snap *models.LedgerSnapshot) error

	// LoadSnapshot returns the stored ledger, or (nil, nil) when none exists.
	LoadSnapshot() (*models.LedgerSnapshot, error)

	// Close releases the underlying database.
	Close() error
}
