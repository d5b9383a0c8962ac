package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"solana-copy-trader/internal/models"

	"github.com/dgraph-io/badger/v3"
)

var ledgerKey = []byte("ledger_snapshot")

// badgerRepository keeps the latest ledger snapshot in BadgerDB.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB at dbPath.
func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; DB errors are still returned.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}
	return &badgerRepository{db: db}, nil
}

// NewInMemoryRepository opens a BadgerDB that never touches disk.
func NewInMemoryRepository() (SnapshotRepository, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &badgerRepository{db: db}, nil
}

func (r *badgerRepository) SaveSnapshot(snap *models.LedgerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ledgerKey, data)
	})
}

func (r *badgerRepository) LoadSnapshot() (*models.LedgerSnapshot, error) {
	var snap models.LedgerSnapshot

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ledgerKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("ledger snapshot is empty in database")
			}
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
