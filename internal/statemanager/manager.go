// Package statemanager persists the position ledger off the trading path.
package statemanager

import (
	"sync"
	"time"

	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	// LedgerChangedEvent schedules a debounced save.
	LedgerChangedEvent EventType = iota
	// FlushEvent saves immediately.
	FlushEvent
)

const defaultDebounce = 2 * time.Second

// LedgerSource is the state being persisted.
type LedgerSource interface {
	Snapshot() *models.LedgerSnapshot
	Restore(snap *models.LedgerSnapshot)
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
}

// StateManager coalesces ledger change notifications and writes snapshots
// from a single persistence goroutine.
type StateManager struct {
	source          LedgerSource
	repo            persistence.SnapshotRepository
	debounce        time.Duration
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.LedgerSnapshot
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger

	mu     sync.Mutex
	saves  int
	failed int
}

// NewStateManager creates a StateManager. A non-positive debounce uses 2s.
func NewStateManager(source LedgerSource, repo persistence.SnapshotRepository, debounce time.Duration, logger *zap.Logger) *StateManager {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &StateManager{
		source:          source,
		repo:            repo,
		debounce:        debounce,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.LedgerSnapshot, 1),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Load restores the last saved snapshot into the source. It reports whether
// anything was restored.
func (sm *StateManager) Load() (bool, error) {
	if sm.repo == nil {
		return false, nil
	}
	snap, err := sm.repo.LoadSnapshot()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	sm.source.Restore(snap)
	sm.logger.Sugar().Infof("StateManager: restored ledger snapshot saved at %s (%d mints)",
		snap.SavedAt.Format(time.RFC3339), len(snap.Positions))
	return true, nil
}

// Start begins the event and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop ends both loops and writes a final snapshot.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.save(sm.source.Snapshot())
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// DispatchEvent queues an event without blocking. A full queue already has
// a pending save, so the event is redundant.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	select {
	case sm.eventChannel <- event:
	default:
	}
}

// LedgerChanged is the hook wired into the ledger.
func (sm *StateManager) LedgerChanged() {
	sm.DispatchEvent(NormalizedEvent{Type: LedgerChangedEvent, Timestamp: time.Now()})
}

// Flush asks for an immediate save.
func (sm *StateManager) Flush() {
	sm.DispatchEvent(NormalizedEvent{Type: FlushEvent, Timestamp: time.Now()})
}

// Saves returns the number of successful and failed saves.
func (sm *StateManager) Saves() (ok, failed int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.saves, sm.failed
}

// eventLoop debounces change events into snapshots.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event := <-sm.eventChannel:
			switch event.Type {
			case FlushEvent:
				if timer != nil {
					timer.Stop()
					fire = nil
				}
				sm.enqueue()
			case LedgerChangedEvent:
				if fire == nil {
					timer = time.NewTimer(sm.debounce)
					fire = timer.C
				}
			default:
				sm.logger.Sugar().Warnf("StateManager: unexpected event type %d", event.Type)
			}
		case <-fire:
			fire = nil
			sm.enqueue()
		case <-sm.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// enqueue hands the newest snapshot to the persistence loop, replacing one
// that has not been written yet.
func (sm *StateManager) enqueue() {
	snap := sm.source.Snapshot()
	for {
		select {
		case sm.persistenceChan <- snap:
			return
		default:
			select {
			case <-sm.persistenceChan:
			default:
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case snap := <-sm.persistenceChan:
			sm.save(snap)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) save(snap *models.LedgerSnapshot) {
	if sm.repo == nil || snap == nil {
		return
	}
	err := sm.repo.SaveSnapshot(snap)
	sm.mu.Lock()
	if err != nil {
		sm.failed++
	} else {
		sm.saves++
	}
	sm.mu.Unlock()
	if err != nil {
		sm.logger.Sugar().Errorf("CRITICAL: Failed to save ledger snapshot: %v", err)
	}
}
