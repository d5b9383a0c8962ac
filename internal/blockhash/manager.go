// Package blockhash keeps a recent blockhash warm in the background so swap
// construction never waits on an RPC round trip.
package blockhash

import (
	"context"
	"errors"
	"sync"
	"time"

	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/rpc"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNoBlockhash = errors.New("blockhash: none available")

// Source fetches blockhashes from one endpoint.
type Source interface {
	GetLatestBlockhash(ctx context.Context) (rpc.LatestBlockhash, error)
	Endpoint() string
}

type entry struct {
	hash                 string
	lastValidBlockHeight uint64
	at                   time.Time
}

// Stats counts refresh attempts.
type Stats struct {
	TotalUpdates      uint64
	SuccessfulUpdates uint64
	FailedUpdates     uint64
	AverageUpdateTime time.Duration
	LastError         string
}

// SuccessRate is the share of successful refreshes in percent.
func (s Stats) SuccessRate() float64 {
	if s.TotalUpdates == 0 {
		return 0
	}
	return float64(s.SuccessfulUpdates) / float64(s.TotalUpdates) * 100
}

// Status is a snapshot of a manager.
type Status struct {
	Endpoint            string
	Running             bool
	HasBlockhash        bool
	Blockhash           string
	AgeSlots            int
	Valid               bool
	Healthy             bool
	ConsecutiveFailures int
	Fallbacks           int
	LastUpdate          time.Time
	UpdateInterval      time.Duration
	Stats               Stats
}

// Manager refreshes a blockhash on a fixed interval and keeps the last few
// as fallbacks.
type Manager struct {
	src    Source
	cfg    models.BlockhashConfig
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group

	mu                  sync.RWMutex
	current             entry
	fallbacks           []entry
	healthy             bool
	consecutiveFailures int
	stats               Stats
	running             bool
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
}

// NewManager creates a manager for src. A nil clock means time.Now.
func NewManager(src Source, cfg models.BlockhashConfig, logger *zap.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if cfg.UpdateIntervalMs <= 0 {
		cfg.UpdateIntervalMs = 200
	}
	if cfg.MaxFallbacks <= 0 {
		cfg.MaxFallbacks = 5
	}
	if cfg.MaxAgeSlots <= 0 {
		cfg.MaxAgeSlots = 150
	}
	if cfg.SlotDurationMs <= 0 {
		cfg.SlotDurationMs = 400
	}
	if cfg.HealthCheckMs <= 0 {
		cfg.HealthCheckMs = 1000
	}
	if cfg.RequestTimeoutSec <= 0 {
		cfg.RequestTimeoutSec = 5
	}
	return &Manager{src: src, cfg: cfg, logger: logger, now: now, healthy: true}
}

// Start fetches once and launches the refresher and the age watchdog. A
// failed first fetch is logged, not fatal.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.Update(ctx); err != nil {
		m.logger.Sugar().Warnf("Blockhash: initial fetch from %s failed: %v", m.src.Endpoint(), err)
	}

	m.wg.Add(2)
	go m.loop(ctx, models.Ms(m.cfg.UpdateIntervalMs), func() { _ = m.Update(ctx) })
	go m.loop(ctx, models.Ms(m.cfg.HealthCheckMs), func() {
		if m.hasBlockhash() && m.Age() > m.cfg.MaxAgeSlots {
			m.logger.Sugar().Warnf("Blockhash: %d slots old, forcing update", m.Age())
			_ = m.Update(ctx)
		}
	})
	m.logger.Sugar().Infof("Blockhash: manager started for %s (%dms updates)", m.src.Endpoint(), m.cfg.UpdateIntervalMs)
}

// Stop halts the background goroutines.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context, every time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Update fetches a new blockhash. Concurrent callers share one request.
// On failure the newest fallback becomes current.
func (m *Manager) Update(ctx context.Context) error {
	_, err, _ := m.group.Do("update", func() (any, error) {
		return nil, m.fetch(ctx)
	})
	return err
}

func (m *Manager) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, models.Sec(m.cfg.RequestTimeoutSec))
	defer cancel()

	start := m.now()
	bh, err := m.src.GetLatestBlockhash(ctx)
	elapsed := m.now().Sub(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalUpdates++
	if err != nil {
		m.stats.FailedUpdates++
		m.stats.LastError = err.Error()
		m.healthy = false
		m.consecutiveFailures++
		if len(m.fallbacks) > 0 {
			m.current.hash = m.fallbacks[0].hash
			m.current.lastValidBlockHeight = m.fallbacks[0].lastValidBlockHeight
		}
		if m.consecutiveFailures%5 == 0 {
			m.logger.Sugar().Warnf("Blockhash: %d consecutive failures on %s: %v", m.consecutiveFailures, m.src.Endpoint(), err)
		}
		return err
	}

	n := m.stats.SuccessfulUpdates
	m.stats.AverageUpdateTime = time.Duration((int64(m.stats.AverageUpdateTime)*int64(n) + int64(elapsed)) / int64(n+1))
	m.stats.SuccessfulUpdates++
	m.stats.LastError = ""

	if m.current.hash != "" {
		m.fallbacks = append([]entry{m.current}, m.fallbacks...)
		if len(m.fallbacks) > m.cfg.MaxFallbacks {
			m.fallbacks = m.fallbacks[:m.cfg.MaxFallbacks]
		}
	}
	m.current = entry{hash: bh.Blockhash, lastValidBlockHeight: bh.LastValidBlockHeight, at: m.now()}
	m.healthy = true
	m.consecutiveFailures = 0
	return nil
}

func (m *Manager) hasBlockhash() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.hash != ""
}

// Age is the approximate number of slots since the last successful refresh.
func (m *Manager) Age() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ageLocked()
}

func (m *Manager) ageLocked() int {
	if m.current.at.IsZero() {
		return 0
	}
	return int(m.now().Sub(m.current.at) / models.Ms(m.cfg.SlotDurationMs))
}

// Current returns the cached blockhash without validation.
func (m *Manager) Current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.hash, m.current.hash != ""
}

// Get returns the cached blockhash, fetching one first if none is held.
func (m *Manager) Get(ctx context.Context) (string, error) {
	if h, ok := m.Current(); ok {
		return h, nil
	}
	if err := m.Update(ctx); err != nil {
		return "", err
	}
	if h, ok := m.Current(); ok {
		return h, nil
	}
	return "", ErrNoBlockhash
}

// ForTrading returns the current blockhash while it is young enough, else
// the newest fallback.
func (m *Manager) ForTrading() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.hash != "" && m.ageLocked() < m.cfg.MaxAgeSlots {
		return m.current.hash, true
	}
	if len(m.fallbacks) > 0 {
		return m.fallbacks[0].hash, true
	}
	return "", false
}

// Fresh forces a refresh and returns the result.
func (m *Manager) Fresh(ctx context.Context) (string, error) {
	if err := m.Update(ctx); err != nil {
		return "", err
	}
	h, ok := m.Current()
	if !ok {
		return "", ErrNoBlockhash
	}
	return h, nil
}

// IsValid reports whether the current blockhash is below the age limit.
func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.hash != "" && m.ageLocked() < m.cfg.MaxAgeSlots
}

// LastValidBlockHeight of the current blockhash.
func (m *Manager) LastValidBlockHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.lastValidBlockHeight
}

// Status snapshots the manager.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	age := m.ageLocked()
	return Status{
		Endpoint:            m.src.Endpoint(),
		Running:             m.running,
		HasBlockhash:        m.current.hash != "",
		Blockhash:           m.current.hash,
		AgeSlots:            age,
		Valid:               m.current.hash != "" && age < m.cfg.MaxAgeSlots,
		Healthy:             m.healthy,
		ConsecutiveFailures: m.consecutiveFailures,
		Fallbacks:           len(m.fallbacks),
		LastUpdate:          m.current.at,
		UpdateInterval:      models.Ms(m.cfg.UpdateIntervalMs),
		Stats:               m.stats,
	}
}
