package blockhash

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-copy-trader/internal/models"

	"go.uber.org/zap"
)

// Registry shares one started Manager per RPC endpoint across the process.
type Registry struct {
	cfg    models.BlockhashConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg models.BlockhashConfig, logger *zap.Logger, now func() time.Time) *Registry {
	return &Registry{cfg: cfg, logger: logger, now: now, managers: make(map[string]*Manager)}
}

// Manager returns the manager for src's endpoint, creating and starting it
// on first use.
func (r *Registry) Manager(ctx context.Context, src Source) *Manager {
	r.mu.Lock()
	if m, ok := r.managers[src.Endpoint()]; ok {
		r.mu.Unlock()
		return m
	}
	m := NewManager(src, r.cfg, r.logger, r.now)
	r.managers[src.Endpoint()] = m
	r.mu.Unlock()

	m.Start(ctx)
	return m
}

// Lookup returns an existing manager without creating one.
func (r *Registry) Lookup(endpoint string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[endpoint]
	return m, ok
}

// StopAll stops and forgets every manager.
func (r *Registry) StopAll() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()
	for endpoint, m := range managers {
		m.Stop()
		r.logger.Sugar().Infof("Blockhash: stopped manager for %s", endpoint)
	}
}

// Statuses lists every manager's status ordered by endpoint.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Totals aggregates refresh statistics across managers.
func (r *Registry) Totals() Stats {
	var total Stats
	var weighted time.Duration
	for _, st := range r.Statuses() {
		total.TotalUpdates += st.Stats.TotalUpdates
		total.SuccessfulUpdates += st.Stats.SuccessfulUpdates
		total.FailedUpdates += st.Stats.FailedUpdates
		weighted += st.Stats.AverageUpdateTime * time.Duration(st.Stats.SuccessfulUpdates)
		if st.Stats.LastError != "" {
			total.LastError = st.Stats.LastError
		}
	}
	if total.SuccessfulUpdates > 0 {
		total.AverageUpdateTime = weighted / time.Duration(total.SuccessfulUpdates)
	}
	return total
}

// HealthCheck reports, per endpoint, whether the manager holds a valid
// blockhash and its last refresh succeeded.
func (r *Registry) HealthCheck() map[string]bool {
	out := make(map[string]bool)
	for _, st := range r.Statuses() {
		out[st.Endpoint] = st.Valid && st.Healthy
	}
	return out
}
