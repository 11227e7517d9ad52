// Package health runs the periodic provider health probe loop (C5): every
// tick it fans a lightweight probe out to each registered provider in
// parallel and atomically replaces that provider's health record.
package health

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

const (
	// TickInterval is how often the monitor fans out probes.
	TickInterval = 30 * time.Second
	// ProbeDeadline bounds a single provider's probe.
	ProbeDeadline = 5 * time.Second
)

// Monitor owns the current health record for every registered provider and
// keeps it fresh on a ticker.
type Monitor struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderClient
	records   map[string]domain.ProviderHealth
	clock     domain.Clock
	logger    *slog.Logger

	stop chan struct{}
	once sync.Once
}

// NewMonitor constructs a Monitor over the given providers, keyed by
// provider name.
func NewMonitor(providers map[string]domain.ProviderClient, clk domain.Clock, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		providers: providers,
		records:   make(map[string]domain.ProviderHealth, len(providers)),
		clock:     clk,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start probes every provider once immediately, then every TickInterval
// until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.probeAll(ctx)

	ticker := time.NewTicker(TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts the polling goroutine; safe to call multiple times.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	providers := make([]domain.ProviderClient, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p domain.ProviderClient) {
			defer wg.Done()
			m.probeOne(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, p domain.ProviderClient) {
	probeCtx, cancel := context.WithTimeout(ctx, ProbeDeadline)
	defer cancel()

	start := m.clock.Now()
	rec, err := p.HealthCheck(probeCtx)
	latency := m.clock.Now().Sub(start)

	if err != nil {
		rec = domain.ProviderHealth{
			Provider:      p.GetName(),
			Status:        domain.HealthUnhealthy,
			LatencyMs:     latency.Milliseconds(),
			LastChecked:   m.clock.Now(),
			FailureReason: err.Error(),
		}
		m.logger.Warn("provider health probe failed", "provider", p.GetName(), "error", err)
	} else {
		rec.Status = domain.ClassifyHealth(true, latency)
		rec.LatencyMs = latency.Milliseconds()
		rec.LastChecked = m.clock.Now()
	}

	m.mu.Lock()
	m.records[p.GetName()] = rec
	m.mu.Unlock()
}

// Get returns the last known health record for name.
func (m *Monitor) Get(name string) (domain.ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	return rec, ok
}

// All returns a snapshot of every known provider's health record.
func (m *Monitor) All() map[string]domain.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ProviderHealth, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// Healthy returns the names of providers currently classified healthy or
// degraded (i.e. not unhealthy) — the candidate pool for selection.
func (m *Monitor) Healthy() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, rec := range m.records {
		if rec.Status != domain.HealthUnhealthy {
			names = append(names, name)
		}
	}
	return names
}
