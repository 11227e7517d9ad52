// Package selector implements the provider selection strategies (C6):
// round-robin, lowest-latency, cost-biased, and model-pinned.
package selector

import (
	"sort"
	"sync"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// Strategy picks one provider name out of the healthy candidates for a
// given model request. It returns domain.ErrNoHealthyProvider when no
// candidate qualifies.
type Strategy interface {
	Select(candidates []domain.ProviderHealth, providers map[string]domain.ProviderConfig, model string) (string, error)
}

// LowestLatency picks the healthy candidate with the smallest observed
// latency.
type LowestLatency struct{}

func (LowestLatency) Select(candidates []domain.ProviderHealth, _ map[string]domain.ProviderConfig, _ string) (string, error) {
	if len(candidates) == 0 {
		return "", domain.ErrNoHealthyProvider
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LatencyMs < best.LatencyMs {
			best = c
		}
	}
	return best.Provider, nil
}

// RoundRobin keeps a process-local index modulo the healthy set. It is
// intentionally not coordinated across instances — selection is
// best-effort, not a strict load-balancing guarantee.
type RoundRobin struct {
	mu  sync.Mutex
	idx int
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Select(candidates []domain.ProviderHealth, _ map[string]domain.ProviderConfig, _ string) (string, error) {
	if len(candidates) == 0 {
		return "", domain.ErrNoHealthyProvider
	}
	sorted := make([]domain.ProviderHealth, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Provider < sorted[j].Provider })

	r.mu.Lock()
	defer r.mu.Unlock()
	pick := sorted[r.idx%len(sorted)]
	r.idx++
	return pick.Provider, nil
}

// CostBiased picks the healthy candidate whose model cost (input+output
// per token) is lowest for the requested model, breaking ties on latency.
type CostBiased struct{}

func (CostBiased) Select(candidates []domain.ProviderHealth, providers map[string]domain.ProviderConfig, model string) (string, error) {
	if len(candidates) == 0 {
		return "", domain.ErrNoHealthyProvider
	}

	type scored struct {
		health domain.ProviderHealth
		cost   float64
		ok     bool
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		cfg, ok := providers[c.Provider]
		if !ok {
			scoredList = append(scoredList, scored{health: c, ok: false})
			continue
		}
		mc, ok := cfg.ModelConfigFor(model)
		if !ok {
			scoredList = append(scoredList, scored{health: c, ok: false})
			continue
		}
		scoredList = append(scoredList, scored{health: c, cost: mc.InputCostPerToken + mc.OutputCostPerToken, ok: true})
	}

	var best *scored
	for i := range scoredList {
		s := &scoredList[i]
		if !s.ok {
			continue
		}
		if best == nil || s.cost < best.cost || (s.cost == best.cost && s.health.LatencyMs < best.health.LatencyMs) {
			best = s
		}
	}
	if best == nil {
		// No candidate has cost data for this model; fall back to
		// lowest-latency among all healthy candidates rather than fail.
		return LowestLatency{}.Select(candidates, providers, model)
	}
	return best.health.Provider, nil
}

// ModelPinned bypasses every other strategy when options.model maps to
// exactly one provider.
type ModelPinned struct {
	Inner Strategy
}

func (m ModelPinned) Select(candidates []domain.ProviderHealth, providers map[string]domain.ProviderConfig, model string) (string, error) {
	if model != "" {
		var pinned string
		matches := 0
		for name, cfg := range providers {
			if _, ok := cfg.ModelConfigFor(model); ok {
				pinned = name
				matches++
			}
		}
		if matches == 1 {
			for _, c := range candidates {
				if c.Provider == pinned {
					return pinned, nil
				}
			}
			return "", domain.ErrNoHealthyProvider
		}
	}
	inner := m.Inner
	if inner == nil {
		inner = LowestLatency{}
	}
	return inner.Select(candidates, providers, model)
}

// FilterHealthy narrows a full health snapshot down to the candidate pool
// usable by a Strategy, excluding any name in exclude.
func FilterHealthy(records map[string]domain.ProviderHealth, exclude map[string]bool) []domain.ProviderHealth {
	out := make([]domain.ProviderHealth, 0, len(records))
	for name, rec := range records {
		if exclude != nil && exclude[name] {
			continue
		}
		if rec.Status != domain.HealthUnhealthy {
			out = append(out, rec)
		}
	}
	return out
}

