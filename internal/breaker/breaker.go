// Package breaker implements the per-provider circuit breaker (C4): a
// named registry of CLOSED/OPEN/HALF_OPEN state machines, generalized from
// a fixed failure-count breaker into one driven by configurable
// thresholds and timeouts.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/observability"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// stateGaugeValue maps State to the CircuitBreakerState gauge convention
// (0=closed, 1=half-open, 2=open).
func stateGaugeValue(s State) float64 {
	switch s {
	case HalfOpen:
		return 1
	case Open:
		return 2
	default:
		return 0
	}
}

// Config tunes one breaker's thresholds.
type Config struct {
	FailureThreshold  int
	TimeoutMs         int // op timeout enforced by Execute
	ResetTimeoutMs    int // time OPEN waits before probing HALF_OPEN
	HalfOpenMaxAttempts int
}

// DefaultConfig mirrors the teacher's original fixed policy before it was
// generalized: three consecutive failures, 30s cooldown.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		TimeoutMs:           10_000,
		ResetTimeoutMs:      30_000,
		HalfOpenMaxAttempts: 1,
	}
}

// Stats is the snapshot returned by Breaker.Stats.
type Stats struct {
	TotalRequests   int64
	FailedRequests  int64
	SuccessRate     float64
	FailureRate     float64
	State           State
	LastStateChange time.Time
}

// Breaker is one named circuit, guarding calls to a single provider.
type Breaker struct {
	mu     sync.Mutex
	id     string
	cfg    Config
	clock  domain.Clock
	sink   domain.EventSink

	state            State
	failureCount     int
	halfOpenAttempts int
	nextAttemptTime  time.Time
	lastStateChange  time.Time

	totalRequests  int64
	failedRequests int64
}

func newBreaker(id string, cfg Config, clk domain.Clock, sink domain.EventSink) *Breaker {
	return &Breaker{
		id:              id,
		cfg:             cfg,
		clock:           clk,
		sink:            sink,
		state:           Closed,
		lastStateChange: clk.Now(),
	}
}

// Execute runs op, guarded by the breaker's current state. fallback, if
// non-nil, runs instead of op when the circuit is OPEN and not yet due for
// a probe.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) (domain.Response, error), fallback func(context.Context) (domain.Response, error)) (domain.Response, error) {
	if allow, useFallback := b.admit(); !allow {
		if useFallback && fallback != nil {
			return fallback(ctx)
		}
		return domain.Response{}, domain.ErrCircuitOpen
	}

	opCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.TimeoutMs > 0 {
		opCtx, cancel = context.WithTimeout(ctx, time.Duration(b.cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := op(opCtx)
	b.record(ctx, err == nil, classifyErrorKind(err))
	return resp, err
}

// classifyErrorKind recovers the ErrorKind a provider client attached to
// err, defaulting to ErrKindUnknown (which penalizes the breaker) for
// errors that were never classified.
func classifyErrorKind(err error) domain.ErrorKind {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return domain.ErrKindUnknown
}

// admit decides whether a call may proceed, and whether the open-circuit
// fallback should be used if not. It also performs the OPEN→HALF_OPEN
// transition when the reset timeout has elapsed.
func (b *Breaker) admit() (allow bool, useFallback bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case Closed:
		return true, false
	case Open:
		if now.Before(b.nextAttemptTime) {
			return false, true
		}
		b.transitionLocked(HalfOpen, "reset-timeout-elapsed")
		b.halfOpenAttempts = 0
		return true, false
	case HalfOpen:
		return true, false
	default:
		return false, true
	}
}

// record updates counters and runs the state transition table from a
// completed call's outcome. Failures whose kind does not penalize the
// breaker (client errors: bad request, auth) are skipped entirely — they
// neither count toward the failure threshold nor get tallied as a
// failed request, per the ProviderClientError policy.
func (b *Breaker) record(ctx context.Context, success bool, kind domain.ErrorKind) {
	if !success && !kind.PenalizesBreaker() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	if !success {
		b.failedRequests++
	}

	switch b.state {
	case HalfOpen:
		if success {
			b.transitionLocked(Closed, "probe-succeeded")
			b.failureCount = 0
			return
		}
		b.halfOpenAttempts++
		if b.halfOpenAttempts >= max(b.cfg.HalfOpenMaxAttempts, 1) {
			b.openLocked("probe-failed")
		}
	case Closed:
		if success {
			b.failureCount = 0
			return
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.openLocked("failure-threshold-reached")
		}
	case Open:
		// A call that slipped through admit() racing a transition; treat
		// like Closed bookkeeping without re-opening an already-open circuit.
		if success {
			b.failureCount = 0
		}
	}

	_ = ctx
}

func (b *Breaker) openLocked(reason string) {
	b.nextAttemptTime = b.clock.Now().Add(time.Duration(b.cfg.ResetTimeoutMs) * time.Millisecond)
	b.transitionLocked(Open, reason)
}

func (b *Breaker) transitionLocked(next State, reason string) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.lastStateChange = b.clock.Now()
	observability.CircuitBreakerState.WithLabelValues(b.id).Set(stateGaugeValue(next))

	if b.sink != nil {
		b.sink.Emit(context.Background(), domain.EventCircuitStateChange, map[string]any{
			"circuitId": b.id,
			"prev":      prev.String(),
			"next":      next.String(),
			"at":        b.lastStateChange,
			"reason":    reason,
		})
	}
}

// Reset forces the breaker back to CLOSED and zeroes its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.halfOpenAttempts = 0
	b.transitionLocked(Closed, "manual-reset")
}

// ForceOpen manually trips the breaker open, e.g. from an admin endpoint.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openLocked(reason)
}

// ForceClosed manually closes the breaker.
func (b *Breaker) ForceClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.transitionLocked(Closed, "manual-close")
}

// State reports the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats reports a point-in-time snapshot for dashboards and /stats.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	var successRate, failureRate float64
	if b.totalRequests > 0 {
		successRate = float64(b.totalRequests-b.failedRequests) / float64(b.totalRequests)
		failureRate = float64(b.failedRequests) / float64(b.totalRequests)
	}
	return Stats{
		TotalRequests:   b.totalRequests,
		FailedRequests:  b.failedRequests,
		SuccessRate:     successRate,
		FailureRate:     failureRate,
		State:           b.state,
		LastStateChange: b.lastStateChange,
	}
}

// Registry is a named collection of breakers, one per provider, created
// lazily on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	clock    domain.Clock
	sink     domain.EventSink
}

// NewRegistry constructs a Registry that lazily creates breakers with cfg.
func NewRegistry(cfg Config, clk domain.Clock, sink domain.EventSink) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		clock:    clk,
		sink:     sink,
	}
}

// Get returns the breaker for id, creating it if this is the first call.
func (r *Registry) Get(id string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b := newBreaker(id, r.cfg, r.clock, r.sink)
	r.breakers[id] = b
	return b
}

// AllStats returns a snapshot of every breaker currently registered.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	ids := make([]string, 0, len(r.breakers))
	breakers := make([]*Breaker, 0, len(r.breakers))
	for id, b := range r.breakers {
		ids = append(ids, id)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(ids))
	for i, id := range ids {
		out[id] = breakers[i].Stats()
	}
	return out
}
