// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resilience provides the shared failure-handling primitives for
/// components that call external services: per-dependency circuit breakers,
// a TTL cache, per-operation timeout budgets, a reusable retry policy, and
// metrics counters.
//
// See docs/ARCHITECTURE.md § Resilience Layer.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without
// attempting the network.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the lifecycle state of a circuit breaker.
type BreakerState string

const (
	// StateClosed allows calls; failures are counted.
	StateClosed BreakerState = "closed"

	// StateOpen rejects calls immediately.
	StateOpen BreakerState = "open"

	// StateHalfOpen allows exactly one trial call.
	StateHalfOpen BreakerState = "half-open"
)

// Breaker is a circuit breaker for one named external dependency. Created
// lazily by a Registry and kept for the process lifetime.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	// metrics, when set, counts rejected calls.
	metrics *Metrics

	// now is the clock; tests substitute it.
	now func() time.Time
}

// NewBreaker creates a closed breaker. Threshold is the consecutive-failure
// count that opens it; timeout is how long it stays open before allowing a
// trial call.
func NewBreaker(name string, threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Instrument attaches metrics counters to the breaker. Returns b for
// chaining.
func (b *Breaker) Instrument(m *Metrics) *Breaker {
	b.metrics = m
	return b
}

// Do runs fn through the breaker. An open circuit returns ErrCircuitOpen
// without calling fn. In the half-open state only the single trial call
// proceeds; its outcome decides the next state.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		if b.metrics != nil {
			b.metrics.IncRejections()
		}
		return fmt.Errorf("%s: %w", b.name, err)
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning OPEN to
// HALF_OPEN once the open timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	default:
		// Half-open: the trial call is already in flight.
		return ErrCircuitOpen
	}
}

// record applies a call outcome to the breaker state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// Snapshot is a point-in-time view of a breaker for reporting.
type Snapshot struct {
	Name        string        `json:"name" yaml:"name"`
	State       BreakerState  `json:"state" yaml:"state"`
	Failures    int           `json:"failures" yaml:"failures"`
	LastFailure time.Time     `json:"last_failure,omitempty" yaml:"last_failure,omitempty"`
	Threshold   int           `json:"threshold" yaml:"threshold"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// Snapshot returns the breaker's current state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Threshold:   b.threshold,
		Timeout:     b.timeout,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry creates and holds one breaker per external-service name.
type Registry struct {
	threshold int
	timeout   time.Duration
	metrics   *Metrics

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share threshold and timeout.
func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		threshold: threshold,
		timeout:   timeout,
		breakers:  make(map[string]*Breaker),
	}
}

// Instrument attaches metrics counters to every breaker the registry
// creates. Returns r for chaining.
func (r *Registry) Instrument(m *Metrics) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	for _, b := range r.breakers {
		b.Instrument(m)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.threshold, r.timeout).Instrument(r.metrics)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns the state of every breaker created so far.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
