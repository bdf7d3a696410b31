// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resilience

import "sync/atomic"

// Metrics counts resilience events across the pipeline. All methods are
// safe for concurrent use.
type Metrics struct {
	calls       atomic.Int64
	failures    atomic.Int64
	retries     atomic.Int64
	timeouts    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	rejections  atomic.Int64
}

// NewMetrics creates zeroed counters.
func NewMetrics() *Metrics { return &Metrics{} }

// IncCalls counts one external-service call attempt.
func (m *Metrics) IncCalls() { m.calls.Add(1) }

// IncFailures counts one failed external-service call.
func (m *Metrics) IncFailures() { m.failures.Add(1) }

// IncRetries counts one retry of a failed call.
func (m *Metrics) IncRetries() { m.retries.Add(1) }

// IncTimeouts counts one timeout-budget overrun.
func (m *Metrics) IncTimeouts() { m.timeouts.Add(1) }

// IncCacheHits counts one cache hit.
func (m *Metrics) IncCacheHits() { m.cacheHits.Add(1) }

// IncCacheMisses counts one cache miss.
func (m *Metrics) IncCacheMisses() { m.cacheMisses.Add(1) }

// IncRejections counts one call rejected by an open circuit.
func (m *Metrics) IncRejections() { m.rejections.Add(1) }

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Calls       int64 `json:"calls" yaml:"calls"`
	Failures    int64 `json:"failures" yaml:"failures"`
	Retries     int64 `json:"retries" yaml:"retries"`
	Timeouts    int64 `json:"timeouts" yaml:"timeouts"`
	CacheHits   int64 `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses int64 `json:"cache_misses" yaml:"cache_misses"`
	Rejections  int64 `json:"rejections" yaml:"rejections"`
}

// Snapshot reads all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Calls:       m.calls.Load(),
		Failures:    m.failures.Load(),
		Retries:     m.retries.Load(),
		Timeouts:    m.timeouts.Load(),
		CacheHits:   m.cacheHits.Load(),
		CacheMisses: m.cacheMisses.Load(),
		Rejections:  m.rejections.Load(),
	}
}
