// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector. Gauges are set, counters are added to.

package control

import (
	"sync"
	"time"
)

// Metric keys reported by the relay servers and clients.
const (
	MetricConnectionsActive   = "connections.active"
	MetricConnectionsAccepted = "connections.accepted"
	MetricConnectionsClosed   = "connections.closed"
	MetricMessagesReceived    = "messages.received"
	MetricMessagesRelayed     = "messages.relayed"
	MetricMessagesSent        = "messages.sent"
	MetricBytesIn             = "bytes.in"
	MetricBytesOut            = "bytes.out"
	MetricAcceptErrors        = "accept.errors"
	MetricSlowPeersDropped    = "peers.dropped_slow"
)

// MetricsRegistry holds named numeric metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]int64
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]int64),
	}
}

// Set sets a gauge.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments a counter by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	mr.mu.Lock()
	mr.metrics[key] += delta
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get returns a single metric.
func (mr *MetricsRegistry) Get(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.metrics[key]
}

// GetSnapshot returns the latest metrics and when they last changed.
func (mr *MetricsRegistry) GetSnapshot() (map[string]int64, time.Time) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out, mr.updated
}
