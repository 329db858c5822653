// Package metrics provides an optional Prometheus-backed observability
// surface for the cache core. Every metric is reached through an
// interface so that callers who never call InitRegistry pay zero
// overhead: the constructor returns a nil CacheMetrics, and every method
// on the Prometheus implementation is nil-receiver safe.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the package-level Prometheus registry. Must be
// called before NewCacheMetrics for metrics collection to be enabled;
// without it, NewCacheMetrics returns nil and all recording calls are
// no-ops.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// GetRegistry returns the package-level registry, or nil if InitRegistry
// has not been called.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}
