package metrics

import (
	"github.com/tokudb-go/cachetable/pkg/cache"
)

// NewCacheMetrics creates a new Prometheus-backed cache.CacheMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called). When
// nil is returned, callers should pass nil to cache.Create, which
// results in zero overhead.
func NewCacheMetrics() cache.CacheMetrics {
	if !IsEnabled() {
		return nil
	}
	if newPrometheusCacheMetrics == nil {
		return nil
	}
	return newPrometheusCacheMetrics()
}

// newPrometheusCacheMetrics is set by pkg/metrics/prometheus/cache.go's
// package init. This indirection avoids an import cycle between
// pkg/metrics and pkg/metrics/prometheus (which must import pkg/cache
// for the interface and pkg/metrics for the registry).
var newPrometheusCacheMetrics func() cache.CacheMetrics

// RegisterCacheMetricsConstructor registers the Prometheus cache metrics
// constructor. Called by pkg/metrics/prometheus/cache.go's init.
func RegisterCacheMetricsConstructor(constructor func() cache.CacheMetrics) {
	newPrometheusCacheMetrics = constructor
}
