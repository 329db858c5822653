package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokudb-go/cachetable/pkg/cache"
	"github.com/tokudb-go/cachetable/pkg/metrics"
)

func init() {
	metrics.RegisterCacheMetricsConstructor(NewCacheMetrics)
}

// cacheMetrics is the Prometheus implementation of cache.CacheMetrics.
// A nil *cacheMetrics is valid and every method is a no-op on it, so
// callers can pass NewCacheMetrics()'s result straight into cache.Create
// whether or not metrics are enabled.
type cacheMetrics struct {
	pinOperations   *prometheus.CounterVec
	pinDuration     prometheus.Histogram
	unpinOperations *prometheus.CounterVec
	fetchOperations *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	fetchBytes      prometheus.Histogram
	flushOperations *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	flushBytes      prometheus.Histogram
	evictions       *prometheus.CounterVec
	cacheSize       prometheus.Gauge
	pairCount       prometheus.Gauge
	checkpoints     *prometheus.CounterVec
	checkpointDur   prometheus.Histogram
	checkpointPairs prometheus.Histogram
	cleanerSweeps   prometheus.Counter
	cleanerWork     prometheus.Histogram
	flowControlWait prometheus.Gauge
}

var sizeBuckets = []float64{4096, 32768, 131072, 524288, 1048576, 4194304, 16777216}
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000}

// NewCacheMetrics creates a new Prometheus-backed CacheMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCacheMetrics() cache.CacheMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &cacheMetrics{
		pinOperations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_pin_operations_total",
			Help: "Total number of get_and_pin calls by hit/miss outcome",
		}, []string{"outcome"}),
		pinDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_pin_duration_milliseconds",
			Help:    "Duration of get_and_pin calls",
			Buckets: latencyBuckets,
		}),
		unpinOperations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_unpin_operations_total",
			Help: "Total number of unpin calls by dirty/clean outcome",
		}, []string{"dirty"}),
		fetchOperations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_fetch_operations_total",
			Help: "Total number of fetch callback invocations by result",
		}, []string{"result"}),
		fetchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_fetch_duration_milliseconds",
			Help:    "Duration of fetch callback invocations",
			Buckets: latencyBuckets,
		}),
		fetchBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_fetch_bytes",
			Help:    "Distribution of bytes returned by fetch callbacks",
			Buckets: sizeBuckets,
		}),
		flushOperations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_flush_operations_total",
			Help: "Total number of flush callback invocations by clone/checkpoint/result",
		}, []string{"is_clone", "for_checkpoint", "result"}),
		flushDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_flush_duration_milliseconds",
			Help:    "Duration of flush callback invocations",
			Buckets: latencyBuckets,
		}),
		flushBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_flush_bytes",
			Help:    "Distribution of bytes written by flush callbacks",
			Buckets: sizeBuckets,
		}),
		evictions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_evictions_total",
			Help: "Total number of pairs removed by the evictor, by kind",
		}, []string{"kind"}), // "full", "partial"
		cacheSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cachetable_size_bytes",
			Help: "Current resident size of the cache in bytes",
		}),
		pairCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cachetable_pair_count",
			Help: "Current number of resident pairs",
		}),
		checkpoints: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cachetable_checkpoints_total",
			Help: "Total number of completed checkpoints by result",
		}, []string{"result"}),
		checkpointDur: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_checkpoint_duration_milliseconds",
			Help:    "Duration of end_checkpoint calls",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}),
		checkpointPairs: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_checkpoint_pairs_written",
			Help:    "Number of pairs written per checkpoint",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		}),
		cleanerSweeps: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cachetable_cleaner_sweeps_total",
			Help: "Total number of cleaner sweeps run",
		}),
		cleanerWork: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cachetable_cleaner_invocations_per_sweep",
			Help:    "Number of cleaner callback invocations per sweep",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		}),
		flowControlWait: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cachetable_flow_control_waiting_threads",
			Help: "Current number of client threads blocked on flow control",
		}),
	}
}

func (m *cacheMetrics) RecordPin(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	m.pinOperations.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.pinDuration.Observe(duration.Seconds() * 1000)
	}
}

func (m *cacheMetrics) RecordUnpin(dirty bool) {
	if m == nil {
		return
	}
	m.unpinOperations.WithLabelValues(boolLabel(dirty)).Inc()
}

func (m *cacheMetrics) RecordFetch(bytes uint32, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchOperations.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.fetchDuration.Observe(duration.Seconds() * 1000)
		if bytes > 0 {
			m.fetchBytes.Observe(float64(bytes))
		}
	}
}

func (m *cacheMetrics) RecordFlush(bytes uint32, duration time.Duration, isClone bool, forCheckpoint bool, err error) {
	if m == nil {
		return
	}
	m.flushOperations.WithLabelValues(boolLabel(isClone), boolLabel(forCheckpoint), resultLabel(err)).Inc()
	if err == nil {
		if duration > 0 {
			m.flushDuration.Observe(duration.Seconds() * 1000)
		}
		if bytes > 0 {
			m.flushBytes.Observe(float64(bytes))
		}
	}
}

func (m *cacheMetrics) RecordEviction(partial bool) {
	if m == nil {
		return
	}
	kind := "full"
	if partial {
		kind = "partial"
	}
	m.evictions.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) SetCacheSize(bytes uint64) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(bytes))
}

func (m *cacheMetrics) SetPairCount(n int) {
	if m == nil {
		return
	}
	m.pairCount.Set(float64(n))
}

func (m *cacheMetrics) RecordCheckpoint(pairsWritten int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(resultLabel(err)).Inc()
	m.checkpointDur.Observe(duration.Seconds() * 1000)
	m.checkpointPairs.Observe(float64(pairsWritten))
}

func (m *cacheMetrics) RecordCleanerSweep(invocations int) {
	if m == nil {
		return
	}
	m.cleanerSweeps.Inc()
	m.cleanerWork.Observe(float64(invocations))
}

func (m *cacheMetrics) RecordFlowControlWait(waiting bool) {
	if m == nil {
		return
	}
	if waiting {
		m.flowControlWait.Inc()
	} else {
		m.flowControlWait.Dec()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ cache.CacheMetrics = (*cacheMetrics)(nil)
