package cache

import "time"

// CacheMetrics is the observability surface the cache core reports
// through. Implementations must tolerate a nil receiver so that callers
// can pass a disabled metrics instance with zero overhead (the
// Prometheus implementation in pkg/metrics/prometheus follows this
// convention).
type CacheMetrics interface {
	// RecordPin is called once per get_and_pin, reporting whether the
	// lookup was a hit or required a fetch.
	RecordPin(hit bool, duration time.Duration)

	// RecordUnpin is called once per unpin.
	RecordUnpin(dirty bool)

	// RecordFetch is called after a fetch callback returns.
	RecordFetch(bytes uint32, duration time.Duration, err error)

	// RecordFlush is called after a flush callback returns.
	RecordFlush(bytes uint32, duration time.Duration, isClone bool, forCheckpoint bool, err error)

	// RecordEviction is called once per pair removed by the evictor.
	RecordEviction(partial bool)

	// SetCacheSize reports size_current after it changes.
	SetCacheSize(bytes uint64)

	// SetPairCount reports the resident pair count after it changes.
	SetPairCount(n int)

	// RecordCheckpoint is called once end_checkpoint returns, reporting
	// how many pairs were written and how long the checkpoint took.
	RecordCheckpoint(pairsWritten int, duration time.Duration, err error)

	// RecordCleanerSweep is called once per cleaner run.
	RecordCleanerSweep(invocations int)

	// RecordFlowControlWait is called when a client thread blocks on the
	// flow-control condition, and again when it wakes.
	RecordFlowControlWait(waiting bool)
}
