package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so the cache core's logs aggregate and query
// cleanly regardless of which subsystem (evictor, checkpointer, cleaner,
// pin protocol) emitted them.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation
	// ========================================================================
	KeyOperation = "operation" // get_and_pin, unpin, begin_checkpoint, evict, ...
	KeyStatus    = "status"    // Operation status code
	KeyStatusMsg = "status_msg"

	// ========================================================================
	// Cachefile / Pair identity
	// ========================================================================
	KeyFileNum  = "filenum"  // Cachefile's allocated filenum
	KeyPath     = "path"     // Backing file path
	KeyBlockNum = "blocknum" // Block key within the file
	KeyHash     = "hash"     // Precomputed pair hash

	// ========================================================================
	// I/O
	// ========================================================================
	KeySize  = "size"  // Page size in bytes
	KeyDirty = "dirty" // Dirty bit

	// ========================================================================
	// Cache Layer
	// ========================================================================
	KeyCacheSize     = "cache_size"     // size_current
	KeyCacheCapacity = "cache_capacity" // low/high watermark
	KeyEvicted       = "evicted"        // Number of pairs evicted
	KeyPinCount      = "pin_count"      // Clock count at time of log

	// ========================================================================
	// Checkpoint
	// ========================================================================
	KeyLSN         = "lsn"
	KeyCheckpoint  = "checkpoint"
	KeyIsClone     = "is_clone"
	KeyForCheckpoint = "for_checkpoint"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the cache operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Status returns a slog.Attr for operation status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Path returns a slog.Attr for a backing file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// FileNum returns a slog.Attr for a cachefile's filenum
func FileNum(n uint32) slog.Attr {
	return slog.Any(KeyFileNum, n)
}

// BlockNum returns a slog.Attr for a pair's block key
func BlockNum(n int64) slog.Attr {
	return slog.Int64(KeyBlockNum, n)
}

// Size returns a slog.Attr for a page size
func Size(s uint32) slog.Attr {
	return slog.Any(KeySize, s)
}

// Dirty returns a slog.Attr for a pair's dirty bit
func Dirty(dirty bool) slog.Attr {
	return slog.Bool(KeyDirty, dirty)
}

// CacheSize returns a slog.Attr for current cache size
func CacheSize(size uint64) slog.Attr {
	return slog.Any(KeyCacheSize, size)
}

// CacheCapacity returns a slog.Attr for a cache watermark
func CacheCapacity(capacity uint64) slog.Attr {
	return slog.Any(KeyCacheCapacity, capacity)
}

// Evicted returns a slog.Attr for number of pairs evicted
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// LSN returns a slog.Attr for a checkpoint log sequence number
func LSN(lsn uint64) slog.Attr {
	return slog.Any(KeyLSN, lsn)
}

// IsClone returns a slog.Attr for whether a write used a clone
func IsClone(isClone bool) slog.Attr {
	return slog.Bool(KeyIsClone, isClone)
}

// ForCheckpoint returns a slog.Attr for whether a write is checkpoint-driven
func ForCheckpoint(forCheckpoint bool) slog.Attr {
	return slog.Bool(KeyForCheckpoint, forCheckpoint)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
