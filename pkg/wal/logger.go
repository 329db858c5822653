// Package wal defines the logging collaborator the cache core depends on.
//
// The write-ahead log itself — its on-disk format, its own recovery path —
// lives entirely outside this module (spec.md §1 treats it as an external
// collaborator). The cache core only needs two things from it: a way to
// obtain the LSN a checkpoint should be stamped with, and a place to log
// the begin/end checkpoint records. Logger captures exactly that surface.
package wal

import "errors"

// ErrLoggerClosed is returned when a Logger is used after Close.
var ErrLoggerClosed = errors.New("logger is closed")

// LSN is a log sequence number. The log is the sole authority on ordering;
// the cache core treats LSN as an opaque, monotonically increasing value.
type LSN uint64

// ZeroLSN is the LSN used before any checkpoint has run.
const ZeroLSN LSN = 0

// Logger is the cache core's view of the write-ahead log.
//
// Thread safety: implementations must be safe for concurrent use; the
// checkpointer calls NextLSN/LogBegin from begin_checkpoint and LogEnd
// from end_checkpoint, and these may overlap with client threads logging
// through other paths not modeled in this module.
type Logger interface {
	// NextLSN returns the LSN a new checkpoint should be stamped with.
	NextLSN() (LSN, error)

	// LogBegin writes the begin-checkpoint record for lsn.
	LogBegin(lsn LSN) error

	// LogEnd writes the end-checkpoint record for lsn.
	LogEnd(lsn LSN) error

	// Close releases resources held by the logger.
	Close() error
}

// NullLogger is a no-op Logger, for running the cache without a log
// attached (e.g. in unit tests that don't exercise durability).
type NullLogger struct {
	next LSN
}

// NewNullLogger creates a NullLogger starting at ZeroLSN.
func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

// NextLSN returns a monotonically increasing LSN; it never fails.
func (l *NullLogger) NextLSN() (LSN, error) {
	l.next++
	return l.next, nil
}

// LogBegin is a no-op.
func (l *NullLogger) LogBegin(lsn LSN) error { return nil }

// LogEnd is a no-op.
func (l *NullLogger) LogEnd(lsn LSN) error { return nil }

// Close is a no-op.
func (l *NullLogger) Close() error { return nil }

// Ensure NullLogger implements Logger.
var _ Logger = (*NullLogger)(nil)
