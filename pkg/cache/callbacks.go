package cache

import "context"

// BlockKey identifies a page within a cachefile.
type BlockKey int64

// Attr carries callback-opaque per-pair size/attribute state. The core
// only inspects Size; everything else is round-tripped between fetch,
// flush and partial-eviction callbacks on behalf of the collaborator
// that owns the on-disk format.
type Attr struct {
	Size  uint32
	Extra any
}

// FlushCallback writes a pair's value to disk if write is true, and
// frees the in-memory value if keep is false. diskData is the
// collaborator-owned descriptor for where on disk the page lives.
//
// isClone indicates value is a checkpoint clone rather than the live
// value; forCheckpoint indicates the write is part of a checkpoint
// (as opposed to ordinary eviction). aggressive is propagated from
// EndCheckpoint and may be used to justify extra I/O (e.g. fsync).
type FlushCallback func(ctx context.Context, cf *Cachefile, key BlockKey, value any, diskData any, extra any, oldAttr Attr, write, keep, forCheckpoint, isClone, aggressive bool) (newAttr Attr, err error)

// FetchCallback loads a pair's value from disk on a cache miss.
type FetchCallback func(ctx context.Context, cf *Cachefile, key BlockKey, hash uint64, extra any) (value any, diskData any, attr Attr, dirty bool, err error)

// PartialEvictionEstimateCallback estimates how many bytes could be
// reclaimed by a partial eviction and whether the work is cheap enough
// to run inline on the eviction thread.
type PartialEvictionEstimateCallback func(value any, extra any) (bytesReclaimable uint32, cheap bool)

// PartialEvictionCallback performs a partial eviction in place,
// shrinking value without evicting the whole pair.
type PartialEvictionCallback func(ctx context.Context, value any, oldAttr Attr, extra any) (newAttr Attr, err error)

// CleanerCallback is invoked by the cleaner sweep on a pair it has
// non-blockingly read-pinned. didWork reports whether the callback
// performed any action, for observability only.
type CleanerCallback func(ctx context.Context, value any, extra any) (didWork bool, err error)

// CloneCallback produces a standalone snapshot of value suitable for a
// checkpoint write while the live value continues to be modified.
type CloneCallback func(value any, oldAttr Attr, forCheckpoint bool, extra any) (clone any, cloneAttr Attr, err error)

// FileCallbacks groups the file-level (cachefile-scoped) callback
// contracts invoked around the checkpoint protocol and file close.
// A Cachefile holds one FileCallbacks set, supplied by whatever
// collaborator owns the on-disk layout for that file (a tree, an
// index, a WAL-backed store...).
type FileCallbacks interface {
	// LogFassociateDuringCheckpoint is invoked once per participating
	// file inside BeginCheckpoint while pending_lock_expensive,
	// list_lock and cachefile_list.lock are held, so it must not block.
	LogFassociateDuringCheckpoint(cf *Cachefile) error

	// BeginCheckpointUserdata is invoked once per file after
	// BeginCheckpoint has marked pending bits.
	BeginCheckpointUserdata(ctx context.Context, cf *Cachefile) error

	// CheckpointUserdata is invoked once per file near the end of
	// EndCheckpoint, after all pending pairs have been written; this is
	// where a collaborator fsyncs its own on-disk structures.
	CheckpointUserdata(ctx context.Context, cf *Cachefile) error

	// EndCheckpointUserdata is invoked once per file after the
	// checkpoint's end record has been logged.
	EndCheckpointUserdata(ctx context.Context, cf *Cachefile) error

	// CloseUserdata is invoked once when a cachefile is closed.
	CloseUserdata(ctx context.Context, cf *Cachefile) error

	// NotePinByCheckpoint / NoteUnpinByCheckpoint bracket a checkpoint's
	// synchronous write of a pair in EndCheckpoint, letting a
	// collaborator track checkpoint-induced pins separately from
	// client pins.
	NotePinByCheckpoint(cf *Cachefile, key BlockKey)
	NoteUnpinByCheckpoint(cf *Cachefile, key BlockKey)
}

// NopFileCallbacks is a FileCallbacks implementation whose methods are
// all no-ops, useful for tests and for collaborators with nothing to
// do at a given hook.
type NopFileCallbacks struct{}

func (NopFileCallbacks) LogFassociateDuringCheckpoint(*Cachefile) error { return nil }
func (NopFileCallbacks) BeginCheckpointUserdata(context.Context, *Cachefile) error { return nil }
func (NopFileCallbacks) CheckpointUserdata(context.Context, *Cachefile) error { return nil }
func (NopFileCallbacks) EndCheckpointUserdata(context.Context, *Cachefile) error { return nil }
func (NopFileCallbacks) CloseUserdata(context.Context, *Cachefile) error { return nil }
func (NopFileCallbacks) NotePinByCheckpoint(*Cachefile, BlockKey) {}
func (NopFileCallbacks) NoteUnpinByCheckpoint(*Cachefile, BlockKey) {}

var _ FileCallbacks = NopFileCallbacks{}
