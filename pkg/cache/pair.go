package cache

import "sync"

// Pair is one cached page: the unit the pin protocol, the clock sweep
// and the checkpoint protocol all operate on. Its mutable state is
// partitioned by which lock protects it (spec §3); fields are grouped
// below by owner rather than alphabetically so the partitioning stays
// visible in the source.
type Pair struct {
	// Immutable identity, set once at pair_init and never changed.
	cachefile *Cachefile
	key       BlockKey
	hash      uint64

	// Callbacks attached at creation time.
	flush                    FlushCallback
	partialEvictionEstimate  PartialEvictionEstimateCallback
	partialEviction          PartialEvictionCallback
	cleanerCb                CleanerCallback
	clone                    CloneCallback
	extra                    any

	// mu (pair.mutex) protects count and evicted. The pending-list
	// links are changed only under the list lock, both by the
	// checkpointer and by a foreground pinner splicing the pair off the
	// pending list (§4.4 step 2; see DESIGN.md). mu is also the
	// hand-off lock of §4.3 step 2: a lookup takes it before dropping
	// list_lock and holds it until value_rwlock is acquired, closing
	// the window the clock sweep would otherwise use to evict the pair
	// out from under an in-flight pin.
	mu      sync.Mutex
	count   int32
	evicted bool

	// value (value_rwlock) protects valueData, attr and dirty.
	value     valueRWLock
	valueData any
	attr      Attr
	dirty     bool

	// diskMu (disk_nb_mutex) protects clonedValueData, clonedAttr and
	// diskData; held for the entire duration of any disk write (I5).
	diskMu          nonBlockingMutex
	clonedValueData any
	clonedAttr      Attr
	diskData        any

	// checkpointPending is set by begin_checkpoint under the list lock
	// and pending_lock_cheap; pending resolution (§4.4) clears it under
	// pending_lock_cheap in read mode, and end_checkpoint's drain clears
	// it under the list lock only. Once read under one of those locks
	// its value may be acted on without them.
	checkpointPending bool

	// Owned by PairList under the list lock: hash-chain link, clock
	// ring links, pending-list links.
	hashNext                 *Pair
	clockPrev, clockNext     *Pair
	pendingPrev, pendingNext *Pair
	onPendingList            bool
}

// newPair allocates and initializes a pair (pair_init). It is not
// inserted into any table; the caller does that under the list lock.
func newPair(cf *Cachefile, key BlockKey, hash uint64, value any, diskData any, attr Attr, dirty bool, cbs PairCallbacks) *Pair {
	return &Pair{
		cachefile:               cf,
		key:                     key,
		hash:                    hash,
		valueData:               value,
		diskData:                diskData,
		attr:                    attr,
		dirty:                   dirty,
		flush:                   cbs.Flush,
		partialEvictionEstimate: cbs.PartialEvictionEstimate,
		partialEviction:         cbs.PartialEviction,
		cleanerCb:               cbs.Cleaner,
		clone:                   cbs.Clone,
		extra:                   cbs.Extra,
	}
}

// PairCallbacks bundles the callbacks attached to a pair at creation
// time (§3), supplied by the fetch path on a cache miss.
type PairCallbacks struct {
	Flush                   FlushCallback
	PartialEvictionEstimate PartialEvictionEstimateCallback
	PartialEviction         PartialEvictionCallback
	Cleaner                 CleanerCallback
	Clone                   CloneCallback
	Extra                   any
}

// resetClockCount marks the pair as freshly touched, giving it maximum
// survival against the next clock sweep.
func (p *Pair) resetClockCount(initial int32) {
	p.mu.Lock()
	p.count = initial
	p.mu.Unlock()
}

// size returns the pair's current accounted size: attr.Size plus any
// outstanding clone size (I4).
func (p *Pair) size() uint64 {
	size := uint64(p.attr.Size)
	if p.clonedValueData != nil {
		size += uint64(p.clonedAttr.Size)
	}
	return size
}

// isDirty reports the dirty bit. Caller must hold value in at least
// read mode, or be certain no concurrent writer-pinner exists.
func (p *Pair) isDirty() bool {
	return p.dirty
}
