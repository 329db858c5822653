// Package cache implements the buffer-cache core of a transactional
// storage engine: a pinning, in-memory cache of page-sized objects
// keyed by (cachefile, block key), a CLOCK eviction engine, a
// background cleaner, and a copy-on-write checkpoint protocol.
package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tokudb-go/cachetable/internal/bytesize"
	"github.com/tokudb-go/cachetable/internal/logger"
	"github.com/tokudb-go/cachetable/pkg/wal"
)

// Config configures a Cache at creation (create, §6).
type Config struct {
	// SizeLimit is the low-target watermark; the other three
	// watermarks default to multiples of it unless Watermarks is set
	// explicitly.
	SizeLimit bytesize.ByteSize

	// Watermarks overrides the derived defaults when non-zero.
	Watermarks Watermarks

	// Logger provides checkpoint LSNs; defaults to wal.NewNullLogger()
	// when nil, matching the out-of-scope write-ahead log (spec §1).
	Logger wal.Logger

	// Metrics is optional; nil disables metrics collection with zero
	// overhead.
	Metrics CacheMetrics

	ClientPool BackgroundJobManagerConfig
	CachePool  BackgroundJobManagerConfig
	ClonePool  BackgroundJobManagerConfig
}

func (c Config) watermarks() Watermarks {
	if c.Watermarks != (Watermarks{}) {
		return c.Watermarks
	}
	low := uint64(c.SizeLimit)
	return Watermarks{
		LowTarget:      low,
		LowHysteresis:  low * 9 / 10,
		HighTarget:     low * 3 / 2,
		HighHysteresis: low * 6 / 5,
	}
}

// Cache is the top-level buffer cache (§2, §6): it composes the page
// table, the file registry, the evictor, the cleaner and the
// checkpointer, and exposes get_and_pin/unpin/open_file/close_file.
type Cache struct {
	pairs      *PairList
	cachefiles *CachefileList
	evictor    *Evictor
	cleaner    *Cleaner
	checkpoint *Checkpointer
	metrics    CacheMetrics

	clientPool *BackgroundJobManager
	cachePool  *BackgroundJobManager
	clonePool  *BackgroundJobManager

	ctx    context.Context
	cancel context.CancelFunc

	cachefileBJMConfig BackgroundJobManagerConfig
}

// Create builds a new Cache (create, §6).
func Create(cfg Config) *Cache {
	ctx, cancel := context.WithCancel(context.Background())

	l := cfg.Logger
	if l == nil {
		l = wal.NewNullLogger()
	}

	clientPoolCfg := cfg.ClientPool
	if clientPoolCfg == (BackgroundJobManagerConfig{}) {
		clientPoolCfg = DefaultBackgroundJobManagerConfig()
	}
	cachePoolCfg := cfg.CachePool
	if cachePoolCfg == (BackgroundJobManagerConfig{}) {
		cachePoolCfg = DefaultBackgroundJobManagerConfig()
	}
	clonePoolCfg := cfg.ClonePool
	if clonePoolCfg == (BackgroundJobManagerConfig{}) {
		clonePoolCfg = BackgroundJobManagerConfig{QueueSize: 256, Workers: 2}
	}

	pairs := newPairList()
	cachefiles := newCachefileList()
	clientPool := NewBackgroundJobManager(ctx, clientPoolCfg)
	cachePool := NewBackgroundJobManager(ctx, cachePoolCfg)
	clonePool := NewBackgroundJobManager(ctx, clonePoolCfg)

	c := &Cache{
		pairs:               pairs,
		cachefiles:          cachefiles,
		evictor:             newEvictor(pairs, cfg.watermarks(), clientPool, cachePool, cfg.Metrics),
		cleaner:             newCleaner(pairs, cfg.Metrics),
		checkpoint:          newCheckpointer(pairs, cachefiles, l, clonePool, cfg.Metrics),
		metrics:             cfg.Metrics,
		clientPool:          clientPool,
		cachePool:           cachePool,
		clonePool:           clonePool,
		ctx:                 ctx,
		cancel:              cancel,
		cachefileBJMConfig:  DefaultBackgroundJobManagerConfig(),
	}

	c.evictor.start(ctx)
	c.cleaner.start(ctx)
	c.checkpoint.start(ctx)

	return c
}

// OpenFile registers a backing file, allocating a filenum and
// rejecting a duplicate on-disk identity (open_file, §6).
func (c *Cache) OpenFile(path string, flags int, mode os.FileMode, callbacks FileCallbacks) (*Cachefile, error) {
	return c.cachefiles.open(path, flags, mode, callbacks, c.cachefileBJMConfig)
}

// CloseFile quiesces background jobs for cf, flushes all dirty pairs
// belonging to it, removes those pairs from the table, and optionally
// unlinks the backing file (close_file, §6).
func (c *Cache) CloseFile(ctx context.Context, cf *Cachefile) error {
	cf.mu.Lock()
	cf.closing = true
	cf.mu.Unlock()

	if err := cf.bjm.Wait(ctx); err != nil {
		return fmt.Errorf("close file: drain background jobs: %w", err)
	}

	var toEvict []*Pair
	c.pairs.listLock.RLock()
	c.pairs.forEachRing(func(p *Pair) {
		if p.cachefile == cf {
			toEvict = append(toEvict, p)
		}
	})
	c.pairs.listLock.RUnlock()

	for _, p := range toEvict {
		p.value.LockExpensive()
		if p.dirty && p.flush != nil {
			p.diskMu.Lock()
			newAttr, err := p.flush(ctx, cf, p.key, p.valueData, p.diskData, p.extra, p.attr, true, false, false, false, false)
			p.diskMu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordFlush(newAttr.Size, 0, false, false, err)
			}
			if err != nil {
				p.value.Unlock()
				return fmt.Errorf("close file: flush %d: %w: %w", p.key, ErrIoFailed, err)
			}
			c.evictor.noteSizeChange(int64(newAttr.Size) - int64(p.attr.Size))
			p.attr = newAttr
			p.dirty = false
		}

		c.pairs.listLock.Lock()
		p.mu.Lock()
		p.evicted = true
		c.pairs.evict(p)
		p.mu.Unlock()
		c.pairs.listLock.Unlock()

		c.evictor.noteSizeChange(-int64(p.size()))
		p.value.Unlock()
	}

	if err := cf.callbacks.CloseUserdata(ctx, cf); err != nil {
		return fmt.Errorf("close file: close_userdata: %w", err)
	}

	cf.bjmCancel()
	cf.bjm.Close()
	c.cachefiles.remove(cf)

	cf.mu.Lock()
	unlink := cf.unlinkOnClose
	cf.mu.Unlock()

	if unlink {
		if err := os.Remove(cf.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("close file: unlink %q: %w", cf.path, err)
		}
	}

	return cf.fd.Close()
}

// Pin is the opaque handle get_and_pin returns to a caller: a capability
// to read Value/Attr and, eventually, to Unpin. It exists so callers
// never hold a raw *Pair (whose fields are lock-partitioned internal
// state, per spec.md §3) across the pin/unpin boundary.
type Pin struct {
	pair *Pair
	mode PinMode
}

// Value returns the pinned page's in-memory value.
func (p *Pin) Value() any { return p.pair.valueData }

// Attr returns the pinned page's current size/attribute pair.
func (p *Pin) Attr() Attr { return p.pair.attr }

// lookupAndLockPair finds the resident pair for (cf,key,hash), if any,
// and returns it with value_rwlock already acquired for mode. It
// implements the §4.3 step 2 hand-off: pair.mutex is acquired while
// list_lock is still held, list_lock is dropped, then value_rwlock is
// acquired (which may block), and only then is pair.mutex released.
// Holding pair.mutex across that window is what stops the clock sweep
// (which must also acquire pair.mutex before it may evict, see
// evictor.go's stepClock) from unlinking the pair while this call is
// in the gap between the two locks. If the sweep wins the race anyway
// — it was already past that point when we arrived — evicted is true
// once we get pair.mutex and we retry the lookup from scratch.
func (c *Cache) lookupAndLockPair(cf *Cachefile, key BlockKey, hash uint64, mode PinMode) *Pair {
	for {
		c.pairs.listLock.RLock()
		p := c.pairs.findPairLocked(cf, key, hash)
		if p != nil {
			p.mu.Lock()
		}
		c.pairs.listLock.RUnlock()

		if p == nil {
			return nil
		}
		if p.evicted {
			p.mu.Unlock()
			continue
		}

		p.value.lockFor(mode)
		p.mu.Unlock()
		return p
	}
}

// GetAndPin looks up or fetches the page at (cf, key), pins it in the
// requested mode, resolves any outstanding checkpoint-pending bit, and
// returns a handle to it (get_and_pin, §4.3, §6).
func (c *Cache) GetAndPin(ctx context.Context, cf *Cachefile, key BlockKey, hash uint64, mode PinMode, fetch FetchCallback, cbs PairCallbacks) (*Pin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cf.isClosing() {
		return nil, fmt.Errorf("get_and_pin: %w", ErrShuttingDown)
	}

	hit := true

	p := c.lookupAndLockPair(cf, key, hash, mode)
	if p == nil {
		for {
			c.pairs.listLock.Lock()
			p = c.pairs.findPairLocked(cf, key, hash)
			if p != nil {
				p.mu.Lock()
				c.pairs.listLock.Unlock()
				if p.evicted {
					p.mu.Unlock()
					p = nil
					continue
				}
				p.value.lockFor(mode)
				p.mu.Unlock()
				break
			}

			hit = false
			start := time.Now()
			value, diskData, attr, dirty, err := fetch(ctx, cf, key, hash, cbs.Extra)
			if err != nil {
				c.pairs.listLock.Unlock()
				if c.metrics != nil {
					c.metrics.RecordFetch(0, time.Since(start), err)
				}
				return nil, fmt.Errorf("get_and_pin: fetch: %w: %w", ErrIoFailed, err)
			}
			if c.metrics != nil {
				c.metrics.RecordFetch(attr.Size, time.Since(start), nil)
			}

			p = newPair(cf, key, hash, value, diskData, attr, dirty, cbs)
			p.mu.Lock()
			c.pairs.put(p)
			c.pairs.listLock.Unlock()
			p.value.lockFor(mode)
			p.mu.Unlock()
			break
		}
	}

	p.resetClockCount(1)
	c.checkpoint.resolvePendingCheckpoint(ctx, p)

	if !hit {
		c.evictor.noteSizeChange(int64(p.size()))
	}
	c.evictor.waitForFlowControl()

	if c.metrics != nil {
		c.metrics.RecordPin(hit, 0)
	}

	return &Pin{pair: p, mode: mode}, nil
}

// MaybeGetAndPin is the non-blocking variant of GetAndPin: it returns
// ok=false rather than blocking if the pair is absent, the evictor is
// in the middle of evicting it, or the value lock would block
// (maybe_get_and_pin, §6). It applies the same pair.mutex hand-off as
// GetAndPin, but non-blocking throughout: a contended pair.mutex (the
// evictor is mid-decision on this pair) is itself treated as "not
// available" rather than waited on.
func (c *Cache) MaybeGetAndPin(cf *Cachefile, key BlockKey, hash uint64, mode PinMode) (pin *Pin, ok bool) {
	c.pairs.listLock.RLock()
	p := c.pairs.findPairLocked(cf, key, hash)
	if p != nil && !p.mu.TryLock() {
		c.pairs.listLock.RUnlock()
		return nil, false
	}
	c.pairs.listLock.RUnlock()

	if p == nil {
		return nil, false
	}
	if p.evicted {
		p.mu.Unlock()
		return nil, false
	}

	if !p.value.tryLockFor(mode) {
		p.mu.Unlock()
		return nil, false
	}
	p.mu.Unlock()

	p.resetClockCount(1)

	return &Pin{pair: p, mode: mode}, true
}

// Unpin releases a previously acquired pin, optionally marking the
// pair dirty and updating its attributes (unpin, §4.3, §6).
func (c *Cache) Unpin(pin *Pin, newDirty bool, newAttr *Attr) {
	p := pin.pair

	p.mu.Lock()
	if newDirty {
		p.dirty = true
	}
	p.mu.Unlock()

	if newAttr != nil {
		delta := int64(newAttr.Size) - int64(p.attr.Size)
		p.attr = *newAttr
		c.evictor.noteSizeChange(delta)
	}

	p.value.unlockFor(pin.mode)

	if c.metrics != nil {
		c.metrics.RecordUnpin(newDirty)
	}
}

// BeginCheckpoint starts a new checkpoint (§4.7).
func (c *Cache) BeginCheckpoint(ctx context.Context) error {
	return c.checkpoint.BeginCheckpoint(ctx)
}

// EndCheckpoint completes the current checkpoint (§4.7).
func (c *Cache) EndCheckpoint(ctx context.Context, aggressive bool) (int, error) {
	return c.checkpoint.EndCheckpoint(ctx, aggressive, nil)
}

// EndCheckpointForTest is EndCheckpoint with an injectable callback run
// after the pending-list drain, for tests exercising §7's error
// propagation policy.
func (c *Cache) EndCheckpointForTest(ctx context.Context, aggressive bool, testCb func() error) (int, error) {
	return c.checkpoint.EndCheckpoint(ctx, aggressive, testCb)
}

// SetCheckpointPeriod configures automatic checkpointing (set_checkpoint_period, §6).
func (c *Cache) SetCheckpointPeriod(d time.Duration) { c.checkpoint.SetPeriod(d) }

// SetCleanerPeriod configures the cleaner sweep interval (set_cleaner_period, §6).
func (c *Cache) SetCleanerPeriod(d time.Duration) { c.cleaner.SetPeriod(d) }

// SetCleanerIterations configures how many pairs the cleaner visits per run (set_cleaner_iterations, §6).
func (c *Cache) SetCleanerIterations(n int) { c.cleaner.SetIterations(n) }

// SetEvictionPeriodForTest overrides the evictor's sweep interval; tests
// use this to make CLOCK sweeps responsive without waiting out the
// default one-second tick.
func (c *Cache) SetEvictionPeriodForTest(d time.Duration) { c.evictor.SetPeriod(d) }

// ReserveMemory pre-commits a fraction of the low-target watermark,
// failing with ErrResourceExhausted if doing so would push reserved
// plus resident size past the high target.
func (c *Cache) ReserveMemory(fraction float64) (uint64, error) { return c.evictor.reserveMemory(fraction) }

// ReleaseReservedMemory releases n bytes previously reserved.
func (c *Cache) ReleaseReservedMemory(n uint64) { c.evictor.releaseReservedMemory(n) }

// RunCleanerOnce runs one cleaner sweep synchronously, returning the
// number of callback invocations (used directly by tests for §8
// scenario 5 rather than waiting on the periodic timer).
func (c *Cache) RunCleanerOnce(ctx context.Context) int { return c.cleaner.run(ctx) }

// residentCountForTest returns the number of pairs currently in the
// table, for tests that assert on eviction progress without racing
// Verify's full invariant walk.
func (c *Cache) residentCountForTest() int { return c.pairs.pairCount() }

// Verify walks the table checking invariants I1, I2 and I4 (verify,
// §6): the ring count against pairCount (I1), the checkpoint-pending
// bit of every pending-list member (I2), and the sum of pair sizes
// against size_current (I4). It returns the first violation found, or
// nil. A ring pair that its hash chain does not reach (also I1) makes
// it panic rather than return an error. I3 is not checked.
func (c *Cache) Verify() error {
	c.pairs.listLock.RLock()
	defer c.pairs.listLock.RUnlock()

	var sizeFromPairs uint64
	ringCount := 0
	c.pairs.forEachRing(func(p *Pair) {
		ringCount++
		sizeFromPairs += p.size()

		found := c.pairs.findPairLocked(p.cachefile, p.key, p.hash)
		if found != p {
			panic("verify: pair reachable from ring but not from hash chain (I1 violated)")
		}
	})

	if ringCount != c.pairs.pairCount() {
		return fmt.Errorf("verify: ring has %d pairs, pairCount tracks %d (I1 violated)", ringCount, c.pairs.pairCount())
	}

	pendingCount := 0
	for p := c.pairs.pendingHead; p != nil; p = p.pendingNext {
		pendingCount++
		if !p.checkpointPending {
			return fmt.Errorf("verify: pair on pending list with checkpointPending=false (I2 violated)")
		}
	}

	if sizeFromPairs != c.evictor.sizeCurrent.Load() {
		return fmt.Errorf("verify: sum of pair sizes %d != size_current %d (I4 violated)", sizeFromPairs, c.evictor.sizeCurrent.Load())
	}

	return nil
}

// Close stops the background threads and releases cache resources.
// Outstanding cachefiles should be closed via CloseFile first.
func (c *Cache) Close() error {
	c.evictor.stop()
	c.cleaner.stop()
	if c.checkpoint.State() != StateIdle {
		logger.Warn("cache closed with checkpoint in progress", "state", c.checkpoint.State().String())
	}
	c.cancel()
	c.clientPool.Close()
	c.cachePool.Close()
	c.clonePool.Close()
	return nil
}
