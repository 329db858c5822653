package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokudb-go/cachetable/internal/logger"
)

const defaultEvictionPeriod = 1 * time.Second

// Watermarks holds the four size thresholds the evictor uses to decide
// when to sweep and when to apply flow control (§4.5).
type Watermarks struct {
	LowTarget      uint64
	LowHysteresis  uint64
	HighTarget     uint64
	HighHysteresis uint64
}

// Evictor is the clock-sweep admission and eviction engine (§4.5):
// size accounting, watermarks, flow control on client threads, and
// partial eviction dispatch.
type Evictor struct {
	pairs      *PairList
	metrics    CacheMetrics
	clientPool *BackgroundJobManager // fetches, partial evictions
	cachePool  *BackgroundJobManager // flushes

	sizeCurrent  atomic.Uint64
	sizeReserved atomic.Uint64
	sizeEvicting atomic.Uint64

	mu         sync.Mutex
	watermarks Watermarks
	period     time.Duration

	wakeCh chan struct{}

	flowMu   sync.Mutex
	flowCond *sync.Cond

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newEvictor(pairs *PairList, w Watermarks, clientPool, cachePool *BackgroundJobManager, metrics CacheMetrics) *Evictor {
	e := &Evictor{
		pairs:      pairs,
		metrics:    metrics,
		clientPool: clientPool,
		cachePool:  cachePool,
		watermarks: w,
		period:     defaultEvictionPeriod,
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	e.flowCond = sync.NewCond(&e.flowMu)
	return e
}

// start runs the periodic-plus-on-demand eviction thread.
func (e *Evictor) start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Evictor) stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Evictor) loop(ctx context.Context) {
	defer e.wg.Done()

	period := e.currentPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runEviction(ctx)
		case <-e.wakeCh:
			e.runEviction(ctx)
		}
		if p := e.currentPeriod(); p > 0 && p != period {
			period = p
			ticker.Reset(p)
		}
	}
}

func (e *Evictor) currentPeriod() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.period
}

// SetPeriod changes the eviction sweep interval (set_checkpoint_period
// analog for the evictor).
func (e *Evictor) SetPeriod(d time.Duration) {
	e.mu.Lock()
	e.period = d
	e.mu.Unlock()
}

func (e *Evictor) watermarksSnapshot() Watermarks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermarks
}

// wake nudges the eviction thread to run a sweep now rather than
// waiting for the next tick.
func (e *Evictor) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// noteSizeChange updates size_current by delta (two's-complement trick
// for subtraction, per the teacher's atomicSubtract idiom) and wakes
// the eviction thread when size_current+size_evicting exceeds the low
// hysteresis watermark. It never blocks the caller; client flow
// control is waitForFlowControl.
func (e *Evictor) noteSizeChange(delta int64) {
	if delta >= 0 {
		e.sizeCurrent.Add(uint64(delta))
	} else {
		e.sizeCurrent.Add(^(uint64(-delta) - 1))
	}
	if e.metrics != nil {
		e.metrics.SetCacheSize(e.sizeCurrent.Load())
	}

	w := e.watermarksSnapshot()
	if e.sizeCurrent.Load()+e.sizeEvicting.Load() > w.LowHysteresis {
		e.wake()
	}
}

// shouldClientThreadSleep reports whether a client thread inserting a
// newly fetched pair should block on the flow-control condition
// (§4.5, §8 scenario 3).
func (e *Evictor) shouldClientThreadSleep() bool {
	w := e.watermarksSnapshot()
	return e.sizeCurrent.Load() > w.HighTarget
}

func (e *Evictor) shouldSleepingClientsWakeup() bool {
	w := e.watermarksSnapshot()
	return e.sizeCurrent.Load() < w.HighHysteresis
}

// waitForFlowControl blocks the calling client thread until resident
// size has fallen below the high hysteresis watermark.
func (e *Evictor) waitForFlowControl() {
	if !e.shouldClientThreadSleep() {
		return
	}

	if e.metrics != nil {
		e.metrics.RecordFlowControlWait(true)
	}

	e.flowMu.Lock()
	for !e.shouldSleepingClientsWakeup() {
		e.flowCond.Wait()
	}
	e.flowMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordFlowControlWait(false)
	}
}

// reserveMemory pre-commits a fraction of the low target as occupied,
// letting external loaders account for memory eviction treats as used
// even before any pair exists (§4.5). It fails with
// ErrResourceExhausted rather than let reserved+resident size exceed
// the high target watermark.
func (e *Evictor) reserveMemory(fraction float64) (uint64, error) {
	w := e.watermarksSnapshot()
	n := uint64(float64(w.LowTarget) * fraction)

	if e.sizeReserved.Load()+e.sizeCurrent.Load()+n > w.HighTarget {
		return 0, fmt.Errorf("reserve memory: %w", ErrResourceExhausted)
	}

	e.sizeReserved.Add(n)
	return n, nil
}

// releaseReservedMemory releases n bytes previously reserved.
func (e *Evictor) releaseReservedMemory(n uint64) {
	e.sizeReserved.Add(^(n - 1))
}

// runEviction is the CLOCK sweep (run_eviction, §4.5): it runs while
// size_current+size_reserved+size_evicting exceeds the low watermark.
func (e *Evictor) runEviction(ctx context.Context) {
	for {
		if e.sizeCurrent.Load()+e.sizeReserved.Load()+e.sizeEvicting.Load() <= e.watermarksSnapshot().LowTarget {
			break
		}

		progressed, ok := e.stepClock(ctx)
		if !ok {
			break
		}
		if !progressed {
			// Made no progress this round (every resident pair is
			// pinned); stop rather than spin.
			break
		}

		e.flowMu.Lock()
		if e.shouldSleepingClientsWakeup() {
			e.flowCond.Broadcast()
		}
		e.flowMu.Unlock()
	}

	if e.metrics != nil {
		e.pairs.listLock.RLock()
		n := e.pairs.pairCount()
		e.pairs.listLock.RUnlock()
		e.metrics.SetPairCount(n)
	}
}

// stepClock advances the clock hand by one pair and applies the CLOCK
// decision to it (§4.3 step 2, §4.5). list_lock and pair.mutex are
// held together, outer to inner, across the whole
// check-count-then-TryLock-then-evict sequence: this is what closes
// the race against a concurrent lookupAndLockPair (cache.go) racing to
// pin the same pair. Once the decision to evict is made, the pair is
// unlinked from the table before this function returns — any disk
// flush for a dirty pair happens afterward, off an already-detached
// pair, so no further list_lock/pair.mutex coordination is needed for
// it. ok is false once the ring is empty; progressed is false if the
// pair was skipped because it is pinned.
func (e *Evictor) stepClock(ctx context.Context) (progressed, ok bool) {
	e.pairs.listLock.Lock()
	p := e.pairs.advanceClock()
	if p == nil {
		e.pairs.listLock.Unlock()
		return false, false
	}

	p.mu.Lock()

	if p.count > 0 {
		p.count--
		p.mu.Unlock()
		e.pairs.listLock.Unlock()
		return true, true
	}

	if !p.value.TryLock() {
		// Pinned; a pinner will re-touch count on its own schedule.
		p.mu.Unlock()
		e.pairs.listLock.Unlock()
		return false, true
	}

	if p.partialEvictionEstimate != nil {
		bytesReclaimable, cheap := p.partialEvictionEstimate(p.valueData, p.extra)
		if bytesReclaimable > 0 {
			p.mu.Unlock()
			e.pairs.listLock.Unlock()

			if cheap {
				e.doPartialEviction(ctx, p)
				p.value.Unlock()
				return true, true
			}

			estimate := uint64(bytesReclaimable)
			e.sizeEvicting.Add(estimate)
			e.cachePool.Submit(func(jobCtx context.Context) {
				defer e.sizeEvicting.Add(^(estimate - 1))
				e.doPartialEviction(jobCtx, p)
				p.value.Unlock()
			})
			return true, true
		}
	}

	checkpointPending := p.checkpointPending
	dirty := p.dirty

	p.evicted = true
	e.pairs.evict(p)
	e.noteSizeChange(-int64(p.size()))
	if e.metrics != nil {
		e.metrics.RecordEviction(false)
	}

	p.mu.Unlock()
	e.pairs.listLock.Unlock()

	if !dirty {
		p.value.Unlock()
		return true, true
	}

	e.cachePool.Submit(func(jobCtx context.Context) {
		defer p.value.Unlock()
		e.flushEvictedPair(jobCtx, p, checkpointPending)
	})
	return true, true
}

func (e *Evictor) doPartialEviction(ctx context.Context, p *Pair) {
	if p.partialEviction == nil {
		return
	}
	newAttr, err := p.partialEviction(ctx, p.valueData, p.attr, p.extra)
	if err != nil {
		logger.ErrorCtx(ctx, "partial eviction failed", logger.Err(err), logger.FileNum(p.cachefile.filenum))
		return
	}
	delta := int64(newAttr.Size) - int64(p.attr.Size)
	p.attr = newAttr
	e.noteSizeChange(delta)
	if e.metrics != nil {
		e.metrics.RecordEviction(true)
	}
}

// flushEvictedPair writes a dirty pair's value to disk after stepClock
// has already unlinked it from the table (evict_pair, §4.5). The pair
// is no longer reachable by lookup at this point, so a failed flush
// here can no longer be retried by a later pin attempt the way a
// failed checkpoint/close flush can; it is logged as an I/O failure
// and the dirty bytes are lost with it, same as a disk write failing
// after any other buffer has already been dropped from a cache.
func (e *Evictor) flushEvictedPair(ctx context.Context, p *Pair, forCheckpoint bool) {
	if p.flush == nil {
		return
	}

	p.diskMu.Lock()
	start := time.Now()
	newAttr, err := p.flush(ctx, p.cachefile, p.key, p.valueData, p.diskData, p.extra, p.attr, true, false, forCheckpoint, false, false)
	p.diskMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordFlush(newAttr.Size, time.Since(start), false, forCheckpoint, err)
	}

	if err != nil {
		logger.ErrorCtx(ctx, "evictor flush failed for evicted pair", logger.Err(fmt.Errorf("%w: %w", ErrIoFailed, err)), logger.FileNum(p.cachefile.filenum))
		return
	}

	p.attr = newAttr
	p.dirty = false
}
