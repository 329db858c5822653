package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tokudb-go/cachetable/internal/logger"
	"github.com/tokudb-go/cachetable/pkg/wal"
)

// CheckpointState is the checkpointer's state machine (§4.7):
// Idle -> Begun -> Writing -> Ended -> Idle.
type CheckpointState int

const (
	StateIdle CheckpointState = iota
	StateBegun
	StateWriting
	StateEnded
)

func (s CheckpointState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBegun:
		return "begun"
	case StateWriting:
		return "writing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Checkpointer drives the begin/end checkpoint protocol: marking all
// currently-resident pages as checkpoint-pending, then lazily writing
// each page's snapshot while foreground writes continue (§4.7).
type Checkpointer struct {
	pairs      *PairList
	cachefiles *CachefileList
	logger     wal.Logger
	clones     *BackgroundJobManager // m_checkpoint_clones_bjm
	metrics    CacheMetrics

	mu    sync.Mutex
	state CheckpointState

	period time.Duration
	stopCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

func newCheckpointer(pairs *PairList, cachefiles *CachefileList, l wal.Logger, clones *BackgroundJobManager, metrics CacheMetrics) *Checkpointer {
	return &Checkpointer{
		pairs:      pairs,
		cachefiles: cachefiles,
		logger:     l,
		clones:     clones,
		metrics:    metrics,
		state:      StateIdle,
		period:     0,
		stopCh:     make(chan struct{}),
		wakeCh:     make(chan struct{}, 1),
	}
}

// State returns the current checkpoint state.
func (cp *Checkpointer) State() CheckpointState {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.state
}

// SetPeriod configures an automatic checkpoint interval; 0 disables
// automatic checkpointing and leaves it caller-driven.
func (cp *Checkpointer) SetPeriod(d time.Duration) {
	cp.mu.Lock()
	cp.period = d
	cp.mu.Unlock()
	cp.wake()
}

func (cp *Checkpointer) wake() {
	select {
	case cp.wakeCh <- struct{}{}:
	default:
	}
}

func (cp *Checkpointer) start(ctx context.Context) {
	cp.wg.Add(1)
	go cp.loop(ctx)
}

func (cp *Checkpointer) stop() {
	close(cp.stopCh)
	cp.wg.Wait()
}

func (cp *Checkpointer) loop(ctx context.Context) {
	defer cp.wg.Done()

	for {
		cp.mu.Lock()
		period := cp.period
		cp.mu.Unlock()

		var timer <-chan time.Time
		if period > 0 {
			t := time.NewTimer(period)
			defer t.Stop()
			timer = t.C
		}

		select {
		case <-ctx.Done():
			return
		case <-cp.stopCh:
			return
		case <-cp.wakeCh:
			continue
		case <-timer:
			if err := cp.BeginCheckpoint(ctx); err == nil {
				_, _ = cp.EndCheckpoint(ctx, false, nil)
			}
		}
	}
}

// BeginCheckpoint marks every currently-resident page belonging to a
// participating file as checkpoint-pending (§4.7 begin_checkpoint).
// Only one checkpoint may run at a time (P4); a concurrent call
// returns ErrAlreadyExists.
func (cp *Checkpointer) BeginCheckpoint(ctx context.Context) error {
	cp.mu.Lock()
	if cp.state != StateIdle {
		cp.mu.Unlock()
		return ErrAlreadyExists
	}
	cp.state = StateBegun
	cp.mu.Unlock()

	// Global lock order, outer to inner: pending_lock_expensive,
	// list_lock, cachefile_list.lock, pair.mutex, pending_lock_cheap.
	cp.pairs.pendingExpensive.Lock()
	cp.pairs.listLock.Lock()
	cp.cachefiles.mu.Lock()

	lsn, err := cp.logger.NextLSN()
	if err != nil {
		cp.cachefiles.mu.Unlock()
		cp.pairs.listLock.Unlock()
		cp.pairs.pendingExpensive.Unlock()
		cp.setState(StateIdle)
		return fmt.Errorf("begin checkpoint: next lsn: %w", err)
	}
	if err := cp.logger.LogBegin(lsn); err != nil {
		cp.cachefiles.mu.Unlock()
		cp.pairs.listLock.Unlock()
		cp.pairs.pendingExpensive.Unlock()
		cp.setState(StateIdle)
		return fmt.Errorf("begin checkpoint: log begin: %w", err)
	}

	var assocErr error
	for _, cf := range cp.cachefiles.byNum {
		if err := cf.callbacks.LogFassociateDuringCheckpoint(cf); err != nil {
			assocErr = err
			break
		}
		cf.setForCheckpoint(true)
	}
	if assocErr != nil {
		cp.cachefiles.mu.Unlock()
		cp.pairs.listLock.Unlock()
		cp.pairs.pendingExpensive.Unlock()
		cp.setState(StateIdle)
		return fmt.Errorf("begin checkpoint: log_fassociate: %w", assocErr)
	}

	cp.pairs.pendingCheap.Lock()

	cp.pairs.forEachRing(func(p *Pair) {
		if !p.cachefile.isForCheckpoint() {
			return
		}
		p.checkpointPending = true
		cp.pairs.pendingListAdd(p)
	})

	cp.pairs.pendingCheap.Unlock()
	cp.cachefiles.mu.Unlock()
	cp.pairs.listLock.Unlock()
	cp.pairs.pendingExpensive.Unlock()

	cp.cachefiles.forEach(func(cf *Cachefile) {
		_ = cf.callbacks.BeginCheckpointUserdata(ctx, cf)
	})

	cp.setState(StateWriting)

	logger.InfoCtx(ctx, "checkpoint begun", logger.LSN(uint64(lsn)))
	return nil
}

func (cp *Checkpointer) setState(s CheckpointState) {
	cp.mu.Lock()
	cp.state = s
	cp.mu.Unlock()
}

// EndCheckpoint drains the pending list, writing each dirty pair's
// clone (if one exists) or live value to disk, waits for all
// foreground-scheduled clone writes, fsyncs participating files, and
// logs the end record (§4.7 end_checkpoint). testCb, when non-nil, is
// invoked after the pending-list drain and before the clone-bjm wait,
// letting tests inject a transient failure (§7).
func (cp *Checkpointer) EndCheckpoint(ctx context.Context, aggressive bool, testCb func() error) (int, error) {
	cp.mu.Lock()
	if cp.state != StateWriting {
		cp.mu.Unlock()
		return 0, fmt.Errorf("end checkpoint: %w", ErrNotFound)
	}
	cp.mu.Unlock()

	start := time.Now()
	written := 0

	for {
		cp.pairs.listLock.Lock()
		p := cp.pairs.pendingHead
		cp.pairs.listLock.Unlock()
		if p == nil {
			break
		}

		p.value.LockExpensive()

		wrote, err := cp.writePendingPair(ctx, p, aggressive)
		p.value.Unlock()

		cp.pairs.listLock.Lock()
		p.checkpointPending = false
		cp.pairs.pendingListRemove(p)
		cp.pairs.listLock.Unlock()

		if err != nil {
			cp.setState(StateIdle)
			if cp.metrics != nil {
				cp.metrics.RecordCheckpoint(written, time.Since(start), err)
			}
			return written, fmt.Errorf("end checkpoint: %w", err)
		}
		if wrote {
			written++
		}
	}

	if testCb != nil {
		if err := testCb(); err != nil {
			cp.setState(StateIdle)
			return written, fmt.Errorf("end checkpoint: test callback: %w", err)
		}
	}

	if err := cp.clones.Wait(ctx); err != nil {
		cp.setState(StateIdle)
		return written, fmt.Errorf("end checkpoint: drain clones: %w", err)
	}

	var checkpointErr error
	cp.cachefiles.forEach(func(cf *Cachefile) {
		if checkpointErr != nil {
			return
		}
		if err := cf.callbacks.CheckpointUserdata(ctx, cf); err != nil {
			checkpointErr = err
		}
	})
	if checkpointErr != nil {
		cp.setState(StateIdle)
		return written, fmt.Errorf("end checkpoint: checkpoint_userdata: %w", checkpointErr)
	}

	lsn, err := cp.logger.NextLSN()
	if err == nil {
		err = cp.logger.LogEnd(lsn)
	}
	if err != nil {
		cp.setState(StateIdle)
		return written, fmt.Errorf("end checkpoint: log end: %w", err)
	}

	cp.setState(StateEnded)

	var endErr error
	cp.cachefiles.forEach(func(cf *Cachefile) {
		if endErr != nil {
			return
		}
		if err := cf.callbacks.EndCheckpointUserdata(ctx, cf); err != nil {
			endErr = err
		}
		cf.setForCheckpoint(false)
	})

	cp.setState(StateIdle)

	if cp.metrics != nil {
		cp.metrics.RecordCheckpoint(written, time.Since(start), endErr)
	}

	logger.InfoCtx(ctx, "checkpoint ended", logger.LSN(uint64(lsn)), "pairs_written", written)

	return written, endErr
}

// writePendingPair writes a single pending pair's snapshot to disk:
// the clone if pending resolution produced one, otherwise the live
// value. value_rwlock is held exclusively by the caller for the
// duration (§4.7 step 1): end_checkpoint acquires it with the blocking
// LockExpensive, so it waits for a foreground pinner rather than
// skipping pinned pairs as the clock sweep does.
func (cp *Checkpointer) writePendingPair(ctx context.Context, p *Pair, aggressive bool) (bool, error) {
	if !p.dirty && p.clonedValueData == nil {
		return false, nil
	}

	p.cachefile.callbacks.NotePinByCheckpoint(p.cachefile, p.key)
	defer p.cachefile.callbacks.NoteUnpinByCheckpoint(p.cachefile, p.key)

	if p.flush == nil {
		return false, nil
	}

	isClone := p.clonedValueData != nil
	value := p.valueData
	diskData := p.diskData
	attr := p.attr
	if isClone {
		value = p.clonedValueData
		diskData = p.diskData
		attr = p.clonedAttr
	}

	p.diskMu.Lock()
	newAttr, err := p.flush(ctx, p.cachefile, p.key, value, diskData, p.extra, attr, true, true, true, isClone, aggressive)
	p.diskMu.Unlock()

	if cp.metrics != nil {
		cp.metrics.RecordFlush(newAttr.Size, 0, isClone, true, err)
	}

	if err != nil {
		return false, err
	}

	if isClone {
		releaseCloneBuffer(p.clonedValueData)
		p.clonedValueData = nil
		p.clonedAttr = Attr{}
	} else {
		p.attr = newAttr
		p.dirty = false
	}

	return true, nil
}

// resolvePendingCheckpoint is the checkpoint-pending resolution
// protocol (§4.4), invoked by a pinning thread immediately after it
// acquires value_rwlock, regardless of pin mode: a ReadPin's
// value_rwlock (read mode) is sufficient to safely clone
// pre-modification bytes, since it excludes any concurrent writer.
func (cp *Checkpointer) resolvePendingCheckpoint(ctx context.Context, p *Pair) {
	cp.pairs.pendingCheap.RLock()
	wasPending := p.checkpointPending
	if wasPending {
		p.checkpointPending = false
	}
	cp.pairs.pendingCheap.RUnlock()

	if !wasPending {
		return
	}

	cp.pairs.listLock.Lock()
	cp.pairs.pendingListRemove(p)
	cp.pairs.listLock.Unlock()

	if !p.dirty || p.clone == nil {
		return
	}

	// This pair was dirty and pending at begin_checkpoint with nobody
	// writing it; now that it's been spliced off the pending list,
	// end_checkpoint's drain will never see it again, so whoever
	// resolves the bit must guarantee its pre-modification bytes still
	// reach disk (P5) regardless of pin mode. A ReadPin holds
	// value_rwlock in read mode, which is exactly what's needed to
	// safely read valueData here: it excludes any concurrent writer,
	// so the clone taken under it is a valid pre-modification snapshot
	// whether or not this particular pinner is the one that eventually
	// dirties the page further.

	p.diskMu.Lock()
	clone, cloneAttr, err := p.clone(p.valueData, p.attr, true, p.extra)
	p.diskMu.Unlock()
	if err != nil {
		logger.ErrorCtx(ctx, "clone failed during pending resolution", logger.Err(err), logger.FileNum(p.cachefile.filenum))
		return
	}

	p.clonedValueData = clone
	p.clonedAttr = cloneAttr

	// The clone is written here, off the pin path, rather than by
	// end_checkpoint's pending-list walk: this pair was already
	// spliced off the pending list above, so end_checkpoint would
	// never see it. end_checkpoint's drain barrier (clones.Wait)
	// is what makes this write durable before the checkpoint ends.
	cp.clones.Submit(func(jobCtx context.Context) {
		p.diskMu.Lock()
		newAttr, err := p.flush(jobCtx, p.cachefile, p.key, p.clonedValueData, p.diskData, p.extra, p.clonedAttr, true, true, true, true, false)
		p.diskMu.Unlock()

		if cp.metrics != nil {
			cp.metrics.RecordFlush(newAttr.Size, 0, true, true, err)
		}
		if err != nil {
			logger.ErrorCtx(jobCtx, "checkpoint clone write failed", logger.Err(err), logger.FileNum(p.cachefile.filenum))
			return
		}

		releaseCloneBuffer(p.clonedValueData)
		p.clonedValueData = nil
		p.clonedAttr = Attr{}
	})
}
