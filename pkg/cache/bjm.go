package cache

import (
	"context"
	"sync"

	"github.com/tokudb-go/cachetable/internal/logger"
)

// job is a unit of background work submitted to a BackgroundJobManager:
// a clone write, a fetch, a partial eviction or a flush, depending on
// who called Submit.
type job func(ctx context.Context)

// BackgroundJobManager tracks in-flight background work scoped to one
// cachefile and supports a drain barrier (Wait), used by close_file and
// by end_checkpoint to quiesce outstanding clone writes (§2, §4.7 step
// 2). Modeled on pkg/flusher.BackgroundUploader's worker-pool-plus-
// bounded-queue shape, generalized from uploads to arbitrary submitted
// jobs.
type BackgroundJobManager struct {
	queue   chan job
	workers int

	wg sync.WaitGroup

	mu      sync.Mutex
	pending int

	drainCond *sync.Cond
}

// BackgroundJobManagerConfig configures queue depth and worker count.
type BackgroundJobManagerConfig struct {
	QueueSize int
	Workers   int
}

// DefaultBackgroundJobManagerConfig returns sensible defaults for a
// per-cachefile job manager.
func DefaultBackgroundJobManagerConfig() BackgroundJobManagerConfig {
	return BackgroundJobManagerConfig{QueueSize: 64, Workers: 2}
}

// NewBackgroundJobManager creates and starts a job manager bound to ctx;
// workers exit when ctx is cancelled.
func NewBackgroundJobManager(ctx context.Context, cfg BackgroundJobManagerConfig) *BackgroundJobManager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	bjm := &BackgroundJobManager{
		queue:   make(chan job, cfg.QueueSize),
		workers: cfg.Workers,
	}
	bjm.drainCond = sync.NewCond(&bjm.mu)

	for i := 0; i < bjm.workers; i++ {
		bjm.wg.Add(1)
		go bjm.run(ctx)
	}

	return bjm
}

func (b *BackgroundJobManager) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-b.queue:
			if !ok {
				return
			}
			j(ctx)
			b.mu.Lock()
			b.pending--
			if b.pending == 0 {
				b.drainCond.Broadcast()
			}
			b.mu.Unlock()
		}
	}
}

// Submit enqueues a job. It blocks only if the queue is full; callers
// on the hot path (the clock sweep, the pin protocol) should size
// QueueSize generously rather than rely on backpressure here — flow
// control against client threads is the evictor's job (§4.5), not the
// job manager's.
func (b *BackgroundJobManager) Submit(j job) {
	b.mu.Lock()
	b.pending++
	b.mu.Unlock()

	b.queue <- j
}

// Pending returns the number of jobs submitted but not yet completed.
func (b *BackgroundJobManager) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Wait blocks until all submitted jobs have completed, or ctx is done.
// Used by close_file to quiesce before removing pairs, and by
// end_checkpoint to drain foreground-scheduled clone writes (§4.7
// step 2).
func (b *BackgroundJobManager) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		b.mu.Lock()
		for b.pending > 0 {
			b.drainCond.Wait()
		}
		b.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and waits for workers to exit. Safe
// to call after Wait has drained the queue.
func (b *BackgroundJobManager) Close() {
	close(b.queue)
	b.wg.Wait()
	logger.Debug("background job manager closed")
}
