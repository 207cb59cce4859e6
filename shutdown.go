package afkak

import (
	"context"
	"sync"
	"sync/atomic"
)

// handleStop begins the shutdown state machine of §4.6. Submissions
// still sitting in a batch, waiting on a metadata fetch, or sleeping
// on a retry back-off are failed right away with ErrCancelled;
// submissions already in flight are failed with ErrCancelled as soon
// as their reply reaches handleDispatchResult. The stop handle itself
// is only fulfilled once outstanding has drained to zero, in
// maybeFinishStopping.
func (e *engine) handleStop(handle *Handle) {
	if e.stopping {
		// Already stopping: a later Stop call just waits alongside the
		// first, via the same stopHandle.
		if e.stopHandle == nil {
			handle.fulfill(Result{})
		} else if e.stopHandle != handle {
			go func(first, second *Handle) {
				first.Wait(context.Background())
				second.fulfill(Result{})
			}(e.stopHandle, handle)
		}
		return
	}

	e.stopping = true
	e.stopHandle = handle
	e.p.beginStop()

	for key, b := range e.batches.byKey {
		for _, s := range b.subs {
			e.resolve(s, Result{Err: ErrCancelled})
		}
		delete(e.batches.byKey, key)
	}
	e.batches.totalCount = 0
	e.batches.totalBytes = 0

	for topic := range e.md.waiting {
		for _, s := range e.md.drainWaiting(topic) {
			e.resolve(s, Result{Err: ErrCancelled})
		}
	}

	// Sleeping submissions are still owned by a live timer goroutine;
	// stopping the timer here lets them resolve immediately instead of
	// waiting out the remainder of their back-off, per §4.6's distinct
	// treatment of the sleeping state during shutdown.
	for id, w := range e.pendingRetry {
		w.timer.Stop()
		close(w.abort)
		for _, s := range w.subs {
			e.resolve(s, Result{Err: ErrCancelled})
		}
		delete(e.pendingRetry, id)
	}
}

// handleCancel realizes the per-state cancellation table from §5: a
// submission still queued in a batch or waiting on metadata is
// removed and resolved immediately; one already dispatched or sleeping
// on a retry timer only has its cancelled flag set; the in-flight or
// retry-wait machinery checks isCancelled before acting on it next and
// resolves it with ErrCancelled at that point instead of retrying or
// redispatching it.
func (e *engine) handleCancel(s *submission) {
	s.markCancelled()

	if s.topic != "" {
		key := batchKey{topic: s.topic, partition: s.partition}
		if e.batches.removeSubmission(key, s) {
			e.resolve(s, Result{Err: ErrCancelled})
			return
		}
	}

	if e.md.removeWaiting(s.topic, s) {
		e.resolve(s, Result{Err: ErrCancelled})
		return
	}

	// In flight, sleeping on a retry timer, or not yet tracked by any
	// of the above (still inside resolvePartition's synchronous path):
	// the cancelled flag alone is enough, the owning goroutine's next
	// check of isCancelled will resolve it.
}

// safeWaitGroup wraps sync.WaitGroup so a stray Add/Done race during
// shutdown latches into a recorded panic instead of taking the whole
// process down with it: once one has been recovered, further Add/Done
// calls are no-ops and Wait returns immediately rather than blocking
// on a counter that can no longer be trusted.
type safeWaitGroup struct {
	wg        sync.WaitGroup
	hasPanicked int32
}

func (s *safeWaitGroup) onPanic(rec interface{}) {
	atomic.StoreInt32(&s.hasPanicked, 1)
	logger.Printf("afkak: recovered from background-goroutine accounting panic: %v", rec)
}

func (s *safeWaitGroup) Add(delta int) {
	if atomic.LoadInt32(&s.hasPanicked) != 0 {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.onPanic(rec)
		}
	}()
	s.wg.Add(delta)
}

func (s *safeWaitGroup) Done() {
	if atomic.LoadInt32(&s.hasPanicked) != 0 {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.onPanic(rec)
		}
	}()
	s.wg.Done()
}

func (s *safeWaitGroup) Wait() {
	if atomic.LoadInt32(&s.hasPanicked) == 0 {
		s.wg.Wait()
	}
}
