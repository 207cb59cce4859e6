package afkak

import (
	"github.com/benbjohnson/clock"
)

// Mailbox command types. Every piece of engine state is touched only
// from inside engine.run, which is the sole consumer of p.mailbox:
// a single goroutine driving a channel-based mailbox, so no field
// below needs a lock.
type (
	cmdSubmit struct {
		sub *submission
	}
	cmdCancel struct {
		sub *submission
	}
	cmdTick           struct{}
	cmdMetadataResult struct {
		topic string
		err   error
	}
	cmdDispatchResult struct {
		reqID     uint64
		responses []*ProduceResponse
		err       error
	}
	cmdRetryFire struct {
		waitID uint64
	}
	cmdTimerStopped struct{}
	cmdStop         struct {
		handle *Handle
	}
)

// inFlightRequest is the Data Model's InFlight: a dispatched request
// plus the submissions it represents, grouped by (topic, partition).
// The attempt count is kept on each submission, not here.
type inFlightRequest struct {
	id     uint64
	groups map[batchKey][]*submission
}

// retryWait tracks one group of submissions sleeping on the injected
// clock between attempts.
type retryWait struct {
	id     uint64
	key    batchKey
	subs   []*submission
	timer  *clock.Timer
	abort  chan struct{}
}

// engine owns every piece of mutable producer state. It is created
// once per Producer and driven exclusively by run(), which is the only
// goroutine that ever reads or writes its fields.
type engine struct {
	p *Producer

	md      *metadataState
	batches *batchTable

	inflight     map[uint64]*inFlightRequest
	pendingRetry map[uint64]*retryWait
	nextID       uint64

	outstanding int
	stopping    bool
	timerLive   bool

	stopHandle *Handle
}

func newEngine(p *Producer) *engine {
	return &engine{
		p:            p,
		md:           newMetadataState(),
		batches:      newBatchTable(),
		inflight:     make(map[uint64]*inFlightRequest),
		pendingRetry: make(map[uint64]*retryWait),
	}
}

func (e *engine) allocID() uint64 {
	e.nextID++
	return e.nextID
}

// run is the producer's single state-owning goroutine.
func (e *engine) run() {
	defer close(e.p.loopDone)

	for raw := range e.p.mailbox {
		switch cmd := raw.(type) {
		case *cmdSubmit:
			e.handleSubmit(cmd.sub)
		case *cmdCancel:
			e.handleCancel(cmd.sub)
		case *cmdTick:
			e.handleTick()
		case *cmdMetadataResult:
			e.handleMetadataResult(cmd.topic, cmd.err)
		case *cmdDispatchResult:
			e.handleDispatchResult(cmd)
		case *cmdRetryFire:
			e.handleRetryFire(cmd.waitID)
		case *cmdTimerStopped:
			e.timerLive = false
		case *cmdStop:
			e.handleStop(cmd.handle)
		}

		e.maybeFinishStopping()

		if e.stopping && e.outstanding == 0 && !e.timerLive {
			return
		}
	}
}

// handleSubmit is the batch-table/unbatched entrypoint once a
// submission has cleared validation in SendMessages. Submissions that
// wait on a metadata fetch continue through admit, called from
// handleMetadataResult once the topic's partitions are known.
func (e *engine) handleSubmit(s *submission) {
	e.outstanding++
	if e.stopping {
		e.resolve(s, Result{Err: ErrShuttingDown})
		return
	}
	s.createdAt = e.p.cfg.clock.Now().UnixNano()

	if !e.resolvePartition(s) {
		return // waiting on metadata; handleMetadataResult will admit it
	}
	e.admit(s)
}

// admit is called once a submission has a resolved partition: it
// either enqueues into the batch table (batch mode) or dispatches
// immediately (unbatched mode), per §4.1.
func (e *engine) admit(s *submission) {
	if s.isCancelled() {
		e.resolve(s, Result{Err: ErrCancelled})
		return
	}

	if !e.p.cfg.batchSend {
		key := batchKey{topic: s.topic, partition: s.partition}
		e.dispatchGroups(map[batchKey][]*submission{key: {s}})
		return
	}

	key := batchKey{topic: s.topic, partition: s.partition}
	e.batches.add(key, s, s.createdAt)

	if e.batches.thresholdTriggered(e.p.cfg.batchEveryN, e.p.cfg.batchEveryB) {
		e.flushAll()
	}
}

// flushAll drains every open batch and dispatches them together as
// one (possibly multi-partition) request, per §4.4's "fold ... into a
// single send_produce_request call".
func (e *engine) flushAll() {
	drained := e.batches.drainAll()
	if len(drained) == 0 {
		return
	}
	groups := make(map[batchKey][]*submission, len(drained))
	for _, b := range drained {
		groups[b.key] = b.subs
	}
	e.dispatchGroups(groups)
}

func (e *engine) handleTick() {
	if e.p.cfg.batchEveryT <= 0 {
		// A tick without a positive time budget flushes every open
		// batch. NewProducer only starts the timer when batchEveryT > 0,
		// so with a zero budget no tick arrives and the time trigger is
		// off.
		e.flushAll()
		return
	}
	now := e.p.cfg.clock.Now().UnixNano()
	age := e.p.cfg.batchEveryT.Nanoseconds()
	if e.batches.anyExpired(now, age) {
		e.flushAll()
	}
}

// terminal fails s with err and accounts for it, for errors that end
// the submission: ones never eligible for retry (validation, metadata,
// unexpected) and retriable ones once attempts are exhausted.
func (e *engine) terminal(s *submission, err error) {
	e.resolve(s, Result{Err: err})
}

// resolve settles s's handle exactly once and decrements the
// outstanding counter exactly once, regardless of how many code paths
// race to call it for the same submission.
func (e *engine) resolve(s *submission, r Result) {
	s.settleOnce.Do(func() {
		s.handle.fulfill(r)
		e.outstanding--
	})
}

func (e *engine) maybeFinishStopping() {
	if !e.stopping {
		return
	}
	if e.outstanding == 0 && !e.timerLive && e.stopHandle != nil {
		e.p.finishStop()
		e.stopHandle.fulfill(Result{})
		e.stopHandle = nil
	}
}
