package afkak

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is one payload a caller wants produced. Key is optional and
// consulted only by partitioners that require consistent hashing.
type Message struct {
	Key   []byte
	Value []byte
}

func (m Message) byteSize() int {
	return len(m.Key) + len(m.Value)
}

// Result is what a Handle resolves with: Response and Err are never
// both set. Both are nil when acks were not required (AckNone) and the
// broker sent no response, and for the handle Stop waits on.
type Result struct {
	Response *ProduceResponse
	Err      error
}

// Handle is a one-shot completion object bound to a submission. It
// resolves exactly once, per invariant I1, with a response, an error,
// or ErrCancelled.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result Result
	cancel func()
}

func newHandle(cancel func()) *Handle {
	return &Handle{done: make(chan struct{}), cancel: cancel}
}

// fulfill resolves the handle. Calls after the first are no-ops,
// enforcing exactly-once resolution regardless of how many code paths
// race to settle the same submission.
func (h *Handle) fulfill(r Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

// Wait blocks until the handle resolves or ctx is done, whichever
// comes first. A ctx cancellation does not cancel the underlying
// submission; call Cancel for that.
func (h *Handle) Wait(ctx context.Context) (*ProduceResponse, error) {
	select {
	case <-h.done:
		return h.result.Response, h.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed once the handle has resolved, for
// callers that want to select on completion alongside other events.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel requests cooperative cancellation of the submission backing
// this handle, per §5's cancellation semantics. It is safe to call
// from any goroutine and safe to call more than once or after the
// handle has already resolved.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// submission is the Data Model's Submission: immutable topic and
// message set, mutable resolution/attempt/cancellation state owned
// exclusively by the producer's loop goroutine, except for the
// cancelled flag which is set atomically so Handle.Cancel can be
// called from any goroutine without a data race.
type submission struct {
	topic    string
	messages []Message
	handle   *Handle

	partition  int32
	attempts   int
	cancelled  int32 // atomic bool
	createdAt  int64 // clock.Now().UnixNano() at enqueue, set by loop
	settleOnce sync.Once
}

func (s *submission) isCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) != 0
}

func (s *submission) markCancelled() {
	atomic.StoreInt32(&s.cancelled, 1)
}

func (s *submission) byteSize() int {
	n := 0
	for _, m := range s.messages {
		n += m.byteSize()
	}
	return n
}
