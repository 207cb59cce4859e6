package afkak

import (
	"math"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// dispatchGroups builds one ProduceRequest per (topic, partition)
// group, issues them together as a single Client.SendProduceRequest
// call on a fresh goroutine (the dispatch/retry controller's one true
// concurrency point, per §5 suspension point 2), and registers the
// covered submissions as InFlight so the eventual reply can be
// demultiplexed back to them.
func (e *engine) dispatchGroups(groups map[batchKey][]*submission) {
	live := make(map[batchKey][]*submission, len(groups))
	for key, subs := range groups {
		var kept []*submission
		for _, s := range subs {
			if s.isCancelled() {
				e.resolve(s, Result{Err: ErrCancelled})
				continue
			}
			s.attempts++
			kept = append(kept, s)
		}
		if len(kept) > 0 {
			live[key] = kept
		}
	}
	if len(live) == 0 {
		return
	}

	reqs := make([]*ProduceRequest, 0, len(live))
	for key, subs := range live {
		msgs := flattenMessages(subs)
		set, err := CreateMessageSet(msgs, e.p.cfg.codec)
		if err != nil {
			for _, s := range subs {
				e.terminal(s, err)
			}
			continue
		}
		reqs = append(reqs, &ProduceRequest{
			Topic:       key.topic,
			Partition:   key.partition,
			MessageSet:  set,
			Submissions: subs,
		})
	}
	if len(reqs) == 0 {
		return
	}

	id := e.allocID()
	e.inflight[id] = &inFlightRequest{id: id, groups: live}
	e.recordBatchMetrics(reqs)

	e.p.bg.Add(1)
	go func() {
		defer e.p.bg.Done()
		responses, err := e.sendChunked(reqs)
		e.p.send(&cmdDispatchResult{reqID: id, responses: responses, err: err})
	}()
}

// sendChunked issues reqs to the client, splitting them into at most
// maxInFlightRequests concurrent Client.SendProduceRequest calls when
// a combined flush covers more partitions than that bound allows
// in a single call. errgroup bounds the concurrency and collects every
// chunk's outcome into one aggregate FailedPayloadsError so the
// demultiplexer downstream never has to know dispatch was split.
func (e *engine) sendChunked(reqs []*ProduceRequest) ([]*ProduceResponse, error) {
	limit := e.p.cfg.maxInFlightRequests
	if limit <= 0 || len(reqs) <= limit {
		return e.p.client.SendProduceRequest(e.p.ctx, reqs, e.p.cfg.reqAcks, e.p.cfg.ackTimeout)
	}

	var mu sync.Mutex
	var responses []*ProduceResponse
	var failed []FailedPayload

	g, ctx := errgroup.WithContext(e.p.ctx)
	g.SetLimit(limit)
	for _, chunk := range chunkRequests(reqs, limit) {
		chunk := chunk
		g.Go(func() error {
			resp, err := e.p.client.SendProduceRequest(ctx, chunk, e.p.cfg.reqAcks, e.p.cfg.ackTimeout)
			mu.Lock()
			defer mu.Unlock()
			switch v := err.(type) {
			case nil:
				responses = append(responses, resp...)
			case *FailedPayloadsError:
				responses = append(responses, v.Responses...)
				failed = append(failed, v.Failed...)
			default:
				for _, r := range chunk {
					failed = append(failed, FailedPayload{Request: r, Err: err})
				}
			}
			return nil // aggregate every chunk's outcome rather than aborting the rest
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return responses, nil
	}
	return responses, &FailedPayloadsError{Responses: responses, Failed: failed}
}

func chunkRequests(reqs []*ProduceRequest, size int) [][]*ProduceRequest {
	var chunks [][]*ProduceRequest
	for size < len(reqs) {
		reqs, chunks = reqs[size:], append(chunks, reqs[:size:size])
	}
	return append(chunks, reqs)
}

func flattenMessages(subs []*submission) []Message {
	var out []Message
	for _, s := range subs {
		out = append(out, s.messages...)
	}
	return out
}

func (e *engine) recordBatchMetrics(reqs []*ProduceRequest) {
	if e.p.cfg.metrics == nil {
		return
	}
	h := metrics.GetOrRegisterHistogram("records-per-request", e.p.cfg.metrics, newUniformSample())
	for _, r := range reqs {
		h.Update(int64(len(r.Submissions)))
	}
}

// retryBackoff implements the producer's back-off policy: attempt 2
// uses exactly retryInterval for deterministic tests, subsequent
// attempts grow by 1.1x per step beyond that.
func retryBackoff(base time.Duration, nextAttempt int) time.Duration {
	if nextAttempt <= 2 {
		return base
	}
	factor := math.Pow(1.1, float64(nextAttempt-2))
	return time.Duration(float64(base) * factor)
}

// scheduleRetry arms a clock timer for subs (all destined for the same
// key) and reports back via cmdRetryFire when it fires. Submissions
// already cancelled are failed immediately instead of being rescheduled.
func (e *engine) scheduleRetry(key batchKey, subs []*submission) {
	var live []*submission
	for _, s := range subs {
		if s.isCancelled() {
			e.resolve(s, Result{Err: ErrCancelled})
			continue
		}
		live = append(live, s)
	}
	if len(live) == 0 {
		return
	}

	nextAttempt := live[0].attempts + 1
	for _, s := range live {
		if s.attempts+1 > nextAttempt {
			nextAttempt = s.attempts + 1
		}
	}
	delay := retryBackoff(e.p.cfg.retryInterval, nextAttempt)

	id := e.allocID()
	w := &retryWait{id: id, key: key, subs: live, abort: make(chan struct{})}
	e.pendingRetry[id] = w

	w.timer = e.p.cfg.clock.Timer(delay)
	e.p.bg.Add(1)
	go func() {
		defer e.p.bg.Done()
		select {
		case <-w.timer.C:
			e.p.send(&cmdRetryFire{waitID: id})
		case <-w.abort:
		}
	}()
}

func (e *engine) handleRetryFire(waitID uint64) {
	w, ok := e.pendingRetry[waitID]
	if !ok {
		return // stop() already cancelled and resolved this wait
	}
	delete(e.pendingRetry, waitID)
	e.dispatchGroups(map[batchKey][]*submission{w.key: w.subs})
}

// failOrRetry is the retry controller's gate: it either schedules
// another attempt for subs or, once max_req_attempts is exhausted (or
// err is non-transient), fails them terminally with err.
func (e *engine) failOrRetry(key batchKey, subs []*submission, err error) {
	var retryable []*submission
	for _, s := range subs {
		if s.isCancelled() {
			e.resolve(s, Result{Err: ErrCancelled})
			continue
		}
		if isRetriable(err) && s.attempts < e.p.cfg.maxReqAttempts {
			retryable = append(retryable, s)
			continue
		}
		if !isRetriable(err) {
			e.p.cfg.logger.Printf("Unexpected failure: %v in handleDispatchResult", err)
		}
		e.terminal(s, err)
	}
	if len(retryable) > 0 {
		if e.p.cfg.metrics != nil {
			metrics.GetOrRegisterCounter("retry-count", e.p.cfg.metrics).Inc(int64(len(retryable)))
		}
		e.scheduleRetry(key, retryable)
	}
}
