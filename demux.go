package afkak

// handleDispatchResult realizes §4.5: it demultiplexes one broker
// reply back to every submission the originating request represented,
// using the InFlight entry's (topic, partition) grouping rather than
// any per-message bookkeeping.
func (e *engine) handleDispatchResult(cmd *cmdDispatchResult) {
	inf, ok := e.inflight[cmd.reqID]
	if !ok {
		return
	}
	delete(e.inflight, cmd.reqID)

	if e.stopping {
		for _, subs := range inf.groups {
			for _, s := range subs {
				e.resolve(s, Result{Err: ErrCancelled})
			}
		}
		return
	}

	switch err := cmd.err.(type) {
	case nil:
		e.demuxResponses(inf, cmd.responses)
	case *FailedPayloadsError:
		e.demuxPartialFailure(inf, err)
	default:
		e.demuxHardFailure(inf, cmd.err)
	}
}

// demuxResponses handles the plain-list reply shape: a
// ProduceResponse per dispatched partition, an empty list when acks
// were not required, or an empty list despite acks being required
// (NoResponseError).
func (e *engine) demuxResponses(inf *inFlightRequest, responses []*ProduceResponse) {
	if len(responses) == 0 {
		if e.p.cfg.reqAcks == AckNone {
			for _, subs := range inf.groups {
				e.fulfillGroup(subs, Result{Response: nil})
			}
			return
		}
		for _, subs := range inf.groups {
			for _, s := range subs {
				e.terminal(s, ErrNoResponse)
			}
		}
		e.recordErrorMetrics(groupSize(inf))
		return
	}

	matched := make(map[batchKey]bool, len(responses))
	for _, resp := range responses {
		key := batchKey{topic: resp.Topic, partition: resp.Partition}
		subs, ok := inf.groups[key]
		if !ok {
			// No in-flight payload matches this (topic, partition);
			// per §9's open question, log and discard.
			e.p.cfg.logger.Printf("afkak: discarding unmatched produce response for %s/%d", resp.Topic, resp.Partition)
			continue
		}
		matched[key] = true
		e.fulfillGroup(subs, Result{Response: resp})
	}

	for key, subs := range inf.groups {
		if matched[key] {
			continue
		}
		for _, s := range subs {
			e.terminal(s, ErrNoResponse)
		}
	}
}

// demuxPartialFailure handles the FailedPayloadsError reply shape:
// the successful partitions are fulfilled immediately and the failed
// ones are handed to the retry controller.
func (e *engine) demuxPartialFailure(inf *inFlightRequest, fp *FailedPayloadsError) {
	succeeded := make(map[batchKey]bool, len(fp.Responses))
	for _, resp := range fp.Responses {
		key := batchKey{topic: resp.Topic, partition: resp.Partition}
		subs, ok := inf.groups[key]
		if !ok {
			e.p.cfg.logger.Printf("afkak: discarding unmatched produce response for %s/%d", resp.Topic, resp.Partition)
			continue
		}
		succeeded[key] = true
		e.fulfillGroup(subs, Result{Response: resp})
	}

	for _, fpItem := range fp.Failed {
		key := batchKey{topic: fpItem.Request.Topic, partition: fpItem.Request.Partition}
		subs, ok := inf.groups[key]
		if !ok {
			continue
		}
		succeeded[key] = true // handled, one way or another
		e.failOrRetry(key, subs, fpItem.Err)
	}

	for key, subs := range inf.groups {
		if succeeded[key] {
			continue
		}
		// Request was neither acknowledged nor reported failed: treat
		// like an incomplete/absent response rather than dropping it
		// silently (same policy as the plain-empty-list case).
		for _, s := range subs {
			e.terminal(s, ErrNoResponse)
		}
	}
}

// demuxHardFailure handles a whole-call failure (the client itself
// errored rather than returning a FailedPayloadsError): every
// submission in the request is judged against the retry policy
// uniformly, since the failure wasn't attributed per-partition.
func (e *engine) demuxHardFailure(inf *inFlightRequest, err error) {
	for key, subs := range inf.groups {
		e.failOrRetry(key, subs, err)
	}
}

func (e *engine) fulfillGroup(subs []*submission, r Result) {
	e.recordSuccessMetrics(len(subs))
	for _, s := range subs {
		if s.isCancelled() {
			e.resolve(s, Result{Err: ErrCancelled})
			continue
		}
		e.resolve(s, r)
	}
}

func groupSize(inf *inFlightRequest) int {
	n := 0
	for _, subs := range inf.groups {
		n += len(subs)
	}
	return n
}
