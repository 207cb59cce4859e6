package afkak

import (
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/eapache/queue"
)

// breakerTimeout is how long the metadata breaker stays open before
// letting another probe request through, once a topic's metadata has
// failed repeatedly.
const breakerTimeout = 10 * time.Second

// metadataState holds the partition resolver's per-topic bookkeeping:
// submissions waiting on a metadata fetch, whether a fetch is already
// in flight for a topic (so concurrent resolutions for the same topic
// share one Client.LoadMetadataForTopics call), and a breaker guarding
// against hammering a topic whose metadata keeps failing.
type metadataState struct {
	waiting  map[string]*queue.Queue
	inFlight map[string]bool
	breakers map[string]*breaker.Breaker
}

func newMetadataState() *metadataState {
	return &metadataState{
		waiting:  make(map[string]*queue.Queue),
		inFlight: make(map[string]bool),
		breakers: make(map[string]*breaker.Breaker),
	}
}

// enqueueWaiting buffers s behind topic's metadata fetch, decoupling
// arrival from resolution via eapache/queue instead of a channel that
// could block the submitter.
func (m *metadataState) enqueueWaiting(topic string, s *submission) {
	q, ok := m.waiting[topic]
	if !ok {
		q = queue.New()
		m.waiting[topic] = q
	}
	q.Add(s)
}

// drainWaiting removes and returns every submission queued for topic.
func (m *metadataState) drainWaiting(topic string) []*submission {
	q, ok := m.waiting[topic]
	if !ok {
		return nil
	}
	delete(m.waiting, topic)
	out := make([]*submission, 0, q.Length())
	for q.Length() > 0 {
		out = append(out, q.Remove().(*submission))
	}
	return out
}

// removeWaiting drops s from whichever topic queue holds it, used by
// cancellation. The queue package has no arbitrary-index removal, so
// this drains and rebuilds the topic's queue around s.
func (m *metadataState) removeWaiting(topic string, s *submission) bool {
	q, ok := m.waiting[topic]
	if !ok {
		return false
	}
	found := false
	rest := queue.New()
	for q.Length() > 0 {
		cur := q.Remove().(*submission)
		if cur == s {
			found = true
			continue
		}
		rest.Add(cur)
	}
	if rest.Length() == 0 {
		delete(m.waiting, topic)
	} else {
		m.waiting[topic] = rest
	}
	return found
}

func (m *metadataState) breakerFor(topic string) *breaker.Breaker {
	b, ok := m.breakers[topic]
	if !ok {
		b = breaker.New(3, 1, breakerTimeout)
		m.breakers[topic] = b
	}
	return b
}

// resolvePartition realizes §4.2: consult TopicPartitions, and if the
// topic is unknown, queue s to wait for a metadata fetch (triggering
// one if none is already in flight for this topic) instead of
// resolving synchronously. ok=true means s.partition was assigned and
// the caller may proceed to batch/dispatch it immediately; ok=false
// means s is either waiting on metadata or has already been failed.
func (e *engine) resolvePartition(s *submission) (ok bool) {
	partitions, known := e.p.client.TopicPartitions(s.topic)
	if known {
		idx, err := e.p.cfg.partitioner.Partition(s.topic, firstKey(s.messages), partitions)
		if err != nil {
			e.terminal(s, err)
			return false
		}
		if idx < 0 || idx >= len(partitions) {
			e.terminal(s, ErrLeaderNotAvailable)
			return false
		}
		s.partition = partitions[idx]
		return true
	}

	e.md.enqueueWaiting(s.topic, s)
	if !e.md.inFlight[s.topic] {
		e.md.inFlight[s.topic] = true
		e.fetchMetadata(s.topic)
	}
	return false
}

func firstKey(msgs []Message) []byte {
	if len(msgs) == 0 {
		return nil
	}
	return msgs[0].Key
}

// fetchMetadata issues Client.LoadMetadataForTopics on its own
// goroutine (the first of §5's suspension points) and reports the
// outcome back over the mailbox so only the loop goroutine ever
// touches engine state.
func (e *engine) fetchMetadata(topic string) {
	br := e.md.breakerFor(topic)
	e.p.bg.Add(1)
	go func() {
		defer e.p.bg.Done()
		err := br.Run(func() error {
			return e.p.client.LoadMetadataForTopics(e.p.ctx, []string{topic})
		})
		e.p.send(&cmdMetadataResult{topic: topic, err: err})
	}()
}

// handleMetadataResult re-consults TopicPartitions for topic now that
// the fetch has returned, falling back to MetadataErrorForTopic to
// decide whether the topic genuinely doesn't exist. Every submission
// that was waiting on this topic is either resolved onto a partition
// (and handed to the caller to batch/dispatch) or failed.
func (e *engine) handleMetadataResult(topic string, fetchErr error) {
	delete(e.md.inFlight, topic)
	waiters := e.md.drainWaiting(topic)

	if fetchErr != nil {
		for _, s := range waiters {
			if s.isCancelled() {
				e.resolve(s, Result{Err: ErrCancelled})
				continue
			}
			e.terminal(s, fetchErr)
		}
		return
	}

	partitions, known := e.p.client.TopicPartitions(topic)
	if !known {
		if code := e.p.client.MetadataErrorForTopic(topic); code != 0 {
			for _, s := range waiters {
				if s.isCancelled() {
					e.resolve(s, Result{Err: ErrCancelled})
					continue
				}
				e.terminal(s, ErrUnknownTopicOrPartition)
			}
			return
		}
		// No partitions and no reported error: nothing more we can do
		// for these submissions without another round trip.
		for _, s := range waiters {
			e.terminal(s, ErrUnknownTopicOrPartition)
		}
		return
	}

	for _, s := range waiters {
		if s.isCancelled() {
			e.resolve(s, Result{Err: ErrCancelled})
			continue
		}
		idx, err := e.p.cfg.partitioner.Partition(topic, firstKey(s.messages), partitions)
		if err != nil {
			e.terminal(s, err)
			continue
		}
		s.partition = partitions[idx]
		e.admit(s)
	}
}
