package afkak

import (
	"context"
	"sync"
	"time"
)

// fakeClient is a scriptable Client for deterministic producer tests:
// each SendProduceRequest call consumes the next entry of replies (or
// reuses the last one if the scenario only needs to script a partial
// prefix), and every call is recorded for assertions.
type fakeClient struct {
	mu sync.Mutex

	partitions map[string][]int32
	metaErr    map[string]int16
	metaCalls  int

	replies []fakeReply
	calls   []fakeCall
}

type fakeReply struct {
	responses []*ProduceResponse
	err       error
}

type fakeCall struct {
	reqs    []*ProduceRequest
	acks    RequiredAcks
	timeout time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		partitions: make(map[string][]int32),
		metaErr:    make(map[string]int16),
	}
}

func (c *fakeClient) setTopic(topic string, partitions ...int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions[topic] = partitions
}

func (c *fakeClient) setMetadataError(topic string, code int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metaErr[topic] = code
}

func (c *fakeClient) queueReply(responses []*ProduceResponse, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, fakeReply{responses: responses, err: err})
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) callAt(i int) fakeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

func (c *fakeClient) SendProduceRequest(ctx context.Context, reqs []*ProduceRequest, acks RequiredAcks, timeout time.Duration) ([]*ProduceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, fakeCall{reqs: reqs, acks: acks, timeout: timeout})

	if len(c.replies) == 0 {
		return nil, nil
	}
	idx := len(c.calls) - 1
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	r := c.replies[idx]
	return r.responses, r.err
}

func (c *fakeClient) LoadMetadataForTopics(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metaCalls++
	return nil
}

func (c *fakeClient) MetadataErrorForTopic(topic string) int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metaErr[topic]
}

func (c *fakeClient) TopicPartitions(topic string) ([]int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.partitions[topic]
	return p, ok
}
