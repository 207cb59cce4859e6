package afkak

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryClient is a reference Client implementation backed by
// nothing more than process memory: topics are registered up front,
// every produce request is encoded/decoded through the same
// CreateMessageSet/DecodeMessageSet and WriteFrame/ReadFrame helpers a
// real wire client would use, and responses are handed back
// synchronously. It exists because this package's own tests need a
// concrete Client to drive the coordination core against without
// pulling in a wire codec or a real broker; the encode/decode round
// trip through a byte buffer stands in for a broker's marshal/send/
// unmarshal over a real socket.
type InMemoryClient struct {
	mu         sync.Mutex
	partitions map[string][]int32
	metaErr    map[string]int16
	records    map[batchKey][]Message

	// FailNext, when non-nil, is consumed (and cleared) by the next
	// SendProduceRequest call instead of actually storing anything.
	FailNext error
}

// NewInMemoryClient returns a client with no topics registered; use
// AddTopic to seed partitions before producing to them.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		partitions: make(map[string][]int32),
		metaErr:    make(map[string]int16),
		records:    make(map[batchKey][]Message),
	}
}

// AddTopic registers topic with the given partition IDs, making it
// immediately resolvable without a LoadMetadataForTopics round trip.
func (c *InMemoryClient) AddTopic(topic string, partitions ...int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions[topic] = partitions
}

// SetMetadataError arranges for MetadataErrorForTopic(topic) to report
// code, simulating an unknown or errored topic.
func (c *InMemoryClient) SetMetadataError(topic string, code int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metaErr[topic] = code
}

func (c *InMemoryClient) SendProduceRequest(ctx context.Context, reqs []*ProduceRequest, acks RequiredAcks, timeout time.Duration) ([]*ProduceResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailNext != nil {
		err := c.FailNext
		c.FailNext = nil
		return nil, err
	}

	responses := make([]*ProduceResponse, 0, len(reqs))
	for _, req := range reqs {
		var frame bytes.Buffer
		if err := WriteFrame(&frame, req.MessageSet); err != nil {
			return nil, fmt.Errorf("afkak: in-memory client framing: %w", err)
		}
		decoded, err := ReadFrame(&frame)
		if err != nil {
			return nil, fmt.Errorf("afkak: in-memory client framing: %w", err)
		}
		msgs, err := DecodeMessageSet(decoded, CodecNone)
		if err != nil {
			// Non-CodecNone sets are opaque to this loopback transport's
			// trivial decode path; nothing is recorded for them, rather
			// than failing the whole request.
			msgs = nil
		}

		key := batchKey{topic: req.Topic, partition: req.Partition}
		c.records[key] = append(c.records[key], msgs...)

		if acks == AckNone {
			continue
		}
		responses = append(responses, &ProduceResponse{
			Topic:     req.Topic,
			Partition: req.Partition,
			Offset:    int64(len(c.records[key])),
		})
	}
	return responses, nil
}

func (c *InMemoryClient) LoadMetadataForTopics(ctx context.Context, topics []string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	// Topics are seeded synchronously via AddTopic; a real client would
	// populate c.partitions here from the broker's metadata response.
	return nil
}

func (c *InMemoryClient) MetadataErrorForTopic(topic string) int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metaErr[topic]
}

func (c *InMemoryClient) TopicPartitions(topic string) ([]int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.partitions[topic]
	return p, ok
}

// Records returns a copy of every message stored for (topic,
// partition), for test assertions.
func (c *InMemoryClient) Records(topic string, partition int32) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.records[batchKey{topic: topic, partition: partition}]
	out := make([]Message, len(src))
	copy(out, src)
	return out
}
