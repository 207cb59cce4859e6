package afkak

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func waitForCallCount(t *testing.T, c *fakeClient, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.callCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d client call(s), saw %d", n, c.callCount())
}

func mustWait(t *testing.T, h *Handle) (*ProduceResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := h.Wait(ctx)
	require.NoError(t, ctx.Err(), "handle never resolved")
	return resp, err
}

// scenario 1: unbatched happy path.
func TestProducerUnbatchedHappyPath(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 23, 101, 102, 103)
	c.queueReply([]*ProduceResponse{{Topic: "T", Partition: 23, Offset: 10}}, nil)

	p, err := NewProducer(c, WithAckTimeout(5*time.Second))
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h, err := p.SendMessages("T", Message{Value: []byte("one")}, Message{Value: []byte("two")})
	require.NoError(t, err)

	resp, err := mustWait(t, h)
	require.NoError(t, err)
	require.Equal(t, "T", resp.Topic)
	require.Equal(t, int32(23), resp.Partition)
	require.Equal(t, int64(10), resp.Offset)
	require.Equal(t, 1, c.callCount())

	call := c.callAt(0)
	require.Len(t, call.reqs, 1)
	require.Equal(t, RequiredAcks(AckLeader), call.acks)
	require.Equal(t, 5*time.Second, call.timeout)
}

// scenario 2: acks not required.
func TestProducerAckNoneResolvesWithNilResponse(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0)
	c.queueReply(nil, nil)

	p, err := NewProducer(c, WithRequiredAcks(AckNone))
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h, err := p.SendMessages("T", Message{Value: []byte("x")})
	require.NoError(t, err)

	resp, err := mustWait(t, h)
	require.NoError(t, err)
	require.Nil(t, resp)
}

// scenario 3: no retries configured, hard failure is terminal on the
// first attempt.
func TestProducerNoRetriesHardFail(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0)
	c.queueReply(nil, ErrBrokerNotAvailable)

	p, err := NewProducer(c, WithMaxRequestAttempts(1))
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h, err := p.SendMessages("T", Message{Value: []byte("x")})
	require.NoError(t, err)

	_, err = mustWait(t, h)
	require.ErrorIs(t, err, ErrBrokerNotAvailable)
	require.Equal(t, 1, c.callCount())
}

// scenario 4: batched partial success, then a successful retry for
// the failed partitions.
func TestProducerBatchedPartialSuccessThenRetry(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0, 1, 2)
	c.setTopic("T2", 5, 6)

	mock := clock.NewMock()

	firstResp := []*ProduceResponse{
		{Topic: "T", Partition: 0, Offset: 10},
		{Topic: "T", Partition: 1, Offset: 20},
		{Topic: "T2", Partition: 5, Offset: 30},
	}
	firstFail := &FailedPayloadsError{
		Responses: firstResp,
		Failed: []FailedPayload{
			{Request: &ProduceRequest{Topic: "T", Partition: 2}, Err: ErrBrokerNotAvailable},
			{Request: &ProduceRequest{Topic: "T2", Partition: 6}, Err: ErrBrokerNotAvailable},
		},
	}
	c.queueReply(firstResp, firstFail)
	c.queueReply([]*ProduceResponse{
		{Topic: "T", Partition: 2, Offset: 0},
		{Topic: "T2", Partition: 6, Offset: 0},
	}, nil)

	p, err := NewProducer(c,
		WithBatching(10, 0, 0),
		WithClock(mock),
		WithPartitioner(&scriptedPartitioner{}),
	)
	require.NoError(t, err)
	defer p.Stop(context.Background())

	topics := []string{"T", "T", "T", "T2", "T2"}
	handles := make([]*Handle, 0, 5)
	for _, topic := range topics {
		h, err := p.SendMessages(topic, Message{Value: []byte("m1")}, Message{Value: []byte("m2")})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	waitForCallCount(t, c, 1)

	mock.Add(150 * time.Millisecond)
	// the two failed partitions (T/2 and T2/6) each retry as their own
	// dispatch, so the retry round contributes two more calls.
	waitForCallCount(t, c, 3)

	for _, h := range handles {
		_, err := mustWait(t, h)
		require.NoError(t, err)
	}
}

// scenario 5: retries exhaust and the last transient error surfaces.
func TestProducerBoundedRetriesExhausted(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0)
	c.queueReply(nil, ErrOffsetOutOfRange)
	c.queueReply(nil, ErrBrokerNotAvailable)
	c.queueReply(nil, ErrLeaderNotAvailable)

	mock := clock.NewMock()
	p, err := NewProducer(c,
		WithMaxRequestAttempts(3),
		WithRetryInterval(100*time.Millisecond),
		WithClock(mock),
	)
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h, err := p.SendMessages("T", Message{Value: []byte("x")})
	require.NoError(t, err)

	waitForCallCount(t, c, 1)
	mock.Add(100 * time.Millisecond)
	waitForCallCount(t, c, 2)
	mock.Add(110 * time.Millisecond)
	waitForCallCount(t, c, 3)

	_, err = mustWait(t, h)
	require.ErrorIs(t, err, ErrLeaderNotAvailable)
}

// scenario 6: cancelling while sleeping on a retry back-off resolves
// with ErrCancelled, and Stop itself still completes.
func TestProducerCancelWhileRetrying(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0)
	c.queueReply(nil, ErrBrokerNotAvailable)

	mock := clock.NewMock()
	p, err := NewProducer(c, WithClock(mock), WithRetryInterval(100*time.Millisecond))
	require.NoError(t, err)

	h, err := p.SendMessages("T", Message{Value: []byte("x")})
	require.NoError(t, err)

	waitForCallCount(t, c, 1)
	mock.Add(50 * time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))

	_, err = mustWait(t, h)
	require.ErrorIs(t, err, ErrCancelled)
}

// scenario 7: cancelling before a batch ever fills leaves no trace of
// the cancelled submission in any dispatched request.
func TestProducerCancelBeforeDispatch(t *testing.T) {
	c := newFakeClient()
	c.setTopic("T", 0)

	p, err := NewProducer(c, WithBatching(3, 0, 0))
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h1, err := p.SendMessages("T", Message{Value: []byte("a")})
	require.NoError(t, err)
	h2, err := p.SendMessages("T", Message{Value: []byte("b")})
	require.NoError(t, err)

	h1.Cancel()

	_, err = mustWait(t, h1)
	require.ErrorIs(t, err, ErrCancelled)

	require.Equal(t, 0, c.callCount())
	select {
	case <-h2.Done():
		t.Fatal("second handle should still be unresolved, batch threshold not reached")
	default:
	}

	_, err = p.SendMessages("T", Message{Value: []byte("c")})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, c.callCount())
}

// scenario 8: unknown topic fails every waiting submission without
// ever issuing a produce request.
func TestProducerUnknownTopic(t *testing.T) {
	c := newFakeClient()
	c.setMetadataError("T", 3)

	p, err := NewProducer(c)
	require.NoError(t, err)
	defer p.Stop(context.Background())

	h, err := p.SendMessages("T", Message{Value: []byte("x")})
	require.NoError(t, err)

	_, err = mustWait(t, h)
	require.ErrorIs(t, err, ErrUnknownTopicOrPartition)
	require.Equal(t, 0, c.callCount())
}

// scriptedPartitioner assigns partitions by a per-topic round-robin
// over the exact partition list, used where a test needs deterministic
// partition assignment across five submissions spread over two topics.
type scriptedPartitioner struct {
	cursors map[string]int
}

func (p *scriptedPartitioner) Partition(topic string, _ []byte, partitions []int32) (int, error) {
	if p.cursors == nil {
		p.cursors = make(map[string]int)
	}
	idx := p.cursors[topic] % len(partitions)
	p.cursors[topic] = idx + 1
	return idx, nil
}

func (p *scriptedPartitioner) Name() string { return "scriptedPartitioner" }
