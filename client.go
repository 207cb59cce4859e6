package afkak

import (
	"context"
	"time"
)

// RequiredAcks is the broker ack level a produce request demands.
type RequiredAcks int16

const (
	// AckNone means the broker does not send a response at all.
	AckNone RequiredAcks = 0
	// AckLeader means the leader replica acknowledges before replying.
	AckLeader RequiredAcks = 1
	// AckAll means every in-sync replica acknowledges before replying.
	AckAll RequiredAcks = -1
)

// ProduceRequest is a wire-ready request for one partition's encoded
// message set. Submissions lists the callers' submissions the request
// covers; the response itself is demultiplexed through the engine's
// in-flight registry, keyed by (topic, partition).
type ProduceRequest struct {
	Topic        string
	Partition    int32
	MessageSet   []byte
	Submissions  []*submission
}

// ProduceResponse is the broker's per-partition reply to a
// ProduceRequest.
type ProduceResponse struct {
	Topic     string
	Partition int32
	ErrCode   int16
	Offset    int64
}

// Client is the external collaborator this package depends on: a
// Kafka client exposing produce dispatch and topic metadata. Its wire
// protocol and connection management are out of scope here; a
// reference in-memory implementation lives in refclient.go for this
// package's own tests.
type Client interface {
	// SendProduceRequest issues one broker call covering all of reqs.
	// fail_on_error=false semantics: a call that partially fails
	// returns a non-nil *FailedPayloadsError as err, still carrying
	// the successful responses inside it, rather than failing outright.
	SendProduceRequest(ctx context.Context, reqs []*ProduceRequest, acks RequiredAcks, timeout time.Duration) ([]*ProduceResponse, error)

	// LoadMetadataForTopics refreshes TopicPartitions/MetadataErrorForTopic
	// for the given topics as a side effect.
	LoadMetadataForTopics(ctx context.Context, topics []string) error

	// MetadataErrorForTopic returns 0 when the topic has no known
	// metadata error, non-zero otherwise.
	MetadataErrorForTopic(topic string) int16

	// TopicPartitions returns the ordered partition list known for
	// topic and whether it is known at all.
	TopicPartitions(topic string) ([]int32, bool)
}
