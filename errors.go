package afkak

import (
	"errors"
	"fmt"
)

// Sentinel errors carrying the taxonomy named in the producer's wire
// contract. Names mirror the Kafka protocol error conditions this
// producer reacts to; callers are expected to match against these with
// errors.Is.
var (
	// ErrEmptyMessages is returned synchronously by SendMessages when
	// called with no messages. No state is mutated.
	ErrEmptyMessages = errors.New("afkak: messages must not be empty")

	// ErrUnsupportedCodec is returned when a Codec option names an
	// unrecognized compression scheme.
	ErrUnsupportedCodec = errors.New("afkak: unsupported codec")

	// ErrUnknownTopicOrPartition is terminal for a submission when
	// metadata resolution cannot find partitions for the topic.
	ErrUnknownTopicOrPartition = errors.New("afkak: unknown topic or partition")

	// ErrBrokerNotAvailable signals a transient broker-side condition
	// eligible for retry.
	ErrBrokerNotAvailable = errors.New("afkak: broker not available")

	// ErrLeaderNotAvailable signals a transient broker-side condition
	// eligible for retry.
	ErrLeaderNotAvailable = errors.New("afkak: leader not available")

	// ErrOffsetOutOfRange is surfaced terminally once retries are
	// exhausted; it is not itself a stop condition before that.
	ErrOffsetOutOfRange = errors.New("afkak: offset out of range")

	// ErrNoResponse is terminal for every submission in a request when
	// the broker reply is an empty list and acks were required.
	ErrNoResponse = errors.New("afkak: no response from broker")

	// ErrCancelled is returned to a submission's handle when it is
	// cancelled, either directly or via Stop().
	ErrCancelled = errors.New("afkak: cancelled")

	// ErrShuttingDown rejects submissions made after Stop() has begun.
	ErrShuttingDown = errors.New("afkak: producer is shutting down")

	// ErrClosedClient reports a closed client. No Producer method
	// returns it; it is available for Client implementations to use.
	ErrClosedClient = errors.New("afkak: client is closed")
)

// isRetriable reports whether err represents a transient broker
// condition the retry controller should act on: BrokerNotAvailable,
// LeaderNotAvailable and OffsetOutOfRange. The failed entries of a
// FailedPayloadsError are judged by their own Err through this same
// check, so an entry carrying any other error is not retried.
// OffsetOutOfRange is retriable while
// attempts remain and terminal only once they are exhausted; the
// attempt-bound check happens in the caller, not here.
func isRetriable(err error) bool {
	switch {
	case errors.Is(err, ErrBrokerNotAvailable),
		errors.Is(err, ErrLeaderNotAvailable),
		errors.Is(err, ErrOffsetOutOfRange):
		return true
	default:
		return false
	}
}

// FailedPayloadsError is the partial-success reply shape from
// Client.SendProduceRequest: some requests in the batch succeeded
// (carried in Responses) while the rest failed (carried in Failed).
// It implements error so a client can return it in place of a plain
// error from SendProduceRequest's (responses, err) result.
type FailedPayloadsError struct {
	// Responses holds the ProduceResponse for every request in the
	// call that the broker actually acknowledged.
	Responses []*ProduceResponse
	// Failed pairs each request that did not get an ack with the
	// error the broker (or transport) reported for it.
	Failed []FailedPayload
}

// FailedPayload pairs one unacknowledged request with its error.
type FailedPayload struct {
	Request *ProduceRequest
	Err     error
}

func (e *FailedPayloadsError) Error() string {
	return fmt.Sprintf("afkak: %d of %d produce requests failed", len(e.Failed), len(e.Failed)+len(e.Responses))
}

// Unwrap exposes the first failure so errors.Is/As can still match a
// sentinel carried by one of the failed payloads.
func (e *FailedPayloadsError) Unwrap() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e.Failed[0].Err
}
