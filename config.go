package afkak

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rcrowley/go-metrics"
)

// config holds every recognized option, validated once at NewProducer
// time so the rest of the package can trust its values without
// re-checking them.
type config struct {
	partitioner Partitioner

	reqAcks    RequiredAcks
	ackTimeout time.Duration

	codec Codec

	batchSend    bool
	batchEveryN  int
	batchEveryB  int
	batchEveryT  time.Duration

	maxReqAttempts int
	retryInterval  time.Duration

	maxInFlightRequests int

	clock   clock.Clock
	logger  Logger
	metrics metrics.Registry
}

func defaultConfig() *config {
	return &config{
		partitioner:         NewRoundRobinPartitioner(),
		reqAcks:             AckLeader,
		ackTimeout:          1000 * time.Millisecond,
		codec:               CodecNone,
		batchSend:           false,
		batchEveryN:         10,
		batchEveryB:         32768,
		batchEveryT:         30 * time.Second,
		maxReqAttempts:      10,
		retryInterval:       100 * time.Millisecond,
		maxInFlightRequests: 0,
		clock:               clock.New(),
		logger:              logger,
		metrics:             metrics.DefaultRegistry,
	}
}

// Option configures a Producer at construction time.
type Option func(*config) error

// WithPartitioner overrides the default round-robin partitioner.
func WithPartitioner(p Partitioner) Option {
	return func(c *config) error {
		if p == nil {
			return fmt.Errorf("afkak: partitioner must not be nil")
		}
		c.partitioner = p
		return nil
	}
}

// WithRequiredAcks sets the broker ack level.
func WithRequiredAcks(acks RequiredAcks) Option {
	return func(c *config) error {
		c.reqAcks = acks
		return nil
	}
}

// WithAckTimeout sets the broker-side ack wait budget.
func WithAckTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("afkak: ack timeout must not be negative")
		}
		c.ackTimeout = d
		return nil
	}
}

// WithCodec sets the compression codec applied to message sets.
func WithCodec(codec Codec) Option {
	return func(c *config) error {
		if !codec.valid() {
			return ErrUnsupportedCodec
		}
		c.codec = codec
		return nil
	}
}

// WithBatching enables batch mode and sets its count/byte/time
// thresholds. A zero threshold disables that particular trigger
// (e.g. WithBatching(0, 0, time.Second) dispatches purely on a timer).
func WithBatching(everyN, everyB int, everyT time.Duration) Option {
	return func(c *config) error {
		if everyN < 0 {
			return fmt.Errorf("afkak: batch_every_n must not be negative")
		}
		if everyB < 0 {
			return fmt.Errorf("afkak: batch_every_b must not be negative")
		}
		if everyT < 0 {
			return fmt.Errorf("afkak: batch_every_t must not be negative")
		}
		c.batchSend = true
		c.batchEveryN = everyN
		c.batchEveryB = everyB
		c.batchEveryT = everyT
		return nil
	}
}

// WithMaxRequestAttempts bounds the total number of attempts per
// payload, including the first.
func WithMaxRequestAttempts(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("afkak: max_req_attempts must be at least 1")
		}
		c.maxReqAttempts = n
		return nil
	}
}

// WithRetryInterval sets the base delay between retry attempts; the
// controller grows it per the policy documented on dispatch.go's
// retryBackoff.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("afkak: retry_interval must not be negative")
		}
		c.retryInterval = d
		return nil
	}
}

// WithMaxInFlightRequests bounds how many SendProduceRequest calls the
// dispatcher issues concurrently when folding multiple triggered
// partitions together. Zero (the default) means unbounded.
func WithMaxInFlightRequests(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("afkak: max in-flight requests must not be negative")
		}
		c.maxInFlightRequests = n
		return nil
	}
}

// WithClock injects a clock.Clock, the seam tests use to advance
// batch-timer and retry back-off waits deterministically without real
// sleeps.
func WithClock(c2 clock.Clock) Option {
	return func(c *config) error {
		if c2 == nil {
			return fmt.Errorf("afkak: clock must not be nil")
		}
		c.clock = c2
		return nil
	}
}

// WithLogger overrides the package default logger for one Producer.
func WithLogger(l Logger) Option {
	return func(c *config) error {
		if l == nil {
			return fmt.Errorf("afkak: logger must not be nil")
		}
		c.logger = l
		return nil
	}
}

// WithMetricsRegistry overrides the go-metrics registry instrumentation
// is recorded against.
func WithMetricsRegistry(r metrics.Registry) Option {
	return func(c *config) error {
		if r == nil {
			return fmt.Errorf("afkak: metrics registry must not be nil")
		}
		c.metrics = r
		return nil
	}
}

func (c *config) modeString() string {
	if !c.batchSend {
		return "Unbatched"
	}
	return fmt.Sprintf("%dcnt/%dbytes/%gsecs", c.batchEveryN, c.batchEveryB, c.batchEveryT.Seconds())
}
