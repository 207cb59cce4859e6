package afkak

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Producer is the public handle on the coordination core: submission
// intake, partition resolution, batching, dispatch/retry, and response
// demultiplexing all happen behind engine.run, the single goroutine a
// Producer owns from NewProducer until Close.
type Producer struct {
	client Client
	cfg    *config

	mailbox   chan interface{}
	loopDone  chan struct{}
	stopBegun chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	bg safeWaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewProducer wires a Producer against client, applying opts over
// defaultConfig and rejecting the whole construction if any option
// reports an invalid value. The returned Producer's loop goroutine is
// already running.
func NewProducer(client Client, opts ...Option) (*Producer, error) {
	if client == nil {
		return nil, fmt.Errorf("afkak: client must not be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		client:    client,
		cfg:       cfg,
		mailbox:   make(chan interface{}, 16),
		loopDone:  make(chan struct{}),
		stopBegun: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	e := newEngine(p)
	runTimer := cfg.batchSend && cfg.batchEveryT > 0
	e.timerLive = runTimer
	go e.run()

	if runTimer {
		p.bg.Add(1)
		go p.timerLoop()
	}

	return p, nil
}

// send delivers cmd to the loop goroutine's mailbox, falling back to
// a no-op once the loop has already exited so background goroutines
// racing a late result against Stop never block forever.
func (p *Producer) send(cmd interface{}) {
	select {
	case p.mailbox <- cmd:
	case <-p.loopDone:
	}
}

// SendMessages is the producer domain's one entrypoint for callers:
// it validates msgs synchronously (§3's "empty message list is
// rejected immediately, before a Handle is even created") and,
// if valid, hands a new submission to the loop goroutine and returns
// a Handle the caller can Wait on or Cancel.
func (p *Producer) SendMessages(topic string, msgs ...Message) (*Handle, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyMessages
	}

	cp := make([]Message, len(msgs))
	copy(cp, msgs)

	s := &submission{topic: topic, messages: cp}
	s.handle = newHandle(func() { p.send(&cmdCancel{sub: s}) })

	select {
	case <-p.loopDone:
		// The loop has exited, so nothing would ever resolve s.
		s.handle.fulfill(Result{Err: ErrShuttingDown})
		return s.handle, nil
	default:
	}
	p.send(&cmdSubmit{sub: s})
	return s.handle, nil
}

// Stop begins graceful shutdown per §4.6's state machine: queued and
// sleeping-on-retry submissions are failed with ErrCancelled at once,
// in-flight submissions are failed with ErrCancelled when their reply
// arrives, and Stop itself blocks
// until every submission has resolved and all of the producer's
// background goroutines have exited. Calling Stop more than once is
// safe; later calls wait on the same shutdown.
func (p *Producer) Stop(ctx context.Context) error {
	p.closeOnce.Do(func() {
		stopHandle := newHandle(nil)
		p.send(&cmdStop{handle: stopHandle})
		if _, err := stopHandle.Wait(ctx); err != nil {
			p.closeErr = err
			return
		}
		p.bg.Wait()
		<-p.loopDone
	})
	return p.closeErr
}

// beginStop signals timerLoop to exit immediately once shutdown has
// started, well before outstanding submissions finish draining: no
// batch opened after this point will ever be dispatched, so there is
// nothing left for the timer to usefully watch.
func (p *Producer) beginStop() {
	close(p.stopBegun)
}

// finishStop is invoked from the loop goroutine once every submission
// has drained, cancelling the shared context so any last background
// goroutine (a metadata probe or retry timer that raced the stop)
// unwinds promptly.
func (p *Producer) finishStop() {
	p.cancel()
}

// String gives a one-line diagnostic summary: partitioner, batch
// mode, required acks, and ack timeout in force.
func (p *Producer) String() string {
	return fmt.Sprintf("<Producer %s:%s:%d:%dms>",
		p.cfg.partitioner.Name(), p.cfg.modeString(), p.cfg.reqAcks, p.cfg.ackTimeout.Milliseconds())
}

// timerLoop drives batch mode's time trigger: it ticks every
// batchEveryT and reports a cmdTick so the loop goroutine can decide
// whether any open batch has actually aged out. It recovers from a
// panicking tick handler and restarts rather than silently going
// quiet, and reports cmdTimerStopped on the way out so the loop
// goroutine's shutdown gate doesn't wait on a timer that has already
// exited.
func (p *Producer) timerLoop() {
	defer p.bg.Done()
	defer p.send(&cmdTimerStopped{})

	ticker := p.cfg.clock.Ticker(p.cfg.batchEveryT)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tickOnce()
		case <-p.stopBegun:
			return
		case <-p.loopDone:
			return
		}
	}
}

func (p *Producer) tickOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.cfg.logger.Printf("_send_timer_failed: %v: %s", r, debug.Stack())
		}
	}()
	p.send(&cmdTick{})
}

// Close is the io.Closer counterpart to Stop: it calls Stop with a
// background context, so it waits for the same full drain, and
// returns Stop's error wrapped in a *multierror.Error, or nil when
// Stop succeeded. Errors of individual submissions are not collected;
// they are reported through their own Handles.
func (p *Producer) Close() error {
	var result *multierror.Error
	if err := p.Stop(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
