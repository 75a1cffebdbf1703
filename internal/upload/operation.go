// Package upload implements the delivery of a single cached payload, including
// the quick retries made while the process is alive.
package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/backoff"
	"github.com/stacklok/telemetry-uploader/internal/clock"
	"github.com/stacklok/telemetry-uploader/internal/gate"
	"github.com/stacklok/telemetry-uploader/internal/httpclient"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// State is the lifecycle stage of an Operation
type State int

const (
	// StatePending means Start has not been called yet
	StatePending State = iota

	// StateRunning means a request or a retry timer is outstanding
	StateRunning

	// StateFinished means the result has been reported
	StateFinished
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Scheduler runs retries. The coordinator passes its serial queue.
type Scheduler interface {
	Submit(task gate.Task) bool
}

// Attempt describes one finished network attempt
type Attempt struct {
	Key            payload.Key
	Number         int
	Classification httpclient.Classification
	Duration       time.Duration
	Err            error

	// RetryIn is the backoff before the next attempt, zero when none is scheduled
	RetryIn time.Duration
}

// Config holds the inputs of an Operation
type Config struct {
	Key     payload.Key
	Request httpclient.UploadRequest

	Client    httpclient.Client
	Clock     clock.Clock
	Backoff   backoff.Policy
	Scheduler Scheduler

	// RetryCount is the number of quick retries allowed after the first attempt
	RetryCount int

	// AttemptCount is the number of attempts made by earlier runs
	AttemptCount int

	// OnAttempt is called after every attempt, before any retry is scheduled
	OnAttempt func(Attempt)

	// Completion receives the terminal result exactly once
	Completion func(payload.Result)
}

// Operation delivers one payload. It makes one attempt when started and up
// to RetryCount more for retriable failures, waiting between attempts on a
// timer rather than blocking a goroutine.
type Operation struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	attemptCount int
	retriesLeft  int
	retryNumber  int
	timer        *clock.Timer
	result       payload.Result
	done         chan struct{}
}

// New creates a pending operation
func New(cfg Config) *Operation {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Operation{
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		attemptCount: cfg.AttemptCount,
		retriesLeft:  cfg.RetryCount,
		done:         make(chan struct{}),
	}
}

// Key returns the identity of the payload being delivered
func (o *Operation) Key() payload.Key {
	return o.cfg.Key
}

// State returns the current lifecycle stage
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done is closed once the result is available
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Result returns the terminal result. Only valid after Done is closed.
func (o *Operation) Result() payload.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Start makes the first attempt. The request runs on its own goroutine and
// Start returns immediately. Calling Start more than once has no effect.
func (o *Operation) Start() {
	o.mu.Lock()
	if o.state != StatePending {
		o.mu.Unlock()
		return
	}
	o.state = StateRunning
	o.mu.Unlock()

	o.send()
}

// Cancel aborts the in-flight request or the pending retry and reports a
// retriable failure. It has no effect on a finished operation.
func (o *Operation) Cancel() {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	attempts := o.attemptCount
	o.mu.Unlock()

	o.cancel()
	o.finish(payload.Failure(true, attempts, context.Canceled))
}

func (o *Operation) send() {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	o.attemptCount++
	attempt := o.attemptCount
	o.mu.Unlock()

	go o.attempt(attempt)
}

func (o *Operation) attempt(number int) {
	start := o.cfg.Clock.Now()

	var resp *httpclient.Response
	req, err := o.cfg.Request.Build(o.ctx, number)
	if err == nil {
		resp, err = o.cfg.Client.Do(o.ctx, req)
	}
	if o.ctx.Err() != nil {
		// Cancel already reported the result
		return
	}

	verdict := httpclient.Classify(resp, err)
	if err == nil {
		err = resp.Err()
	}

	info := Attempt{
		Key:            o.cfg.Key,
		Number:         number,
		Classification: verdict,
		Duration:       o.cfg.Clock.Now().Sub(start),
		Err:            err,
	}

	if verdict.Success {
		o.notify(info)
		o.finish(payload.Success(number))
		return
	}

	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	if !verdict.Retriable || o.retriesLeft <= 0 {
		o.mu.Unlock()
		o.notify(info)
		o.finish(payload.Failure(verdict.Retriable, number, err))
		return
	}

	o.retriesLeft--
	o.retryNumber++
	delay := o.cfg.Backoff.Delay(o.retryNumber, verdict.RetryAfter)
	info.RetryIn = delay
	o.mu.Unlock()

	o.notify(info)
	slog.Debug("Scheduling upload retry",
		"key", o.cfg.Key.String(),
		"attempt", number,
		"delay", delay,
		"error", err)

	timer := o.cfg.Clock.AfterFunc(delay, o.retry)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		timer.Stop()
		return
	}
	o.timer = timer
}

func (o *Operation) retry() {
	if o.cfg.Scheduler.Submit(o.send) {
		return
	}
	o.mu.Lock()
	attempts := o.attemptCount
	o.mu.Unlock()
	o.finish(payload.Failure(true, attempts, payload.ErrClosed))
}

func (o *Operation) notify(info Attempt) {
	if o.cfg.OnAttempt != nil {
		o.cfg.OnAttempt(info)
	}
}

func (o *Operation) finish(result payload.Result) {
	o.mu.Lock()
	if o.state == StateFinished {
		o.mu.Unlock()
		return
	}
	o.state = StateFinished
	o.result = result
	o.mu.Unlock()

	o.cancel()
	close(o.done)
	if o.cfg.Completion != nil {
		o.cfg.Completion(result)
	}
}
