// Package coordinator provides the public entry point of the uploader. It
// caches incoming payloads, starts their uploads and replays the cache when
// asked to or when connectivity comes back.
//
// All cache mutations and all bookkeeping of running uploads happen on the
// gate's serial queue. Network calls run on their own goroutines.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/telemetry-uploader/internal/backoff"
	"github.com/stacklok/telemetry-uploader/internal/cache"
	"github.com/stacklok/telemetry-uploader/internal/clock"
	"github.com/stacklok/telemetry-uploader/internal/gate"
	"github.com/stacklok/telemetry-uploader/internal/httpclient"
	"github.com/stacklok/telemetry-uploader/internal/otel"
	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/reachability"
	"github.com/stacklok/telemetry-uploader/internal/status"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
	"github.com/stacklok/telemetry-uploader/internal/upload"
)

const (
	// DefaultAutomaticRetryCount is the number of quick retries of an operation
	DefaultAutomaticRetryCount = 3

	// DefaultMaxAttempts is the number of attempts a payload gets across runs
	DefaultMaxAttempts = 20

	// DefaultCacheMaxAge is the retention window of cached payloads
	DefaultCacheMaxAge = 7 * 24 * time.Hour
)

// Settings holds the delivery parameters of a Coordinator
type Settings struct {
	// Endpoints maps each payload type to its collector URL
	Endpoints map[payload.Type]string

	Metadata httpclient.Metadata

	// AutomaticRetryCount is the number of quick retries an operation makes
	AutomaticRetryCount int

	// MaxAttempts is the number of attempts after which a payload that keeps
	// failing with retriable errors is dropped
	MaxAttempts int

	Backoff backoff.Policy

	// CacheMaxAge is the retention window applied before every sweep.
	// Zero disables age based purging.
	CacheMaxAge time.Duration
}

// DefaultSettings returns settings with the default retry budget, backoff
// and retention. Endpoints and metadata still need to be filled in.
func DefaultSettings() Settings {
	return Settings{
		Endpoints:           map[payload.Type]string{},
		AutomaticRetryCount: DefaultAutomaticRetryCount,
		MaxAttempts:         DefaultMaxAttempts,
		Backoff:             backoff.DefaultPolicy(),
		CacheMaxAge:         DefaultCacheMaxAge,
	}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock used for retry timers, timestamps and probing
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithMetrics records upload and sweep metrics. Nil metrics are no-ops.
func WithMetrics(uploads *telemetry.UploadMetrics, sweeps *telemetry.SweepMetrics) Option {
	return func(co *Coordinator) {
		co.uploadMetrics = uploads
		co.sweepMetrics = sweeps
	}
}

// WithTracer creates spans around uploads and sweeps
func WithTracer(tracer trace.Tracer) Option {
	return func(co *Coordinator) {
		co.tracer = tracer
	}
}

// WithStatusPersistence stores a summary of every sweep
func WithStatusPersistence(p status.StatusPersistence) Option {
	return func(co *Coordinator) {
		co.statusPersistence = p
	}
}

// WithReachability polls prober every interval and replays the cache each
// time connectivity is regained
func WithReachability(prober reachability.Prober, interval time.Duration) Option {
	return func(co *Coordinator) {
		co.prober = prober
		co.probeInterval = interval
	}
}

// Coordinator owns the cache and the gate and schedules every upload
type Coordinator struct {
	cache    cache.Cache
	gate     *gate.Gate
	client   httpclient.Client
	settings Settings
	clock    clock.Clock

	uploadMetrics     *telemetry.UploadMetrics
	sweepMetrics      *telemetry.SweepMetrics
	tracer            trace.Tracer
	statusPersistence status.StatusPersistence

	prober        reachability.Prober
	probeInterval time.Duration
	monitor       *reachability.Monitor

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	// owned by the serial queue
	flights     map[payload.Key]*flight
	parked      []*parkedFlight
	parkedKeys  map[payload.Key]*parkedFlight
	completions map[payload.Key][]func(error)
	deferrals   map[payload.Key][]func()
	closed      bool

	mu           sync.Mutex
	sweeping     bool
	shuttingDown bool
	sweeps       sync.WaitGroup
	background   sync.WaitGroup
	closeOnce    sync.Once
}

// New creates a coordinator. It takes ownership of store and g, which are
// closed by Close. If a reachability prober is configured, polling starts
// immediately.
func New(store cache.Cache, g *gate.Gate, client httpclient.Client, settings Settings, opts ...Option) *Coordinator {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = DefaultMaxAttempts
	}
	if settings.AutomaticRetryCount < 0 {
		settings.AutomaticRetryCount = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cache:       store,
		gate:        g,
		client:      client,
		settings:    settings,
		clock:       clock.Real(),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		flights:     map[payload.Key]*flight{},
		parkedKeys:  map[payload.Key]*parkedFlight{},
		completions: map[payload.Key][]func(error){},
		deferrals:   map[payload.Key][]func(){},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.prober != nil {
		c.monitor = reachability.NewMonitor(c.sweepInBackground, reachability.WithClock(c.clock))
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			c.monitor.Run(c.ctx, c.prober, c.probeInterval)
		}()
	}

	return c
}

// Close cancels running uploads, leaving their payloads cached, fails every
// pending completion with payload.ErrClosed and releases the cache.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.shuttingDown = true
		c.mu.Unlock()

		c.cancel()
		c.background.Wait()

		var running []*upload.Operation
		_ = c.gate.Do(context.Background(), func() {
			c.closed = true
			// parked payloads are cached already
			c.parked = nil
			clear(c.parkedKeys)
			for _, f := range c.flights {
				running = append(running, f.op)
			}
		})
		for _, op := range running {
			op.Cancel()
		}

		_ = c.gate.Do(context.Background(), func() {
			for key, waiting := range c.completions {
				for _, completion := range waiting {
					completion(payload.ErrClosed)
				}
				delete(c.completions, key)
			}
			clear(c.deferrals)
		})

		c.sweeps.Wait()
		c.gate.Close()
		close(c.stopped)

		err = c.cache.Close()
		slog.Info("Upload coordinator closed", "cancelled", len(running))
	})
	return err
}

// Pending returns the cached payloads in insertion order, read on the serial
// queue so that the result reflects every accepted upload
func (c *Coordinator) Pending(ctx context.Context) ([]payload.PendingUpload, error) {
	var (
		uploads  []payload.PendingUpload
		fetchErr error
	)
	if err := c.gate.Do(ctx, func() {
		if c.closed {
			fetchErr = payload.ErrClosed
			return
		}
		uploads, fetchErr = c.cache.FetchAll(ctx)
	}); err != nil {
		return nil, err
	}
	return uploads, fetchErr
}

// Connected reports the last observed connectivity. It is always true when
// no reachability prober is configured.
func (c *Coordinator) Connected() bool {
	if c.monitor == nil {
		return true
	}
	return c.monitor.Connected()
}

// SweepStatus returns the persisted summary of the last sweep, or nil when
// no status persistence is configured
func (c *Coordinator) SweepStatus(ctx context.Context) (*status.SweepStatus, error) {
	if c.statusPersistence == nil {
		return nil, nil
	}
	return c.statusPersistence.LoadStatus(ctx)
}

// flight is an upload operation registered under its key
type flight struct {
	key     payload.Key
	op      *upload.Operation
	span    trace.Span
	ctx     context.Context
	started time.Time

	// stale is set when the payload was replaced while uploading
	stale bool

	onSettled func(telemetry.Disposition)
	settle    sync.Once
}

// parkedFlight is an upload waiting for a free gate slot
type parkedFlight struct {
	entry   payload.PendingUpload
	retries int
}

// launch starts uploading entry as soon as a gate slot is free. Uploads
// waiting for a slot start in arrival order; a newer payload for a waiting
// key replaces the older one. Runs on the serial queue.
func (c *Coordinator) launch(entry payload.PendingUpload, retries int) {
	key := entry.Key()
	if p, ok := c.parkedKeys[key]; ok {
		p.entry = entry
		p.retries = retries
		return
	}
	if len(c.parked) == 0 && c.gate.TryAcquire() {
		c.startFlight(entry, retries, nil)
		return
	}

	p := &parkedFlight{entry: entry, retries: retries}
	c.parked = append(c.parked, p)
	c.parkedKeys[key] = p
	slog.Debug("Upload waiting for a free slot", "key", key.String(), "waiting", len(c.parked))
}

// startParked starts waiting uploads while slots are free. Runs on the serial queue.
func (c *Coordinator) startParked() {
	for len(c.parked) > 0 && !c.closed {
		if !c.gate.TryAcquire() {
			return
		}
		p := c.parked[0]
		c.parked[0] = nil
		c.parked = c.parked[1:]
		delete(c.parkedKeys, p.entry.Key())
		c.startFlight(p.entry, p.retries, nil)
	}
}

// startFlight starts uploading entry. The caller holds a gate slot, which is
// released when the flight settles. Runs on the serial queue.
func (c *Coordinator) startFlight(entry payload.PendingUpload, retries int, onSettled func(telemetry.Disposition)) {
	key := entry.Key()
	attrs := append(otel.KeyAttributes(key),
		otel.AttrAttemptCount.Int(entry.AttemptCount),
		otel.AttrPayloadSize.Int(len(entry.Data)),
	)
	// not derived from c.ctx: settling after Close still writes the cache
	ctx, span := otel.StartSpan(context.Background(), c.tracer, "coordinator.Upload", trace.WithAttributes(attrs...))

	f := &flight{
		key:       key,
		span:      span,
		ctx:       ctx,
		started:   c.clock.Now(),
		onSettled: onSettled,
	}

	request := httpclient.UploadRequest{
		Endpoint:     c.settings.Endpoints[key.Type],
		Metadata:     c.settings.Metadata,
		Body:         entry.Data,
		PayloadTypes: entry.PayloadTypes,
	}
	if key.Type == payload.TypeAttachment {
		request.AttachmentID = key.ID
	}

	f.op = upload.New(upload.Config{
		Key:          key,
		Request:      request,
		Client:       c.client,
		Clock:        c.clock,
		Backoff:      c.settings.Backoff,
		Scheduler:    c.gate,
		RetryCount:   retries,
		AttemptCount: entry.AttemptCount,
		OnAttempt:    func(a upload.Attempt) { c.recordAttempt(ctx, a) },
		Completion:   func(result payload.Result) { c.onTerminal(f, result) },
	})

	c.flights[key] = f
	c.uploadMetrics.AddInFlight(ctx, 1)
	f.op.Start()
}

// onTerminal runs on the goroutine that finished the operation
func (c *Coordinator) onTerminal(f *flight, result payload.Result) {
	if c.gate.Submit(func() { c.settleFlight(f, result) }) {
		return
	}
	// the queue is gone; the entry stays cached for the next run
	c.finishFlight(f, result, telemetry.DispositionDeferred)
}

// settleFlight applies a terminal result. Runs on the serial queue.
func (c *Coordinator) settleFlight(f *flight, result payload.Result) {
	if c.flights[f.key] == f {
		delete(c.flights, f.key)
	}

	s := &settlement{flight: f, result: result}
	if err := c.settlePipeline().run(f.ctx, s); err != nil {
		slog.Error("Failed to settle upload", "key", f.key.String(), "error", err)
	}
	c.finishFlight(f, result, s.disposition)
	c.startParked()

	if !c.closed && !interrupted(result) {
		c.gate.Submit(c.purgeStale)
	}
}

func (c *Coordinator) finishFlight(f *flight, result payload.Result, disposition telemetry.Disposition) {
	f.settle.Do(func() {
		c.gate.Release()
		c.uploadMetrics.AddInFlight(f.ctx, -1)
		c.uploadMetrics.RecordOutcome(f.ctx, f.key.Type.String(), disposition)

		f.span.SetAttributes(
			otel.AttrDisposition.String(string(disposition)),
			otel.AttrAttemptCount.Int(result.AttemptCount),
			otel.AttrRetriable.Bool(result.Retriable),
		)
		otel.RecordError(f.span, result.Err)
		f.span.End()

		slog.Debug("Upload settled",
			"key", f.key.String(),
			"result", result.String(),
			"disposition", string(disposition),
			"attempts", result.AttemptCount,
			"duration", c.clock.Now().Sub(f.started))

		if f.onSettled != nil {
			f.onSettled(disposition)
		}
	})
}

func (c *Coordinator) recordAttempt(ctx context.Context, a upload.Attempt) {
	result := "permanent_failure"
	switch {
	case a.Classification.Success:
		result = "success"
	case a.Classification.Retriable:
		result = "retriable_failure"
	}
	c.uploadMetrics.RecordAttempt(ctx, a.Key.Type.String(), result, a.Duration)

	if !a.Classification.Success {
		slog.Debug("Upload attempt failed",
			"key", a.Key.String(),
			"attempt", a.Number,
			"retriable", a.Classification.Retriable,
			"retry_in", a.RetryIn,
			"error", a.Err)
	}
}

// purgeStale drops expired entries after an upload settles. Runs on the serial queue.
func (c *Coordinator) purgeStale() {
	if _, err := c.cache.ClearStale(context.Background(), c.settings.CacheMaxAge); err != nil {
		slog.Warn("Failed to clear stale payloads", "error", err)
	}
}

// interrupted reports whether an operation was cancelled rather than answered
func interrupted(result payload.Result) bool {
	return !result.Succeeded() &&
		(errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, payload.ErrClosed))
}
