package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// Completion receives the terminal outcome of an upload: nil once the
// collector accepted it, or an error wrapping payload.ErrNetworkPermanent,
// payload.ErrNetworkTransient, payload.ErrCacheIO or payload.ErrClosed.
// It is not called when the payload is cached, only when the upload is
// resolved, which for a deferred payload may be a later sweep.
// Completions run on the serial queue and must not block.
type Completion func(error)

// UploadSpans caches and uploads a session's spans payload
func (c *Coordinator) UploadSpans(id string, data []byte, completion Completion) {
	c.submit(payload.Key{ID: id, Type: payload.TypeSpans}, data, "", completion)
}

// UploadLog caches and uploads a batch of log records
func (c *Coordinator) UploadLog(id string, data []byte, completion Completion) {
	c.submit(payload.Key{ID: id, Type: payload.TypeLog}, data, "", completion)
}

// UploadAttachment caches and uploads a log attachment
func (c *Coordinator) UploadAttachment(id string, data []byte, completion Completion) {
	c.submit(payload.Key{ID: id, Type: payload.TypeAttachment}, data, "", completion)
}

// EnqueueOption configures a single Enqueue call
type EnqueueOption func(*job)

// WithPayloadTypes forwards a comma separated list of the signal types
// contained in the payload
func WithPayloadTypes(types string) EnqueueOption {
	return func(j *job) {
		j.payloadTypes = types
	}
}

// Enqueue caches a payload and schedules its upload. It returns once the
// payload is durably cached; the returned Delivery resolves when the upload
// reaches a terminal outcome and reports when it is deferred to a sweep.
func (c *Coordinator) Enqueue(
	ctx context.Context, id string, typ payload.Type, data []byte, opts ...EnqueueOption,
) (*Delivery, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown payload type %s", payload.ErrInvalidMetadata, typ)
	}
	key := payload.Key{ID: id, Type: typ}
	if err := validate(key, data); err != nil {
		return nil, err
	}

	delivery := newDelivery(key)
	cached := make(chan error, 1)
	j := &job{
		key:        key,
		data:       data,
		completion: delivery.resolve,
		deferred:   delivery.markDeferred,
		cached:     cached,
	}
	for _, opt := range opts {
		opt(j)
	}

	if !c.gate.Submit(func() { c.accept(j) }) {
		return nil, payload.ErrClosed
	}

	select {
	case err := <-cached:
		if err != nil {
			return nil, err
		}
		return delivery, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		select {
		case err := <-cached:
			if err != nil {
				return nil, err
			}
			return delivery, nil
		default:
			return nil, payload.ErrClosed
		}
	}
}

func (c *Coordinator) submit(key payload.Key, data []byte, payloadTypes string, completion Completion) {
	if err := validate(key, data); err != nil {
		if completion != nil {
			completion(err)
		}
		return
	}

	j := &job{key: key, data: data, payloadTypes: payloadTypes, completion: completion}
	if !c.gate.Submit(func() { c.accept(j) }) && completion != nil {
		completion(payload.ErrClosed)
	}
}

// accept runs the enqueue pipeline on the serial queue
func (c *Coordinator) accept(j *job) {
	err := c.enqueuePipeline().run(context.Background(), j)
	if err == nil {
		return
	}

	slog.Error("Failed to enqueue payload", "key", j.key.String(), "error", err)
	if j.cached != nil {
		j.cached <- err
	}
	if j.completion != nil {
		j.completion(err)
	}
}

func validate(key payload.Key, data []byte) error {
	if key.ID == "" {
		return payload.ErrInvalidMetadata
	}
	if len(data) == 0 {
		return payload.ErrInvalidData
	}
	return nil
}

// Delivery tracks the upload of an enqueued payload
type Delivery struct {
	key  payload.Key
	done chan struct{}
	once sync.Once
	err  error

	deferred  chan struct{}
	deferOnce sync.Once
}

func newDelivery(key payload.Key) *Delivery {
	return &Delivery{key: key, done: make(chan struct{}), deferred: make(chan struct{})}
}

// ResolvedDelivery returns a delivery that already finished with err.
// Fakes of the coordinator use it.
func ResolvedDelivery(key payload.Key, err error) *Delivery {
	d := newDelivery(key)
	d.resolve(err)
	return d
}

// DeferredDelivery returns a delivery whose upload was already deferred
func DeferredDelivery(key payload.Key) *Delivery {
	d := newDelivery(key)
	d.markDeferred()
	return d
}

// Key returns the identity of the payload
func (d *Delivery) Key() payload.Key {
	return d.key
}

// Done is closed when the upload reaches a terminal outcome
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns the outcome once Done is closed
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Deferred is closed when the upload failed with a retriable error and the
// payload stays cached for a later sweep. Done may still close afterwards.
func (d *Delivery) Deferred() <-chan struct{} {
	return d.deferred
}

// Wait blocks until the upload is resolved or ctx is done
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle blocks until the upload is resolved, deferred to a later sweep or
// ctx is done. It reports whether the payload was deferred.
func (d *Delivery) Settle(ctx context.Context) (bool, error) {
	select {
	case <-d.done:
		return false, d.err
	default:
	}
	select {
	case <-d.done:
		return false, d.err
	case <-d.deferred:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *Delivery) markDeferred() {
	d.deferOnce.Do(func() {
		close(d.deferred)
	})
}

func (d *Delivery) resolve(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}
