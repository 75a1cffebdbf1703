package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

// step is one fallible stage of a pipeline
type step[S any] struct {
	name string
	run  func(ctx context.Context, state *S) error
}

// pipeline runs its steps in order and stops at the first error.
// Pipelines run on the serial queue.
type pipeline[S any] []step[S]

func (p pipeline[S]) run(ctx context.Context, state *S) error {
	for _, s := range p {
		if err := s.run(ctx, state); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// job is the state of an enqueue pipeline
type job struct {
	key          payload.Key
	data         []byte
	payloadTypes string

	// completion is registered once the payload is cached
	completion func(error)

	// deferred is called when the upload fails transiently and the payload
	// is kept for a later sweep
	deferred func()

	// cached receives the outcome of the cache write, when set
	cached chan<- error
}

// settlement is the state of a pipeline run when an upload reaches a
// terminal result
type settlement struct {
	flight      *flight
	result      payload.Result
	disposition telemetry.Disposition
}

// enqueuePipeline writes the cache, registers the caller and starts the upload
func (c *Coordinator) enqueuePipeline() pipeline[job] {
	return pipeline[job]{
		{name: "open", run: c.checkOpen},
		{name: "cache", run: c.writeCache},
		{name: "register", run: c.registerCompletion},
		{name: "schedule", run: c.scheduleUpload},
	}
}

// settlePipeline updates the cache from a terminal result, then reports it
func (c *Coordinator) settlePipeline() pipeline[settlement] {
	return pipeline[settlement]{
		{name: "persist", run: c.persistResult},
		{name: "notify", run: c.notifyCompletions},
		{name: "restart", run: c.restartStale},
	}
}

func (c *Coordinator) checkOpen(_ context.Context, _ *job) error {
	if c.closed {
		return payload.ErrClosed
	}
	return nil
}

func (c *Coordinator) writeCache(ctx context.Context, j *job) error {
	return c.cache.Save(ctx, j.key.ID, j.key.Type, j.data, j.payloadTypes)
}

func (c *Coordinator) registerCompletion(_ context.Context, j *job) error {
	if j.completion != nil {
		c.completions[j.key] = append(c.completions[j.key], j.completion)
	}
	if j.deferred != nil {
		c.deferrals[j.key] = append(c.deferrals[j.key], j.deferred)
	}
	if j.cached != nil {
		j.cached <- nil
	}
	return nil
}

func (c *Coordinator) scheduleUpload(_ context.Context, j *job) error {
	if f, ok := c.flights[j.key]; ok {
		// the running upload carries the previous bytes
		f.stale = true
		return nil
	}
	c.launch(payload.PendingUpload{
		ID:           j.key.ID,
		Type:         j.key.Type,
		Data:         j.data,
		PayloadTypes: j.payloadTypes,
	}, c.settings.AutomaticRetryCount)
	return nil
}

// persistResult deletes the entry on success or give-up and records the
// attempt count when a later sweep may still deliver it. Cache errors are
// logged; the entry is then left for the next sweep.
func (c *Coordinator) persistResult(ctx context.Context, s *settlement) error {
	key := s.flight.key
	attempts := s.result.AttemptCount

	switch {
	case s.flight.stale:
		// a newer payload replaced the entry and reset its counter
		s.disposition = telemetry.DispositionDeferred
		return nil
	case interrupted(s.result):
		s.disposition = telemetry.DispositionDeferred
		c.updateAttemptCount(ctx, key, attempts)
		return nil
	case s.result.Succeeded():
		s.disposition = telemetry.DispositionDelivered
	case s.result.Retriable && attempts < c.settings.MaxAttempts:
		s.disposition = telemetry.DispositionDeferred
		c.updateAttemptCount(ctx, key, attempts)
		return nil
	default:
		s.disposition = telemetry.DispositionDropped
	}

	if err := c.cache.Delete(ctx, key.ID, key.Type); err != nil {
		slog.Error("Failed to delete cached payload", "key", key.String(), "error", err)
	}
	return nil
}

func (c *Coordinator) updateAttemptCount(ctx context.Context, key payload.Key, attempts int) {
	if err := c.cache.UpdateAttemptCount(ctx, key.ID, key.Type, attempts); err != nil {
		slog.Error("Failed to persist attempt count",
			"key", key.String(),
			"attempts", attempts,
			"error", err)
	}
}

// notifyCompletions reports terminal results to every caller waiting on the key.
// Deferred entries keep their callers registered for the sweep that resolves
// them; callers that asked to hear about deferral are told once.
func (c *Coordinator) notifyCompletions(_ context.Context, s *settlement) error {
	key := s.flight.key
	if s.disposition == telemetry.DispositionDeferred {
		if !s.flight.stale && !interrupted(s.result) {
			for _, deferred := range c.deferrals[key] {
				deferred()
			}
			delete(c.deferrals, key)
		}
		return nil
	}
	waiting := c.completions[key]
	delete(c.completions, key)
	delete(c.deferrals, key)

	err := s.result.AsError()
	for _, completion := range waiting {
		completion(err)
	}
	return nil
}

// restartStale uploads the newer payload cached while the previous one was in flight
func (c *Coordinator) restartStale(ctx context.Context, s *settlement) error {
	if !s.flight.stale || c.closed {
		return nil
	}
	key := s.flight.key
	upload, err := c.cache.Fetch(ctx, key.ID, key.Type)
	if err != nil {
		return err
	}
	if upload == nil {
		return nil
	}
	c.launch(*upload, c.settings.AutomaticRetryCount)
	return nil
}
