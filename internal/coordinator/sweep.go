package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/otel"
	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/status"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

// SweepReport summarizes one pass over the cache
type SweepReport struct {
	// Purged is the number of stale entries removed before replaying
	Purged int

	// Scheduled is the number of entries replayed
	Scheduled int

	// Skipped is the number of entries already uploading or of unknown type
	Skipped int

	Delivered int
	Dropped   int
	Deferred  int

	Duration time.Duration
}

func (r *SweepReport) count(disposition telemetry.Disposition) {
	switch disposition {
	case telemetry.DispositionDelivered:
		r.Delivered++
	case telemetry.DispositionDropped:
		r.Dropped++
	default:
		r.Deferred++
	}
}

// RetryCachedData replays every cached payload, at most gate capacity at a
// time, and waits for all of them to settle. Payloads that fail with a
// retriable error and still have attempts left stay cached for the next
// sweep; scheduling that sweep is up to the caller.
//
// Only one sweep runs at a time: a call made while another sweep is running
// returns a nil report and a nil error without doing anything. Must not be
// called from a Completion.
func (c *Coordinator) RetryCachedData(ctx context.Context) (*SweepReport, error) {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return nil, payload.ErrClosed
	}
	if c.sweeping {
		c.mu.Unlock()
		slog.Debug("Cache sweep already running")
		return nil, nil
	}
	c.sweeping = true
	c.sweeps.Add(1)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sweeping = false
		c.mu.Unlock()
		c.sweeps.Done()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.RetryCachedData")
	defer span.End()

	start := c.clock.Now()
	c.saveSweepStatus(ctx, start, nil, nil)

	report := &SweepReport{}
	uploads, err := c.loadCache(ctx, report)
	if err == nil {
		err = c.replayAll(ctx, uploads, report)
	}
	report.Duration = c.clock.Now().Sub(start)

	c.sweepMetrics.RecordSweep(ctx, report.Duration, err == nil, report.Purged, report.Scheduled, report.Skipped)
	c.saveSweepStatus(ctx, start, report, err)

	span.SetAttributes(
		otel.AttrSweepPurged.Int(report.Purged),
		otel.AttrSweepScheduled.Int(report.Scheduled),
		otel.AttrSweepSkipped.Int(report.Skipped),
	)
	otel.RecordError(span, err)

	if err != nil {
		slog.Warn("Cache sweep failed", "error", err, "scheduled", report.Scheduled)
		return report, err
	}

	slog.Info("Cache sweep finished",
		"purged", report.Purged,
		"scheduled", report.Scheduled,
		"skipped", report.Skipped,
		"delivered", report.Delivered,
		"dropped", report.Dropped,
		"deferred", report.Deferred,
		"duration", report.Duration)
	return report, nil
}

// loadCache purges stale entries and reads the rest on the serial queue
func (c *Coordinator) loadCache(ctx context.Context, report *SweepReport) ([]payload.PendingUpload, error) {
	var (
		uploads  []payload.PendingUpload
		fetchErr error
	)
	err := c.gate.Do(context.Background(), func() {
		purged, err := c.cache.ClearStale(context.Background(), c.settings.CacheMaxAge)
		if err != nil {
			slog.Warn("Failed to clear stale payloads", "error", err)
		}
		report.Purged = purged
		uploads, fetchErr = c.cache.FetchAll(context.Background())
	})
	if err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to read cached payloads: %w", fetchErr)
	}

	c.uploadMetrics.RecordCachedPayloads(ctx, int64(len(uploads)))
	return uploads, nil
}

// replayAll starts one operation per entry, acquiring a gate slot for each
// that the flight releases when it settles, then waits for all of them
func (c *Coordinator) replayAll(ctx context.Context, uploads []payload.PendingUpload, report *SweepReport) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		outcome = &SweepReport{}
	)
	settled := func(disposition telemetry.Disposition) {
		mu.Lock()
		outcome.count(disposition)
		mu.Unlock()
		wg.Done()
	}

	var err error
	for _, entry := range uploads {
		if !entry.Type.Valid() {
			slog.Warn("Skipping cached payload of unknown type", "id", entry.ID, "type", int(entry.Type))
			report.Skipped++
			continue
		}

		if err = c.gate.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)

		ran, started := false, false
		err = c.gate.Do(context.Background(), func() {
			ran = true
			started = c.replay(entry, settled)
		})
		if !ran {
			c.gate.Release()
		}
		if !started {
			wg.Done()
		}
		if err != nil {
			break
		}
		if !started {
			report.Skipped++
			continue
		}
		report.Scheduled++
	}

	wg.Wait()

	report.Delivered = outcome.Delivered
	report.Dropped = outcome.Dropped
	report.Deferred = outcome.Deferred
	return err
}

// replay starts uploading a cached entry with the slot the sweep acquired,
// unless the entry is already uploading or waiting for a slot. A slot that
// goes unused is handed to waiting uploads. Runs on the serial queue.
func (c *Coordinator) replay(entry payload.PendingUpload, settled func(telemetry.Disposition)) bool {
	if c.closed {
		c.gate.Release()
		return false
	}
	_, busy := c.flights[entry.Key()]
	_, waiting := c.parkedKeys[entry.Key()]
	if busy || waiting {
		slog.Debug("Payload already uploading, skipping", "key", entry.Key().String())
		c.gate.Release()
		c.startParked()
		return false
	}

	retries := max(0, min(c.settings.AutomaticRetryCount, c.settings.MaxAttempts-entry.AttemptCount))
	c.startFlight(entry, retries, settled)
	return true
}

// sweepInBackground is the reachability callback
func (c *Coordinator) sweepInBackground() {
	go func() {
		_, err := c.RetryCachedData(c.ctx)
		if err != nil && !errors.Is(err, payload.ErrClosed) && !errors.Is(err, context.Canceled) {
			slog.Warn("Reachability triggered sweep failed", "error", err)
		}
	}()
}

// saveSweepStatus records a running sweep when report is nil, and the
// final summary otherwise
func (c *Coordinator) saveSweepStatus(ctx context.Context, start time.Time, report *SweepReport, sweepErr error) {
	if c.statusPersistence == nil {
		return
	}

	current, err := c.statusPersistence.LoadStatus(ctx)
	if err != nil {
		slog.Warn("Failed to load sweep status, starting over", "error", err)
		current = &status.SweepStatus{}
	}

	started := start
	if report == nil {
		current.Phase = status.SweepPhaseRunning
		current.Message = ""
		current.LastAttempt = &started
		current.SweepCount++
	} else {
		current.Purged = report.Purged
		current.Scheduled = report.Scheduled
		current.Skipped = report.Skipped
		current.Delivered = report.Delivered
		current.Dropped = report.Dropped
		current.Deferred = report.Deferred
		current.Duration = report.Duration

		if sweepErr != nil {
			current.Phase = status.SweepPhaseFailed
			current.Message = sweepErr.Error()
		} else {
			finished := start.Add(report.Duration)
			current.Phase = status.SweepPhaseComplete
			current.Message = ""
			current.LastSuccess = &finished
		}
	}

	// detached so that a cancelled sweep still records why it stopped
	if err := c.statusPersistence.SaveStatus(context.WithoutCancel(ctx), current); err != nil {
		slog.Warn("Failed to save sweep status", "error", err)
	}
}
