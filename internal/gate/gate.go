// Package gate serializes bookkeeping work on a single FIFO queue and bounds
// the number of uploads that may be in flight at once.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// DefaultCapacity is the number of concurrent uploads allowed by default
const DefaultCapacity = 2

// Task is a unit of work run on the serial queue
type Task func()

// Gate owns a serial task queue and a counting semaphore.
// Tasks run one at a time in submission order on a dedicated goroutine.
type Gate struct {
	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	slots   *semaphore.Weighted
	inUse   atomic.Int64
	closing sync.Once
}

// New creates a gate allowing capacity concurrent uploads and starts its
// worker. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	g := &Gate{
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		slots: semaphore.NewWeighted(int64(capacity)),
	}
	go g.run()
	return g
}

// Submit appends task to the serial queue. It never blocks.
// Tasks submitted after Close are dropped.
func (g *Gate) Submit(task Task) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.queue = append(g.queue, task)
	select {
	case g.wake <- struct{}{}:
	default:
	}
	g.mu.Unlock()
	return true
}

// Do runs task on the serial queue and waits for it to finish.
// Must not be called from a task, it would wait on itself.
func (g *Gate) Do(ctx context.Context, task Task) error {
	finished := make(chan struct{})
	if !g.Submit(func() {
		defer close(finished)
		task()
	}) {
		return payload.ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		// the worker may have exited after running the task
		select {
		case <-finished:
			return nil
		default:
			return payload.ErrClosed
		}
	}
}

// Acquire blocks until an upload slot is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire upload slot: %w", err)
	}
	g.inUse.Add(1)
	return nil
}

// TryAcquire takes a slot if one is free without blocking
func (g *Gate) TryAcquire() bool {
	if !g.slots.TryAcquire(1) {
		return false
	}
	g.inUse.Add(1)
	return true
}

// Release returns a slot taken with Acquire or TryAcquire
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.slots.Release(1)
}

// InFlight returns the number of slots currently held
func (g *Gate) InFlight() int {
	return int(g.inUse.Load())
}

// Close stops the worker. Queued tasks that have not started are dropped.
// Must not be called from a task.
func (g *Gate) Close() {
	g.closing.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.queue = nil
		close(g.wake)
		g.mu.Unlock()
		<-g.done
	})
}

func (g *Gate) run() {
	defer close(g.done)

	for {
		task, ok := g.next()
		if !ok {
			if _, open := <-g.wake; !open {
				return
			}
			continue
		}
		runTask(task)
	}
}

func (g *Gate) next() (Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil, false
	}
	task := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	return task, true
}

func runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in serial task",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	task()
}
