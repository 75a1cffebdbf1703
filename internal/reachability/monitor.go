// Package reachability turns connectivity observations into a single
// "connectivity regained" event per offline to online transition.
package reachability

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/clock"
)

// DefaultInterval is the default delay between probes
const DefaultInterval = 10 * time.Second

// Status is the observed state of the network path
type Status int

const (
	// StatusUnknown means no observation has been made
	StatusUnknown Status = iota

	// StatusSatisfied means the collector is reachable
	StatusSatisfied

	// StatusUnsatisfied means the collector is not reachable
	StatusUnsatisfied
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusSatisfied:
		return "satisfied"
	case StatusUnsatisfied:
		return "unsatisfied"
	default:
		return "unknown"
	}
}

// Prober observes the current network status
type Prober interface {
	Probe(ctx context.Context) Status
}

// Monitor calls its callback once each time the status becomes satisfied
// after not being satisfied. Repeated satisfied updates do nothing.
type Monitor struct {
	wasConnected atomic.Bool
	onRegained   func()
	clock        clock.Clock
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock sets the clock driving Run
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// NewMonitor creates a monitor that starts disconnected, so the first
// satisfied update fires onRegained.
func NewMonitor(onRegained func(), opts ...Option) *Monitor {
	m := &Monitor{
		onRegained: onRegained,
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update records a status observation and fires the callback on the
// unsatisfied to satisfied edge
func (m *Monitor) Update(status Status) {
	if status != StatusSatisfied {
		if m.wasConnected.Swap(false) {
			slog.Info("Network connectivity lost", "status", status.String())
		}
		return
	}
	if !m.wasConnected.CompareAndSwap(false, true) {
		return
	}
	slog.Info("Network connectivity regained")
	if m.onRegained != nil {
		m.onRegained()
	}
}

// Connected reports the last observed connectivity
func (m *Monitor) Connected() bool {
	return m.wasConnected.Load()
}

// Run probes immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, prober Prober, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.Update(prober.Probe(ctx))

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Update(prober.Probe(ctx))
		}
	}
}
