// Package clock abstracts the time operations used by the uploader so that
// backoff timers and reachability polling can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the uploader.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns false if the timer already
// fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers ticks on C until stopped. C has capacity 1 and drops ticks
// when the reader falls behind, like time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
