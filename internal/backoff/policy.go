// Package backoff computes the delay between quick retries of an upload.
package backoff

import (
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

const (
	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps the exponential part of the delay
	DefaultMaxDelay = 32 * time.Second
)

// Policy is an exponential backoff without jitter. The delay for retry n
// (1-based) is min(MaxDelay, BaseDelay*2^(n-1)) plus any delay suggested by
// the server through Retry-After.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// Delay returns the wait before retry number attempt. Values below 1 are
// treated as 1 and negative suggestions are ignored.
func (p Policy) Delay(attempt int, suggested time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if suggested < 0 {
		suggested = 0
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}

	exp := &cbackoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	exp.Reset()

	var delay time.Duration
	for range attempt {
		delay = exp.NextBackOff()
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	return delay + suggested
}
