// Package payload defines the data model shared by the upload cache, the upload
// operations and the coordinator.
package payload

import (
	"fmt"
	"time"
)

// Type identifies the kind of telemetry carried by a payload.
// The numeric values are persisted in the cache and must not change.
type Type int

const (
	// TypeSpans is a session's spans payload
	TypeSpans Type = iota

	// TypeLog is a batch of log records
	TypeLog

	// TypeAttachment is a raw log attachment
	TypeAttachment
)

// String returns the lowercase name of the payload type
func (t Type) String() string {
	switch t {
	case TypeSpans:
		return "spans"
	case TypeLog:
		return "log"
	case TypeAttachment:
		return "attachment"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the known payload types
func (t Type) Valid() bool {
	return t >= TypeSpans && t <= TypeAttachment
}

// ParseType converts a type name back into a Type
func ParseType(name string) (Type, error) {
	switch name {
	case "spans", "span":
		return TypeSpans, nil
	case "log", "logs":
		return TypeLog, nil
	case "attachment", "attachments":
		return TypeAttachment, nil
	default:
		return 0, fmt.Errorf("unknown payload type %q", name)
	}
}

// Key is the unique identity of a pending upload
type Key struct {
	ID   string
	Type Type
}

// String returns a printable form of the key, used in logs
func (k Key) String() string {
	return k.Type.String() + "/" + k.ID
}

// PendingUpload is a payload that has been durably cached and has not yet been
// delivered or given up on.
type PendingUpload struct {
	// ID is the caller supplied identifier (session id, log batch id, ...)
	ID string

	// Type is the kind of payload
	Type Type

	// Data is the opaque, already serialized and compressed body
	Data []byte

	// PayloadTypes is an optional comma separated list forwarded to the collector
	PayloadTypes string

	// AttemptCount is the number of network attempts made across process runs
	AttemptCount int

	// CreatedAt is the time the payload was first cached
	CreatedAt time.Time
}

// Key returns the unique identity of the upload
func (p *PendingUpload) Key() Key {
	return Key{ID: p.ID, Type: p.Type}
}

// Outcome is the terminal classification of an upload operation
type Outcome int

const (
	// OutcomeSuccess means the collector accepted the payload
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the payload could not be delivered
	OutcomeFailure
)

// Result is the terminal result of an upload operation.
type Result struct {
	Outcome Outcome

	// Retriable is only meaningful for failures
	Retriable bool

	// AttemptCount is the cumulative number of attempts, including the
	// attempts made by previous runs
	AttemptCount int

	// Err holds the last error seen, if any
	Err error
}

// Success returns a successful result
func Success(attempts int) Result {
	return Result{Outcome: OutcomeSuccess, AttemptCount: attempts}
}

// Failure returns a failed result
func Failure(retriable bool, attempts int, err error) Result {
	return Result{Outcome: OutcomeFailure, Retriable: retriable, AttemptCount: attempts, Err: err}
}

// Succeeded reports whether the upload was delivered
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// String returns "success", "retriable_failure" or "permanent_failure"
func (r Result) String() string {
	switch {
	case r.Succeeded():
		return "success"
	case r.Retriable:
		return "retriable_failure"
	default:
		return "permanent_failure"
	}
}

// AsError converts a failed result into an error wrapping ErrNetworkTransient
// or ErrNetworkPermanent. It returns nil for successful results.
func (r Result) AsError() error {
	if r.Succeeded() {
		return nil
	}
	sentinel := ErrNetworkPermanent
	if r.Retriable {
		sentinel = ErrNetworkTransient
	}
	if r.Err != nil {
		return fmt.Errorf("%w after %d attempts: %w", sentinel, r.AttemptCount, r.Err)
	}
	return fmt.Errorf("%w after %d attempts", sentinel, r.AttemptCount)
}
