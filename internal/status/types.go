package status

import "time"

// SweepPhase represents the current phase of a cache sweep
type SweepPhase string

const (
	// SweepPhaseRunning means a sweep is in progress
	SweepPhaseRunning SweepPhase = "Running"

	// SweepPhaseComplete means the last sweep processed every cached entry
	SweepPhaseComplete SweepPhase = "Complete"

	// SweepPhaseFailed means the last sweep could not read the cache
	SweepPhaseFailed SweepPhase = "Failed"
)

// SweepStatus summarizes the most recent replay of the upload cache
type SweepStatus struct {
	// Phase represents the current sweep phase
	Phase SweepPhase `json:"phase"`

	// Message provides additional information, usually the failure cause
	Message string `json:"message,omitempty"`

	// LastAttempt is the time the last sweep started
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is the time the last complete sweep finished
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// SweepCount is the number of sweeps run since the status file was created
	SweepCount int `json:"sweepCount,omitempty"`

	// Purged is the number of stale entries removed before replaying
	Purged int `json:"purged,omitempty"`

	// Scheduled is the number of entries replayed
	Scheduled int `json:"scheduled,omitempty"`

	// Skipped is the number of entries already being uploaded
	Skipped int `json:"skipped,omitempty"`

	// Delivered is the number of entries accepted by the collector
	Delivered int `json:"delivered,omitempty"`

	// Dropped is the number of entries given up on
	Dropped int `json:"dropped,omitempty"`

	// Deferred is the number of entries kept for a later sweep
	Deferred int `json:"deferred,omitempty"`

	// Duration is how long the last sweep took
	Duration time.Duration `json:"duration,omitempty"`
}
