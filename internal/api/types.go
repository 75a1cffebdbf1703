package api

import (
	"context"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/status"
)

//go:generate mockgen -destination=mocks/mock_uploader.go -package=mocks -source=types.go Uploader

// Uploader is the part of the coordinator served over HTTP
type Uploader interface {
	Enqueue(
		ctx context.Context, id string, typ payload.Type, data []byte, opts ...coordinator.EnqueueOption,
	) (*coordinator.Delivery, error)
	RetryCachedData(ctx context.Context) (*coordinator.SweepReport, error)
	Pending(ctx context.Context) ([]payload.PendingUpload, error)
	SweepStatus(ctx context.Context) (*status.SweepStatus, error)
	Connected() bool
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// EnqueueResponse describes an accepted payload
type EnqueueResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Status is "cached" when the upload is still running and "delivered"
	// when the caller waited for it
	Status string `json:"status"`
}

// PendingUploadResponse describes one cached payload without its body
type PendingUploadResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SizeBytes    int       `json:"size_bytes"`
	AttemptCount int       `json:"attempt_count"`
	PayloadTypes string    `json:"payload_types,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListPendingResponse is the body of GET /v1/payloads
type ListPendingResponse struct {
	Payloads []PendingUploadResponse `json:"payloads"`
	Total    int                     `json:"total"`
}

// SweepResponse summarizes a sweep run on request
type SweepResponse struct {
	Purged    int    `json:"purged"`
	Scheduled int    `json:"scheduled"`
	Skipped   int    `json:"skipped"`
	Delivered int    `json:"delivered"`
	Dropped   int    `json:"dropped"`
	Deferred  int    `json:"deferred"`
	Duration  string `json:"duration"`
}

func newSweepResponse(r *coordinator.SweepReport) SweepResponse {
	return SweepResponse{
		Purged:    r.Purged,
		Scheduled: r.Scheduled,
		Skipped:   r.Skipped,
		Delivered: r.Delivered,
		Dropped:   r.Dropped,
		Deferred:  r.Deferred,
		Duration:  r.Duration.String(),
	}
}

func newPendingUploadResponse(u payload.PendingUpload) PendingUploadResponse {
	return PendingUploadResponse{
		ID:           u.ID,
		Type:         u.Type.String(),
		SizeBytes:    len(u.Data),
		AttemptCount: u.AttemptCount,
		PayloadTypes: u.PayloadTypes,
		CreatedAt:    u.CreatedAt,
	}
}
