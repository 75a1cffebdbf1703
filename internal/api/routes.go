package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/httpclient"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

const (
	statusCached    = "cached"
	statusDelivered = "delivered"
)

type routes struct {
	uploader     Uploader
	maxBodyBytes int64
}

// health handles GET /health
func (rr *routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readiness handles GET /readiness. The uploader keeps accepting payloads
// while offline, so it only reports connectivity.
func (rr *routes) readiness(w http.ResponseWriter, _ *http.Request) {
	connectivity := "online"
	if !rr.uploader.Connected() {
		connectivity = "offline"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "connectivity": connectivity})
}

// enqueue handles POST /v1/payloads/{type}/{id}. The body is cached as is.
// With ?wait=true the handler returns after the upload finished.
func (rr *routes) enqueue(w http.ResponseWriter, r *http.Request) {
	typ, err := payload.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		if wait, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid wait parameter %q", v))
			return
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rr.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var opts []coordinator.EnqueueOption
	if types := r.Header.Get(httpclient.HeaderPayloadTypes); types != "" {
		opts = append(opts, coordinator.WithPayloadTypes(types))
	}

	delivery, err := rr.uploader.Enqueue(r.Context(), id, typ, data, opts...)
	if err != nil {
		rr.writeUploadError(w, r, err)
		return
	}

	resp := EnqueueResponse{ID: id, Type: typ.String(), Status: statusCached}
	if !wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	deferred, err := delivery.Settle(r.Context())
	if err != nil {
		rr.writeUploadError(w, r, err)
		return
	}
	if deferred {
		// kept for the next sweep
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	resp.Status = statusDelivered
	writeJSON(w, http.StatusOK, resp)
}

// listPending handles GET /v1/payloads
func (rr *routes) listPending(w http.ResponseWriter, r *http.Request) {
	uploads, err := rr.uploader.Pending(r.Context())
	if err != nil {
		rr.writeUploadError(w, r, err)
		return
	}

	resp := ListPendingResponse{Payloads: make([]PendingUploadResponse, 0, len(uploads)), Total: len(uploads)}
	for _, u := range uploads {
		resp.Payloads = append(resp.Payloads, newPendingUploadResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// sweep handles POST /v1/sweep. It runs a sweep and waits for it.
func (rr *routes) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := rr.uploader.RetryCachedData(r.Context())
	if err != nil {
		rr.writeUploadError(w, r, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusConflict, "a sweep is already running")
		return
	}
	writeJSON(w, http.StatusOK, newSweepResponse(report))
}

// sweepStatus handles GET /v1/sweep
func (rr *routes) sweepStatus(w http.ResponseWriter, r *http.Request) {
	current, err := rr.uploader.SweepStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load sweep status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sweep status")
		return
	}
	if current == nil || current.Phase == "" {
		writeError(w, http.StatusNotFound, "sweep status is not recorded")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// writeUploadError maps the uploader error taxonomy onto status codes
func (*routes) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, payload.ErrInvalidMetadata), errors.Is(err, payload.ErrInvalidData):
		status = http.StatusBadRequest
	case errors.Is(err, payload.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, payload.ErrNetworkPermanent), errors.Is(err, payload.ErrNetworkTransient):
		status = http.StatusBadGateway
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// the caller went away; nobody reads the response
		return
	default:
		slog.ErrorContext(r.Context(), "Upload request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
