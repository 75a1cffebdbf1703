// Package app provides application lifecycle management for the uploader service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// UploaderApp encapsulates all components needed to run the ingest API
// and the upload coordinator behind it
type UploaderApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	stopOnce   sync.Once
	stopErr    error
}

// Start replays the cache left by a previous run and serves the ingest API.
// This method blocks until the HTTP server stops or encounters an error.
func (app *UploaderApp) Start() error {
	go func() {
		report, err := app.components.Coordinator.RetryCachedData(app.ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, payload.ErrClosed):
			slog.Error("Startup sweep failed", "error", err)
		case report != nil:
			slog.Info("Startup sweep finished",
				"scheduled", report.Scheduled,
				"delivered", report.Delivered,
				"deferred", report.Deferred,
				"dropped", report.Dropped,
				"purged", report.Purged)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout. The HTTP
// server drains first so that no payload is accepted after the coordinator
// closed. Payloads still uploading stay cached for the next run.
func (app *UploaderApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *UploaderApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if err := app.components.Coordinator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close coordinator: %w", err))
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if app.components.Telemetry != nil {
		if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *UploaderApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *UploaderApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Coordinator returns the upload coordinator
func (app *UploaderApp) Coordinator() *coordinator.Coordinator {
	return app.components.Coordinator
}
