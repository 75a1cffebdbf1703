package app

import (
	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator caches and uploads payloads
	Coordinator *coordinator.Coordinator

	// Telemetry owns the OpenTelemetry providers (optional)
	Telemetry *telemetry.Telemetry
}
