package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	uploaderapp "github.com/stacklok/telemetry-uploader/internal/app"
	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
	"github.com/stacklok/telemetry-uploader/pkg/versions"
)

const telemetryFlushTimeout = 10 * time.Second

// loadConfig reads the file named by --config
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return readConfig(path)
}

func readConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.GetVersionInfo().Version
	}
	return cfg, nil
}

// runOneShot builds a coordinator without connectivity polling, hands it to
// fn and releases it. Telemetry is flushed on the way out so that short runs
// are exported.
func runOneShot(
	ctx context.Context,
	cfg *config.Config,
	fn func(context.Context, *coordinator.Coordinator) error,
) (err error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown telemetry: %w", shutdownErr))
		}
	}()

	coord, err := uploaderapp.NewCoordinator(ctx,
		uploaderapp.WithConfig(cfg),
		uploaderapp.WithoutReachability(),
		uploaderapp.WithMeterProvider(tel.MeterProvider()),
		uploaderapp.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := coord.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close coordinator: %w", closeErr))
		}
	}()

	return fn(ctx, coord)
}
