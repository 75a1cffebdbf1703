package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	uploaderapp "github.com/stacklok/telemetry-uploader/internal/app"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the uploader service",
	Long: `Start the uploader service. It replays payloads cached by previous runs,
accepts new payloads on the ingest API and keeps retrying whenever
connectivity is regained.

The configuration file (--config) specifies:
- Collector endpoints and the identity sent with every upload
- Retry budget and backoff
- Cache location, retention and size bounds`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"config", viper.GetString("config"),
		"cache", cfg.Cache.Path)

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	opts := []uploaderapp.UploaderAppOptions{
		uploaderapp.WithConfig(cfg),
		uploaderapp.WithTelemetry(tel),
	}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, uploaderapp.WithAddress(address))
	}

	app, err := uploaderapp.NewUploaderApp(ctx, opts...)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to create uploader app: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if stopErr := app.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop uploader", "error", stopErr)
		}
		return err
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
	}

	return app.Stop(defaultGracefulTimeout)
}
