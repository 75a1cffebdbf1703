package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/telemetry-uploader/internal/api"
	"github.com/stacklok/telemetry-uploader/internal/backoff"
	"github.com/stacklok/telemetry-uploader/internal/cache"
	"github.com/stacklok/telemetry-uploader/internal/clock"
	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/coordinator"
	"github.com/stacklok/telemetry-uploader/internal/gate"
	"github.com/stacklok/telemetry-uploader/internal/httpclient"
	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/reachability"
	"github.com/stacklok/telemetry-uploader/internal/status"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
	"github.com/stacklok/telemetry-uploader/pkg/versions"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 90 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultProbeTimeout   = 5 * time.Second
)

// UploaderAppOptions is a function that configures the uploader app builder
type UploaderAppOptions func(*uploaderAppConfig) error

type uploaderAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	httpClient   httpclient.Client
	prober       reachability.Prober
	clock        clock.Clock
	reachability bool

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	telemetry      *telemetry.Telemetry
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func baseConfig(opts ...UploaderAppOptions) (*uploaderAppConfig, error) {
	cfg := &uploaderAppConfig{
		reachability:   true,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetListenAddress()
	}
	return cfg, nil
}

// NewUploaderApp builds the coordinator and the ingest API server
func NewUploaderApp(ctx context.Context, opts ...UploaderAppOptions) (*UploaderApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	coord, err := buildCoordinator(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, coord)
	if err != nil {
		_ = coord.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	return &UploaderApp{
		config:     cfg.config,
		components: &AppComponents{Coordinator: coord, Telemetry: cfg.telemetry},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// NewCoordinator builds a coordinator from the configuration, without the
// ingest API. Used by one-shot commands.
func NewCoordinator(ctx context.Context, opts ...UploaderAppOptions) (*coordinator.Coordinator, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildCoordinator(ctx, cfg)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithHTTPClient replaces the collector client (for testing)
func WithHTTPClient(c httpclient.Client) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithProber replaces the TCP connectivity prober (for testing)
func WithProber(p reachability.Prober) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.prober = p
		return nil
	}
}

// WithClock sets the clock used by the coordinator (for testing)
func WithClock(c clock.Clock) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.clock = c
		return nil
	}
}

// WithoutReachability disables connectivity polling regardless of the
// configuration. One-shot commands use it.
func WithoutReachability() UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.reachability = false
		return nil
	}
}

// WithTelemetry instruments the app with the providers of t. The app shuts
// t down when it stops.
func WithTelemetry(t *telemetry.Telemetry) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		if t == nil {
			return fmt.Errorf("telemetry cannot be nil")
		}
		cfg.telemetry = t
		cfg.meterProvider = t.MeterProvider()
		cfg.tracerProvider = t.TracerProvider()
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider
func WithMeterProvider(mp metric.MeterProvider) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) UploaderAppOptions {
	return func(cfg *uploaderAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// settingsFromConfig maps the configuration onto coordinator settings
func settingsFromConfig(c *config.Config) coordinator.Settings {
	settings := coordinator.DefaultSettings()
	for _, typ := range []payload.Type{payload.TypeSpans, payload.TypeLog, payload.TypeAttachment} {
		settings.Endpoints[typ] = c.Endpoints.Endpoint(typ)
	}
	settings.Metadata = httpclient.Metadata{
		APIKey:    c.Metadata.APIKey,
		DeviceID:  c.Metadata.DeviceID,
		UserAgent: c.Metadata.UserAgent,
		AppID:     c.Metadata.AppID,
	}
	if settings.Metadata.UserAgent == "" {
		settings.Metadata.UserAgent = versions.UserAgent()
	}
	settings.AutomaticRetryCount = c.Redundancy.GetAutomaticRetryCount()
	settings.MaxAttempts = c.Redundancy.GetMaximumAmountOfRetries()
	settings.CacheMaxAge = c.Cache.GetMaxAge()

	if b := c.Redundancy.GetBackoff(); b.BaseDelay > 0 || b.MaxDelay > 0 {
		policy := backoff.DefaultPolicy()
		if b.BaseDelay > 0 {
			policy.BaseDelay = b.BaseDelay
		}
		if b.MaxDelay > 0 {
			policy.MaxDelay = b.MaxDelay
		}
		settings.Backoff = policy
	}
	return settings
}

// buildCoordinator opens the cache and wires the coordinator with its
// transport, metrics and reachability prober
func buildCoordinator(ctx context.Context, b *uploaderAppConfig) (*coordinator.Coordinator, error) {
	slog.Info("Initializing upload coordinator", "cache", b.config.Cache.Path)

	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}

	if err := os.MkdirAll(filepath.Dir(b.config.Cache.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	store, err := openOwnedCache(ctx, b.config.Cache.Path,
		cache.WithClock(clk),
		cache.WithMaxEntries(b.config.Cache.MaxEntries),
		cache.WithMaxSizeBytes(b.config.Cache.MaxSizeBytes),
	)
	if err != nil {
		return nil, err
	}

	client := b.httpClient
	if client == nil {
		client = httpclient.NewDefaultClient(b.config.HTTP.GetTimeout())
	}

	opts := []coordinator.Option{
		coordinator.WithClock(clk),
		coordinator.WithStatusPersistence(status.NewFileStatusPersistence(b.config.GetStatusPath())),
	}

	if b.meterProvider != nil {
		uploadMetrics, err := telemetry.NewUploadMetrics(b.meterProvider)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create upload metrics: %w", err)
		}
		sweepMetrics, err := telemetry.NewSweepMetrics(b.meterProvider)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create sweep metrics: %w", err)
		}
		opts = append(opts, coordinator.WithMetrics(uploadMetrics, sweepMetrics))
		slog.Info("Upload metrics enabled")
	}
	if b.tracerProvider != nil {
		opts = append(opts, coordinator.WithTracer(b.tracerProvider.Tracer(telemetry.UploadTracerName)))
	}

	if b.reachability && b.config.Redundancy.GetRetryOnInternetConnected() {
		prober := b.prober
		if prober == nil {
			address := b.config.GetReachabilityAddress()
			if address != "" {
				prober = reachability.NewTCPProber(address, defaultProbeTimeout)
			}
		}
		if prober != nil {
			opts = append(opts, coordinator.WithReachability(prober, b.config.Reachability.GetInterval()))
			slog.Info("Replaying cache when connectivity is regained",
				"interval", b.config.Reachability.GetInterval())
		}
	}

	coord := coordinator.New(store, gate.New(b.config.GetConcurrency()), client, settingsFromConfig(b.config), opts...)
	slog.Info("Upload coordinator initialized",
		"concurrency", b.config.GetConcurrency(),
		"automatic_retry_count", b.config.Redundancy.GetAutomaticRetryCount(),
		"max_attempts", b.config.Redundancy.GetMaximumAmountOfRetries())
	return coord, nil
}

// buildHTTPServer builds the ingest API server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *uploaderAppConfig,
	uploader api.Uploader,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)},
			b.middlewares...)
	}

	// first in the chain so that every request is counted
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}

	router := api.NewServer(uploader, api.WithMiddlewares(b.middlewares...))

	return &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}, nil
}
