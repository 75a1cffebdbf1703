package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stacklok/telemetry-uploader/internal/backoff"
	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/reachability"
	"github.com/stacklok/telemetry-uploader/pkg/versions"
)

type countingProber struct {
	calls atomic.Int32
}

func (p *countingProber) Probe(context.Context) reachability.Status {
	p.calls.Add(1)
	return reachability.StatusUnsatisfied
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()
		_, err := baseConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config cannot be nil")
	})

	t.Run("option error is returned", func(t *testing.T) {
		t.Parallel()
		_, err := baseConfig(WithConfig(createTestAppConfig(t)), WithAddress(""))
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := baseConfig(WithConfig(createTestAppConfig(t)))
		require.NoError(t, err)
		assert.Equal(t, config.DefaultListenAddress, cfg.address)
		assert.True(t, cfg.reachability)
		assert.Equal(t, defaultRequestTimeout, cfg.requestTimeout)
		assert.Equal(t, defaultReadTimeout, cfg.readTimeout)
		assert.Equal(t, defaultWriteTimeout, cfg.writeTimeout)
		assert.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
	})

	t.Run("listen address from config", func(t *testing.T) {
		t.Parallel()
		c := createTestAppConfig(t)
		c.Server = &config.ServerConfig{Address: "127.0.0.1:7000"}
		cfg, err := baseConfig(WithConfig(c))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7000", cfg.address)
	})
}

func TestWithConfig(t *testing.T) {
	t.Parallel()
	cfg := &uploaderAppConfig{}
	testConfig := createTestAppConfig(t)

	err := WithConfig(testConfig)(cfg)

	require.NoError(t, err)
	assert.Equal(t, testConfig, cfg.config)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "valid address", address: ":9999", want: ":9999"},
		{name: "valid address with host", address: "127.0.0.1:9999", want: "127.0.0.1:9999"},
		{name: "valid address with host and port", address: "localhost:9999", want: "localhost:9999"},
		{name: "invalid empty address", address: "", wantErr: true},
		{name: "invalid empty port", address: ":", wantErr: true},
		{name: "invalid missing port", address: "localhost", wantErr: true},
		{name: "invalid address with host and port", address: "localhost:999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &uploaderAppConfig{}
			err := WithAddress(tt.address)(cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()
	cfg := &uploaderAppConfig{}
	middleware1 := func(next http.Handler) http.Handler { return next }
	middleware2 := func(next http.Handler) http.Handler { return next }

	err := WithMiddlewares(middleware1, middleware2)(cfg)

	require.NoError(t, err)
	assert.Len(t, cfg.middlewares, 2)
}

func TestWithTelemetry_Nil(t *testing.T) {
	t.Parallel()
	err := WithTelemetry(nil)(&uploaderAppConfig{})
	require.Error(t, err)
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		c := createTestAppConfig(t)

		settings := settingsFromConfig(c)

		assert.Equal(t, "http://127.0.0.1:1/v2/spans", settings.Endpoints[payload.TypeSpans])
		assert.Equal(t, "http://127.0.0.1:1/v2/logs", settings.Endpoints[payload.TypeLog])
		assert.Equal(t, "http://127.0.0.1:1/v2/attachments", settings.Endpoints[payload.TypeAttachment])
		assert.Equal(t, "abc12", settings.Metadata.APIKey)
		assert.Equal(t, "device-1", settings.Metadata.DeviceID)
		assert.Equal(t, versions.UserAgent(), settings.Metadata.UserAgent)
		assert.Equal(t, config.DefaultAutomaticRetryCount, settings.AutomaticRetryCount)
		assert.Equal(t, config.DefaultMaximumAmountOfRetries, settings.MaxAttempts)
		assert.Equal(t, config.DefaultCacheMaxAge, settings.CacheMaxAge)
		assert.Equal(t, backoff.DefaultPolicy(), settings.Backoff)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		retries := 0
		c := createTestAppConfig(t)
		c.Redundancy = &config.RedundancyConfig{
			AutomaticRetryCount:    &retries,
			MaximumAmountOfRetries: 5,
			Backoff:                &config.BackoffConfig{BaseDelay: 100 * time.Millisecond},
		}
		c.Cache.MaxAge = -1

		settings := settingsFromConfig(c)

		assert.Equal(t, 0, settings.AutomaticRetryCount)
		assert.Equal(t, 5, settings.MaxAttempts)
		assert.Zero(t, settings.CacheMaxAge)
		assert.Equal(t, backoff.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: backoff.DefaultMaxDelay},
			settings.Backoff)
	})
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name           string
		config         *uploaderAppConfig
		wantAddr       string
		wantReadTO     time.Duration
		wantWriteTO    time.Duration
		wantIdleTO     time.Duration
		wantMiddleware int
	}{
		{
			name: "with default middlewares",
			config: &uploaderAppConfig{
				address:        ":8080",
				requestTimeout: 10 * time.Second,
				readTimeout:    10 * time.Second,
				writeTimeout:   15 * time.Second,
				idleTimeout:    60 * time.Second,
			},
			wantAddr:       ":8080",
			wantReadTO:     10 * time.Second,
			wantWriteTO:    15 * time.Second,
			wantIdleTO:     60 * time.Second,
			wantMiddleware: 5,
		},
		{
			name: "with custom middlewares",
			config: &uploaderAppConfig{
				address: ":9090",
				middlewares: []func(http.Handler) http.Handler{
					func(next http.Handler) http.Handler { return next },
				},
				requestTimeout: 5 * time.Second,
				readTimeout:    5 * time.Second,
				writeTimeout:   10 * time.Second,
				idleTimeout:    30 * time.Second,
			},
			wantAddr:       ":9090",
			wantReadTO:     5 * time.Second,
			wantWriteTO:    10 * time.Second,
			wantIdleTO:     30 * time.Second,
			wantMiddleware: 1,
		},
		{
			name: "with telemetry middlewares",
			config: &uploaderAppConfig{
				address:        "127.0.0.1:3000",
				requestTimeout: 20 * time.Second,
				readTimeout:    20 * time.Second,
				writeTimeout:   30 * time.Second,
				idleTimeout:    120 * time.Second,
				meterProvider:  sdkmetric.NewMeterProvider(),
				tracerProvider: sdktrace.NewTracerProvider(),
			},
			wantAddr:       "127.0.0.1:3000",
			wantReadTO:     20 * time.Second,
			wantWriteTO:    30 * time.Second,
			wantIdleTO:     120 * time.Second,
			wantMiddleware: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, err := NewUploaderApp(ctx, WithConfig(createTestAppConfig(t)), WithoutReachability())
			require.NoError(t, err)
			t.Cleanup(func() { _ = app.Stop(time.Second) })

			server, err := buildHTTPServer(ctx, tt.config, app.Coordinator())

			require.NoError(t, err)
			require.NotNil(t, server)
			assert.Equal(t, tt.wantAddr, server.Addr)
			assert.Equal(t, tt.wantReadTO, server.ReadTimeout)
			assert.Equal(t, tt.wantWriteTO, server.WriteTimeout)
			assert.Equal(t, tt.wantIdleTO, server.IdleTimeout)
			assert.Len(t, tt.config.middlewares, tt.wantMiddleware)

			rec := httptest.NewRecorder()
			server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestNewUploaderApp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		opts   func(*testing.T) []UploaderAppOptions
		verify func(*testing.T, *UploaderApp)
	}{
		{
			name: "success with minimal config",
			opts: func(t *testing.T) []UploaderAppOptions {
				t.Helper()
				return []UploaderAppOptions{WithConfig(createTestAppConfig(t)), WithoutReachability()}
			},
			//nolint:thelper // we want to see these lines
			verify: func(t *testing.T, app *UploaderApp) {
				assert.NotNil(t, app.config)
				assert.NotNil(t, app.components)
				assert.NotNil(t, app.components.Coordinator)
				assert.Nil(t, app.components.Telemetry)
				assert.NotNil(t, app.httpServer)
				assert.NotNil(t, app.ctx)
				assert.NotNil(t, app.cancelFunc)
				assert.Equal(t, config.DefaultListenAddress, app.httpServer.Addr)
				assert.True(t, app.Coordinator().Connected(), "no monitor reports connected")
			},
		},
		{
			name: "success with custom address",
			opts: func(t *testing.T) []UploaderAppOptions {
				t.Helper()
				return []UploaderAppOptions{
					WithConfig(createTestAppConfig(t)),
					WithAddress(":9090"),
					WithoutReachability(),
				}
			},
			//nolint:thelper // we want to see these lines
			verify: func(t *testing.T, app *UploaderApp) {
				assert.Equal(t, ":9090", app.httpServer.Addr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, err := NewUploaderApp(ctx, tt.opts(t)...)
			require.NoError(t, err)
			require.NotNil(t, app)
			t.Cleanup(func() { _ = app.Stop(time.Second) })

			tt.verify(t, app)
		})
	}
}

func TestNewUploaderApp_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewUploaderApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build base configuration")
}

func TestNewCoordinator_PollsConfiguredProber(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	coord, err := NewCoordinator(context.Background(),
		WithConfig(createTestAppConfig(t)),
		WithProber(prober),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	require.Eventually(t, func() bool { return prober.calls.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, coord.Connected())
}

func TestNewCoordinator_WithoutReachability(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	coord, err := NewCoordinator(context.Background(),
		WithConfig(createTestAppConfig(t)),
		WithProber(prober),
		WithoutReachability(),
	)
	require.NoError(t, err)
	require.NoError(t, coord.Close())

	assert.Zero(t, prober.calls.Load())
}

func TestNewCoordinator_UploadsThroughCollector(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	cfg := createTestAppConfig(t)
	cfg.Endpoints.Logs = server.URL + "/v2/logs"

	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	coord, err := NewCoordinator(context.Background(),
		WithConfig(cfg),
		WithoutReachability(),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	delivery, err := coord.Enqueue(context.Background(), "L1", payload.TypeLog, []byte("line"))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, delivery.Wait(waitCtx))

	assert.Equal(t, int32(1), hits.Load())
	assert.NotEmpty(t, recorder.Ended())

	pending, err := coord.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewCoordinator_CacheOwnedByOneProcess(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig(t)
	first, err := NewCoordinator(context.Background(), WithConfig(cfg), WithoutReachability())
	require.NoError(t, err)

	_, err = NewCoordinator(context.Background(), WithConfig(cfg), WithoutReachability())
	require.ErrorIs(t, err, ErrCacheLocked)

	require.NoError(t, first.Close())

	second, err := NewCoordinator(context.Background(), WithConfig(cfg), WithoutReachability())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
