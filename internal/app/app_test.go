package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/telemetry-uploader/internal/config"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// createTestAppConfig creates a minimal valid config backed by a temporary cache
func createTestAppConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Endpoints: config.EndpointsConfig{
			Spans:       "http://127.0.0.1:1/v2/spans",
			Logs:        "http://127.0.0.1:1/v2/logs",
			Attachments: "http://127.0.0.1:1/v2/attachments",
		},
		Metadata: config.MetadataConfig{
			APIKey:   "abc12",
			DeviceID: "device-1",
		},
		Cache: config.CacheConfig{
			Path: filepath.Join(t.TempDir(), "uploads.db"),
		},
	}
}

// createTestApp builds an app without connectivity polling
func createTestApp(t *testing.T, addr string) *UploaderApp {
	t.Helper()

	app, err := NewUploaderApp(context.Background(),
		WithConfig(createTestAppConfig(t)),
		WithAddress(addr),
		WithoutReachability(),
	)
	require.NoError(t, err)
	return app
}

func TestUploaderApp_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr string
	}{
		{name: "successful start with ephemeral port", addr: ":0"},
		{name: "successful start on localhost", addr: "127.0.0.1:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := createTestApp(t, tt.addr)

			errChan := make(chan error, 1)
			go func() {
				errChan <- app.Start()
			}()

			time.Sleep(100 * time.Millisecond)

			require.NoError(t, app.Stop(5*time.Second))

			select {
			case startErr := <-errChan:
				require.NoError(t, startErr)
			case <-time.After(5 * time.Second):
				t.Fatal("Start() did not return after Stop()")
			}
		})
	}
}

func TestUploaderApp_StartWithListener(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, ":0")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	actualAddr := listener.Addr().String()
	listener.Close()

	app.httpServer.Addr = actualAddr

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + actualAddr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case startErr := <-errChan:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestUploaderApp_StopClosesCoordinator(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, ":0")
	require.NoError(t, app.Stop(time.Second))

	_, err := app.Coordinator().Pending(context.Background())
	require.ErrorIs(t, err, payload.ErrClosed)
	assert.Error(t, app.ctx.Err(), "app context should be cancelled")
}

func TestUploaderApp_StopIdempotent(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, ":0")

	require.NoError(t, app.Stop(time.Second))
	require.NoError(t, app.Stop(time.Second))
}

func TestUploaderApp_StopWithNilCancelFunc(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, ":0")
	app.cancelFunc()
	app.cancelFunc = nil

	assert.NotPanics(t, func() {
		_ = app.Stop(time.Second)
	})
}

func TestUploaderApp_GetConfig(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig(t)
	app, err := NewUploaderApp(context.Background(), WithConfig(cfg), WithoutReachability())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	assert.Same(t, cfg, app.GetConfig())
}

func TestUploaderApp_GetHTTPServer(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, "127.0.0.1:9911")
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	server := app.GetHTTPServer()
	require.NotNil(t, server)
	assert.Equal(t, "127.0.0.1:9911", server.Addr)
}

func TestUploaderApp_StartError_InvalidAddress(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, ":0")
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	app.httpServer.Addr = "invalid:address:format"

	err := app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server failed")
}
