package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

const validYAML = `endpoints:
  spans: https://collector.example.com/v2/spans
  logs: https://collector.example.com/v2/logs
  attachments: https://data.example.com/v2/attachments
metadata:
  apiKey: abc12
  deviceId: 5A6B7C8D
  userAgent: Embrace/iOS/6.0.0
  appId: abc12
cache:
  path: /var/lib/uploader/cache.db
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yamlContent string
		wantErr     string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:        "minimal config uses defaults",
			yamlContent: validYAML,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "https://collector.example.com/v2/spans", cfg.Endpoints.Spans)
				assert.Equal(t, "abc12", cfg.Metadata.APIKey)
				assert.Equal(t, "5A6B7C8D", cfg.Metadata.DeviceID)
				assert.Equal(t, DefaultAutomaticRetryCount, cfg.Redundancy.GetAutomaticRetryCount())
				assert.Equal(t, DefaultMaximumAmountOfRetries, cfg.Redundancy.GetMaximumAmountOfRetries())
				assert.True(t, cfg.Redundancy.GetRetryOnInternetConnected())
				assert.Equal(t, DefaultConcurrency, cfg.GetConcurrency())
				assert.Equal(t, DefaultCacheMaxAge, cfg.Cache.GetMaxAge())
				assert.Equal(t, DefaultHTTPTimeout, cfg.HTTP.GetTimeout())
				assert.Equal(t, DefaultReachabilityInterval, cfg.Reachability.GetInterval())
				assert.Equal(t, "/var/lib/uploader", cfg.GetStatusPath())
				assert.Equal(t, DefaultListenAddress, cfg.GetListenAddress())
			},
		},
		{
			name: "full config",
			yamlContent: validYAML + `redundancy:
  automaticRetryCount: 0
  maximumAmountOfRetries: 5
  retryOnInternetConnected: false
  backoff:
    baseDelay: 500ms
    maxDelay: 10s
concurrency: 4
http:
  timeout: 5s
reachability:
  address: 10.0.0.1:443
  interval: 1m
server:
  address: 127.0.0.1:9000
statusPath: /tmp/status
telemetry:
  enabled: true
  endpoint: otel:4318
  tracing:
    enabled: true
    sampling: 0.5
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 0, cfg.Redundancy.GetAutomaticRetryCount())
				assert.Equal(t, 5, cfg.Redundancy.GetMaximumAmountOfRetries())
				assert.False(t, cfg.Redundancy.GetRetryOnInternetConnected())
				assert.Equal(t, BackoffConfig{BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
					cfg.Redundancy.GetBackoff())
				assert.Equal(t, 4, cfg.GetConcurrency())
				assert.Equal(t, 5*time.Second, cfg.HTTP.GetTimeout())
				assert.Equal(t, "10.0.0.1:443", cfg.GetReachabilityAddress())
				assert.Equal(t, time.Minute, cfg.Reachability.GetInterval())
				assert.Equal(t, "127.0.0.1:9000", cfg.GetListenAddress())
				assert.Equal(t, "/tmp/status", cfg.GetStatusPath())
				require.NotNil(t, cfg.Telemetry)
				assert.Equal(t, "otel:4318", cfg.Telemetry.GetEndpoint())
				assert.Equal(t, 0.5, cfg.Telemetry.Tracing.GetSampling())
			},
		},
		{
			name:        "invalid yaml",
			yamlContent: "endpoints: [",
			wantErr:     "failed to parse YAML config",
		},
		{
			name: "missing required fields",
			yamlContent: `endpoints:
  spans: ftp://collector.example.com
`,
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := LoadConfig(WithConfigPath(writeConfig(t, tt.yamlContent)))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_PathErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to evaluate symlinks")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Endpoints: EndpointsConfig{
				Spans:       "https://c.example.com/spans",
				Logs:        "https://c.example.com/logs",
				Attachments: "http://localhost:8080/attachments",
			},
			Metadata: MetadataConfig{APIKey: "key", DeviceID: "device"},
			Cache:    CacheConfig{Path: "cache.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Endpoints.Logs = "" },
			wantErr: []string{"endpoints.logs: is required"},
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Endpoints.Attachments = "file:///tmp/x" },
			wantErr: []string{"endpoints.attachments", "scheme must be http or https"},
		},
		{
			name: "missing metadata and cache path",
			mutate: func(c *Config) {
				c.Metadata = MetadataConfig{}
				c.Cache.Path = ""
			},
			wantErr: []string{"metadata.apiKey", "metadata.deviceId", "cache.path"},
		},
		{
			name:    "negative limits",
			mutate:  func(c *Config) { c.Cache.MaxEntries = -1; c.Cache.MaxSizeBytes = -1; c.Concurrency = -2 },
			wantErr: []string{"maxEntries", "maxSizeBytes", "concurrency"},
		},
		{
			name: "negative retry count",
			mutate: func(c *Config) {
				c.Redundancy = &RedundancyConfig{AutomaticRetryCount: intPtr(-1)}
			},
			wantErr: []string{"redundancy: automaticRetryCount"},
		},
		{
			name: "base delay above max delay",
			mutate: func(c *Config) {
				c.Redundancy = &RedundancyConfig{Backoff: &BackoffConfig{BaseDelay: time.Minute, MaxDelay: time.Second}}
			},
			wantErr: []string{"exceeds backoff.maxDelay"},
		},
		{
			name: "invalid telemetry",
			mutate: func(c *Config) {
				c.Telemetry = &telemetry.Config{
					Enabled: true,
					Tracing: &telemetry.TracingConfig{Enabled: true, Sampling: 3},
				}
			},
			wantErr: []string{"telemetry: tracing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tt.wantErr {
				assert.Contains(t, err.Error(), s)
			}
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestRedundancyConfig_Getters(t *testing.T) {
	t.Parallel()

	var unset *RedundancyConfig
	assert.Equal(t, DefaultAutomaticRetryCount, unset.GetAutomaticRetryCount())
	assert.Equal(t, DefaultMaximumAmountOfRetries, unset.GetMaximumAmountOfRetries())
	assert.True(t, unset.GetRetryOnInternetConnected())
	assert.Equal(t, BackoffConfig{}, unset.GetBackoff())

	set := &RedundancyConfig{
		AutomaticRetryCount:      intPtr(1),
		MaximumAmountOfRetries:   7,
		RetryOnInternetConnected: boolPtr(false),
	}
	assert.Equal(t, 1, set.GetAutomaticRetryCount())
	assert.Equal(t, 7, set.GetMaximumAmountOfRetries())
	assert.False(t, set.GetRetryOnInternetConnected())
}

func TestCacheConfig_GetMaxAge(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultCacheMaxAge, (&CacheConfig{}).GetMaxAge())
	assert.Equal(t, time.Hour, (&CacheConfig{MaxAge: time.Hour}).GetMaxAge())
	assert.Equal(t, time.Duration(0), (&CacheConfig{MaxAge: -1}).GetMaxAge(), "negative disables purging")
}

func TestConfig_GetReachabilityAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		spans string
		want  string
	}{
		{name: "https default port", spans: "https://c.example.com/v2/spans", want: "c.example.com:443"},
		{name: "http default port", spans: "http://c.example.com/v2/spans", want: "c.example.com:80"},
		{name: "explicit port", spans: "http://127.0.0.1:4000/spans", want: "127.0.0.1:4000"},
		{name: "unparseable", spans: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Endpoints: EndpointsConfig{Spans: tt.spans}}
			assert.Equal(t, tt.want, cfg.GetReachabilityAddress())
		})
	}
}

func TestEndpointsConfig_Endpoint(t *testing.T) {
	t.Parallel()

	e := &EndpointsConfig{Spans: "s", Logs: "l", Attachments: "a"}
	assert.Equal(t, "s", e.Endpoint(payload.TypeSpans))
	assert.Equal(t, "l", e.Endpoint(payload.TypeLog))
	assert.Equal(t, "a", e.Endpoint(payload.TypeAttachment))
	assert.Empty(t, e.Endpoint(payload.Type(9)))
}
