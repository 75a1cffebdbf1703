package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	empty := &Config{}
	assert.Equal(t, DefaultServiceName, empty.GetServiceName())
	assert.Equal(t, "unknown", empty.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, empty.GetEndpoint())

	set := &Config{ServiceName: "svc", ServiceVersion: "1.0.0", Endpoint: "otel:4318"}
	assert.Equal(t, "svc", set.GetServiceName())
	assert.Equal(t, "1.0.0", set.GetServiceVersion())
	assert.Equal(t, "otel:4318", set.GetEndpoint())
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, 0.25, (&TracingConfig{Sampling: 0.25}).GetSampling())
}

func TestMetricsConfig_GetInterval(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMetricsInterval, (&MetricsConfig{}).GetInterval())
	assert.Equal(t, 5*time.Second, (&MetricsConfig{Interval: 5 * time.Second}).GetInterval())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		config        *Config
		errorContains []string
	}{
		{
			name:   "nil config is valid",
			config: nil,
		},
		{
			name:   "disabled config skips validation",
			config: &Config{Enabled: false, Tracing: &TracingConfig{Enabled: true, Sampling: 7}},
		},
		{
			name: "valid config",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.0},
				Metrics: &MetricsConfig{Enabled: true, Interval: time.Second},
			},
		},
		{
			name: "disabled tracing ignores sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: false, Sampling: -1},
			},
		},
		{
			name: "invalid sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			},
			errorContains: []string{"tracing", "sampling must be between 0.0 and 1.0"},
		},
		{
			name: "negative interval",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, Interval: -time.Second},
			},
			errorContains: []string{"metrics", "interval must not be negative"},
		},
		{
			name: "errors are joined",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: -0.1},
				Metrics: &MetricsConfig{Enabled: true, Interval: -time.Second},
				Headers: map[string]string{"": "x"},
			},
			errorContains: []string{"tracing", "metrics", "empty header name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if len(tt.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tt.errorContains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}
