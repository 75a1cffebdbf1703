// Package config provides configuration loading and management for the payload uploader.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/telemetry-uploader/internal/payload"
	"github.com/stacklok/telemetry-uploader/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables read by the uploader
	EnvPrefix = "UPLOADER"

	// DefaultAutomaticRetryCount is the number of quick retries an operation makes
	DefaultAutomaticRetryCount = 3

	// DefaultMaximumAmountOfRetries is the cross-run attempt budget of a payload
	DefaultMaximumAmountOfRetries = 20

	// DefaultConcurrency is the number of uploads a sweep keeps in flight
	DefaultConcurrency = 2

	// DefaultCacheMaxAge is how long a cached payload is kept before it is purged
	DefaultCacheMaxAge = 7 * 24 * time.Hour

	// DefaultHTTPTimeout is the per-request timeout
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultReachabilityInterval is how often connectivity is probed
	DefaultReachabilityInterval = 10 * time.Second

	// DefaultListenAddress is the address of the ingest API
	DefaultListenAddress = ":8080"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Endpoints  EndpointsConfig   `yaml:"endpoints"`
	Metadata   MetadataConfig    `yaml:"metadata"`
	Redundancy *RedundancyConfig `yaml:"redundancy,omitempty"`

	// Concurrency bounds the number of replayed uploads in flight at once
	Concurrency int `yaml:"concurrency,omitempty"`

	Cache        CacheConfig         `yaml:"cache"`
	HTTP         *HTTPConfig         `yaml:"http,omitempty"`
	Reachability *ReachabilityConfig `yaml:"reachability,omitempty"`
	Server       *ServerConfig       `yaml:"server,omitempty"`

	// StatusPath is the directory holding the last sweep summary.
	// Defaults to the directory of the cache database.
	StatusPath string `yaml:"statusPath,omitempty"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// EndpointsConfig holds the collector URL of each payload type
type EndpointsConfig struct {
	Spans       string `yaml:"spans"`
	Logs        string `yaml:"logs"`
	Attachments string `yaml:"attachments"`
}

// MetadataConfig identifies the application and device to the collector
type MetadataConfig struct {
	APIKey    string `yaml:"apiKey"`
	DeviceID  string `yaml:"deviceId"`
	UserAgent string `yaml:"userAgent,omitempty"`
	AppID     string `yaml:"appId,omitempty"`
}

// RedundancyConfig controls retries
type RedundancyConfig struct {
	// AutomaticRetryCount is the number of quick retries made by a single
	// operation. Zero disables them.
	AutomaticRetryCount *int `yaml:"automaticRetryCount,omitempty"`

	// MaximumAmountOfRetries is the total number of attempts a payload gets
	// across process runs before it is dropped
	MaximumAmountOfRetries int `yaml:"maximumAmountOfRetries,omitempty"`

	// RetryOnInternetConnected replays the cache whenever connectivity is regained
	RetryOnInternetConnected *bool `yaml:"retryOnInternetConnected,omitempty"`

	Backoff *BackoffConfig `yaml:"backoff,omitempty"`
}

// BackoffConfig holds the exponential backoff parameters
type BackoffConfig struct {
	BaseDelay time.Duration `yaml:"baseDelay,omitempty"`
	MaxDelay  time.Duration `yaml:"maxDelay,omitempty"`
}

// CacheConfig defines where and for how long payloads are kept
type CacheConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`

	// MaxAge is the retention window. Zero uses DefaultCacheMaxAge and a
	// negative value disables age based purging.
	MaxAge time.Duration `yaml:"maxAge,omitempty"`

	// MaxEntries bounds the number of cached payloads. Zero is unlimited.
	MaxEntries int `yaml:"maxEntries,omitempty"`

	// MaxSizeBytes bounds the total cached payload size. Zero is unlimited.
	MaxSizeBytes int64 `yaml:"maxSizeBytes,omitempty"`
}

// HTTPConfig configures the collector client
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ReachabilityConfig configures the connectivity prober
type ReachabilityConfig struct {
	// Address is the host:port dialed to detect connectivity.
	// Defaults to the host of the spans endpoint.
	Address string `yaml:"address,omitempty"`

	Interval time.Duration `yaml:"interval,omitempty"`
}

// ServerConfig configures the ingest API of the serve command
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Endpoint returns the collector URL for a payload type
func (c *EndpointsConfig) Endpoint(typ payload.Type) string {
	switch typ {
	case payload.TypeSpans:
		return c.Spans
	case payload.TypeLog:
		return c.Logs
	case payload.TypeAttachment:
		return c.Attachments
	default:
		return ""
	}
}

// GetAutomaticRetryCount returns the quick retry budget, using the default if not specified
func (r *RedundancyConfig) GetAutomaticRetryCount() int {
	if r == nil || r.AutomaticRetryCount == nil {
		return DefaultAutomaticRetryCount
	}
	return *r.AutomaticRetryCount
}

// GetMaximumAmountOfRetries returns the cross-run budget, using the default if not specified
func (r *RedundancyConfig) GetMaximumAmountOfRetries() int {
	if r == nil || r.MaximumAmountOfRetries == 0 {
		return DefaultMaximumAmountOfRetries
	}
	return r.MaximumAmountOfRetries
}

// GetRetryOnInternetConnected reports whether regained connectivity triggers a sweep
func (r *RedundancyConfig) GetRetryOnInternetConnected() bool {
	if r == nil || r.RetryOnInternetConnected == nil {
		return true
	}
	return *r.RetryOnInternetConnected
}

// GetBackoff returns the backoff parameters, zero values meaning defaults
func (r *RedundancyConfig) GetBackoff() BackoffConfig {
	if r == nil || r.Backoff == nil {
		return BackoffConfig{}
	}
	return *r.Backoff
}

// GetConcurrency returns the concurrency limit, using the default if not specified
func (c *Config) GetConcurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// GetMaxAge returns the retention window. Zero means age purging is disabled.
func (c *CacheConfig) GetMaxAge() time.Duration {
	switch {
	case c.MaxAge == 0:
		return DefaultCacheMaxAge
	case c.MaxAge < 0:
		return 0
	default:
		return c.MaxAge
	}
}

// GetTimeout returns the HTTP timeout, using the default if not specified
func (h *HTTPConfig) GetTimeout() time.Duration {
	if h == nil || h.Timeout <= 0 {
		return DefaultHTTPTimeout
	}
	return h.Timeout
}

// GetInterval returns the probe interval, using the default if not specified
func (r *ReachabilityConfig) GetInterval() time.Duration {
	if r == nil || r.Interval <= 0 {
		return DefaultReachabilityInterval
	}
	return r.Interval
}

// GetReachabilityAddress returns the address probed for connectivity. It
// falls back to the host of the spans endpoint, with the scheme's default port.
func (c *Config) GetReachabilityAddress() string {
	if c.Reachability != nil && c.Reachability.Address != "" {
		return c.Reachability.Address
	}

	u, err := url.Parse(c.Endpoints.Spans)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// GetListenAddress returns the ingest API address, using the default if not specified
func (c *Config) GetListenAddress() string {
	if c.Server == nil || c.Server.Address == "" {
		return DefaultListenAddress
	}
	return c.Server.Address
}

// GetStatusPath returns the directory of the sweep status file
func (c *Config) GetStatusPath() string {
	if c.StatusPath != "" {
		return c.StatusPath
	}
	return filepath.Dir(c.Cache.Path)
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	for _, typ := range []payload.Type{payload.TypeSpans, payload.TypeLog, payload.TypeAttachment} {
		if err := validateEndpoint(c.Endpoints.Endpoint(typ)); err != nil {
			errs = append(errs, fmt.Errorf("endpoints.%s: %w", endpointKey(typ), err))
		}
	}

	if c.Metadata.APIKey == "" {
		errs = append(errs, errors.New("metadata.apiKey is required"))
	}
	if c.Metadata.DeviceID == "" {
		errs = append(errs, errors.New("metadata.deviceId is required"))
	}

	if c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required"))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.maxEntries must not be negative"))
	}
	if c.Cache.MaxSizeBytes < 0 {
		errs = append(errs, errors.New("cache.maxSizeBytes must not be negative"))
	}

	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}

	if err := c.Redundancy.validate(); err != nil {
		errs = append(errs, fmt.Errorf("redundancy: %w", err))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (r *RedundancyConfig) validate() error {
	if r == nil {
		return nil
	}
	if r.AutomaticRetryCount != nil && *r.AutomaticRetryCount < 0 {
		return errors.New("automaticRetryCount must not be negative")
	}
	if r.MaximumAmountOfRetries < 0 {
		return errors.New("maximumAmountOfRetries must not be negative")
	}
	if b := r.Backoff; b != nil {
		if b.BaseDelay < 0 || b.MaxDelay < 0 {
			return errors.New("backoff delays must not be negative")
		}
		if b.MaxDelay > 0 && b.BaseDelay > b.MaxDelay {
			return fmt.Errorf("backoff.baseDelay %s exceeds backoff.maxDelay %s", b.BaseDelay, b.MaxDelay)
		}
	}
	return nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func endpointKey(typ payload.Type) string {
	switch typ {
	case payload.TypeLog:
		return "logs"
	case payload.TypeAttachment:
		return "attachments"
	default:
		return "spans"
	}
}
