// Package httpclient sends payloads to the collector and classifies the outcome.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the per-request timeout, the only timeout applied to uploads
	DefaultTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a collector response is kept
	maxResponseSize = 1 << 20
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client executes upload requests
type Client interface {
	// Do sends req and returns the response for any status code.
	// An error is only returned when no response was received.
	Do(ctx context.Context, req *http.Request) (*Response, error)
}

// DefaultClient is a Client backed by net/http
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a client with the given timeout.
// A zero timeout uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Do implements Client
func (c *DefaultClient) Do(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        req.URL.String(),
	}, nil
}
