package httpclient

import (
	"fmt"
	"net/http"
	"time"
)

// HTTPError represents a non-2xx response from the collector
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string

	// RetryAfter is the delay suggested by the Retry-After header, if any
	RetryAfter time.Duration
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// Response is a fully read collector response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Succeeded reports whether the status code is 2xx
func (r *Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryAfter returns the delay requested through the Retry-After header
func (r *Response) RetryAfter() time.Duration {
	return ParseRetryAfter(r.Header.Get(HeaderRetryAfter))
}

// Err returns an *HTTPError for non-2xx responses and nil otherwise
func (r *Response) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &HTTPError{
		StatusCode: r.StatusCode,
		URL:        r.URL,
		Message:    http.StatusText(r.StatusCode),
		RetryAfter: r.RetryAfter(),
	}
}

// Metadata identifies the application and device to the collector
type Metadata struct {
	APIKey    string
	DeviceID  string
	UserAgent string

	// AppID is sent as a form field on attachment uploads
	AppID string
}
