package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Classification is the verdict on a single attempt
type Classification struct {
	Success   bool
	Retriable bool

	// RetryAfter is the delay suggested by the collector
	RetryAfter time.Duration
}

// Classify decides whether an attempt succeeded and, if not, whether it is
// worth retrying. Exactly one of resp and err is expected to be non-nil.
//
// 2xx is a success. 429 and 5xx are retriable, every other status is not.
// Transport errors are retriable unless they are caused by cancellation, an
// unusable URL, DNS resolution or TLS verification.
func Classify(resp *Response, err error) Classification {
	if err != nil {
		return Classification{Retriable: isRetriableError(err)}
	}
	if resp == nil {
		return Classification{Retriable: true}
	}
	if resp.Succeeded() {
		return Classification{Success: true}
	}

	return Classification{
		Retriable:  IsRetriableStatus(resp.StatusCode),
		RetryAfter: resp.RetryAfter(),
	}
}

// IsRetriableStatus reports whether a non-2xx status is worth retrying
func IsRetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func isRetriableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidURL) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordHeaderErr  tls.RecordHeaderError
		alertErr         tls.AlertError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert),
		errors.As(err, &verifyErr),
		errors.As(err, &recordHeaderErr),
		errors.As(err, &alertErr):
		return false
	}

	// net/http reports unusable URLs as plain errors
	msg := err.Error()
	if strings.Contains(msg, "unsupported protocol scheme") || strings.Contains(msg, "no Host in request URL") {
		return false
	}

	return true
}

// ParseRetryAfter parses an integer Retry-After header value in seconds.
// Missing, malformed or negative values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
