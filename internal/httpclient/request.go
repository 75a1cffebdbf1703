package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// Header names understood by the collector
const (
	HeaderAccept          = "Accept"
	HeaderContentType     = "Content-Type"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderAPIKey          = "X-EM-AID"
	HeaderDeviceID        = "X-EM-DID"
	HeaderPayloadTypes    = "X-EM-PAYLOAD-TYPES"
	HeaderRetryCount      = "x-emb-retry-count"
	HeaderRetryAfter      = "Retry-After"
)

// Multipart field names of attachment uploads
const (
	FieldAppID        = "app_id"
	FieldAttachmentID = "attachment_id"
	FieldFile         = "file"
)

// ErrInvalidURL is returned when an endpoint cannot be used to build a request
var ErrInvalidURL = errors.New("invalid endpoint URL")

// UploadRequest describes a single POST to the collector
type UploadRequest struct {
	Endpoint string
	Metadata Metadata

	// Body is sent unchanged for JSON uploads, or as the file part of attachments
	Body []byte

	PayloadTypes string

	// AttachmentID switches the request to a multipart attachment upload
	AttachmentID string
}

// Build returns the HTTP request for attempt number attempt (1-based).
// Attempts after the first carry the retry count header.
func (u *UploadRequest) Build(ctx context.Context, attempt int) (*http.Request, error) {
	endpoint, err := url.Parse(u.Endpoint)
	if err != nil || endpoint.Host == "" || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, u.Endpoint)
	}

	var (
		body        []byte
		contentType string
	)
	if u.AttachmentID != "" {
		body, contentType, err = u.multipartBody()
		if err != nil {
			return nil, err
		}
	} else {
		body = u.Body
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(HeaderAccept, "application/json")
	req.Header.Set(HeaderContentType, contentType)
	if u.AttachmentID == "" {
		req.Header.Set(HeaderContentEncoding, "gzip")
	}
	req.Header.Set(HeaderUserAgent, u.Metadata.UserAgent)
	req.Header.Set(HeaderAPIKey, u.Metadata.APIKey)
	req.Header.Set(HeaderDeviceID, u.Metadata.DeviceID)
	if u.PayloadTypes != "" {
		req.Header.Set(HeaderPayloadTypes, u.PayloadTypes)
	}
	if attempt > 1 {
		req.Header.Set(HeaderRetryCount, strconv.Itoa(attempt-1))
	}

	return req, nil
}

func (u *UploadRequest) multipartBody() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField(FieldAppID, u.Metadata.AppID); err != nil {
		return nil, "", fmt.Errorf("failed to write %s field: %w", FieldAppID, err)
	}
	if err := writer.WriteField(FieldAttachmentID, u.AttachmentID); err != nil {
		return nil, "", fmt.Errorf("failed to write %s field: %w", FieldAttachmentID, err)
	}
	part, err := writer.CreateFormFile(FieldFile, u.AttachmentID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s part: %w", FieldFile, err)
	}
	if _, err := part.Write(u.Body); err != nil {
		return nil, "", fmt.Errorf("failed to write %s part: %w", FieldFile, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}
