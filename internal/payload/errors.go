package payload

import "errors"

var (
	// ErrInvalidMetadata is returned when an upload has an empty identifier
	ErrInvalidMetadata = errors.New("invalid upload metadata: id is empty")

	// ErrInvalidData is returned when an upload has an empty body
	ErrInvalidData = errors.New("invalid upload data: payload is empty")

	// ErrNetworkTransient marks a delivery failure that may succeed later
	ErrNetworkTransient = errors.New("transient network failure")

	// ErrNetworkPermanent marks a delivery failure the collector will never accept
	ErrNetworkPermanent = errors.New("permanent network failure")

	// ErrCacheIO marks a failure reading or writing the upload cache
	ErrCacheIO = errors.New("upload cache I/O error")

	// ErrClosed is returned by operations attempted after shutdown
	ErrClosed = errors.New("uploader is closed")
)
