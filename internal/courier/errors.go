package courier

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a courier API failure. The kind determines whether
// the request is retried and how the failure is reported to callers.
type ErrorKind string

const (
	// KindConfig indicates missing or invalid client configuration.
	KindConfig ErrorKind = "config"
	// KindRequest indicates the request was rejected as malformed (HTTP 400).
	KindRequest ErrorKind = "request"
	// KindAuth indicates the upstream rejected the credentials or signature.
	KindAuth ErrorKind = "auth"
	// KindNetwork indicates a connection-level failure before a response arrived.
	KindNetwork ErrorKind = "network"
	// KindTimeout indicates the request or the caller's deadline expired.
	KindTimeout ErrorKind = "timeout"
	// KindMalformedResponse indicates the response body did not parse or
	// did not have the expected shape.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindUpstream indicates the upstream answered but reported a failure,
	// either via HTTP status or via the response envelope.
	KindUpstream ErrorKind = "upstream"
)

// Error is the typed failure returned by the courier client.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	// RawBody holds the unparseable payload for malformed_response errors.
	RawBody []byte
	Err     error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("courier api %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("courier api %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may succeed on retry. Network and
// timeout failures are always transient; upstream failures only when the
// status indicates overload or a server-side fault.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindUpstream:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// AsError extracts a courier *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
