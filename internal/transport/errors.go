package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, transport.ErrServerRejected) to check.
var (
	// ErrTransport covers connection failures, timeouts and cancellation.
	ErrTransport = errors.New("transport: request failed")

	// ErrServerRejected is a non-2xx status, or a 2xx response whose JSON
	// body reports status 404.
	ErrServerRejected = errors.New("transport: server rejected batch")
)

// ResponseError wraps ErrServerRejected with the HTTP status and, when the
// rejection came from the body, the body text.
type ResponseError struct {
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *ResponseError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Body)
	}

	return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
