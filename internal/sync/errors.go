package sync

import (
	"errors"

	"github.com/tonimelisma/aware-sync/internal/request"
	"github.com/tonimelisma/aware-sync/internal/transport"
)

// Session failure sentinels. Every error delivered to a CompletionFunc
// matches one of these (or a source/cursor error) under errors.Is.
var (
	// ErrSerialization: the batch held a value JSON cannot encode. The
	// cursor is left unchanged.
	ErrSerialization = request.ErrSerialization

	// ErrTransport: connection failure, timeout or cancellation.
	ErrTransport = transport.ErrTransport

	// ErrServerRejected: non-2xx status, or a 2xx body reporting status 404.
	ErrServerRejected = transport.ErrServerRejected

	// ErrConcurrencyExhausted: Run kept finding the engine busy until the
	// retry budget ran out. The blocking session was force-stopped.
	ErrConcurrencyExhausted = errors.New("sync: max retry attempts reached")

	// ErrConfiguration is returned by NewEngine for an unusable Config.
	ErrConfiguration = errors.New("sync: invalid configuration")

	// ErrStopped completes a session ended by StopGracefully,
	// StopImmediately or a forced reset.
	ErrStopped = errors.New("sync: session stopped")

	// ErrStaleSession completes a session reaped by the staleness guard.
	ErrStaleSession = errors.New("sync: session stale")

	// ErrClosed is reported to Run callers after Close.
	ErrClosed = errors.New("sync: engine closed")

	// ErrInvalidRecord: a fetched record has no integer id.
	ErrInvalidRecord = errors.New("sync: record without integer id")
)

// errBusy marks a start attempt that found a session in progress.
var errBusy = errors.New("sync: engine busy")
