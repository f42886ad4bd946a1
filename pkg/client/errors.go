package client

import "errors"

// Errors the client maps from transport failures and status codes. Callers
// compare with errors.Is.
var (
	// ErrDaemonNotRunning means nothing listens on the socket.
	ErrDaemonNotRunning = errors.New("linepark daemon not running")
	// ErrPermissionDenied means the socket exists but the caller may not open it.
	ErrPermissionDenied = errors.New("permission denied on daemon socket")
	// ErrNotFound is a 404, usually a daemon older than the client.
	ErrNotFound = errors.New("404 not found")
	// ErrUnavailable is a 503, e.g. history from a daemon running without a journal.
	ErrUnavailable = errors.New("503 feature unavailable on this daemon")
)
