package voice

import (
	"context"
	"errors"
)

var (
	// ErrPermission means the bot account lacks the rights for the request.
	ErrPermission = errors.New("voice: permission denied")
	// ErrTimeout means the server did not answer in time.
	ErrTimeout = errors.New("voice: request timed out")
	// ErrTransport means the connection itself failed.
	ErrTransport = errors.New("voice: transport error")
	// ErrNotFound means a channel or user does not exist.
	ErrNotFound = errors.New("voice: not found")
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("voice: client closed")
)

// IsRetryable reports whether err is a connection-level failure that a
// reconnect or a later retry can fix.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}
