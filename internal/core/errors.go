package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeServerNotFound = "server_not_found"
	ErrCodeNotReady       = "not_ready"
)

var (
	// ErrStopped is returned by Do once the router loop has exited.
	ErrStopped = errors.New("router stopped")
	// ErrDuplicateServer is returned by AddServer for a key that is already registered.
	ErrDuplicateServer = errors.New("duplicate server key")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
