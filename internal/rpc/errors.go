package rpc

import "errors"

var (
	ErrTransport = errors.New("rpc: transport error")
	ErrTimeout   = errors.New("rpc: timeout")
	ErrProtocol  = errors.New("rpc: malformed response")
	// ErrRetry means no backend produced a usable answer; the caller should
	// retry the whole flow later.
	ErrRetry = errors.New("rpc: backend unavailable")
)

// Fallback reports whether err should move the call to the other backend.
func Fallback(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
