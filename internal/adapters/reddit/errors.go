package reddit

import (
	"errors"
	"net"
)

// Sentinel kinds for upstream errors.
var (
	// ErrUpstream marks server side and network failures. Callers treat it
	// as a reason to back off rather than a bug.
	ErrUpstream  = errors.New("reddit upstream failure")
	ErrNotFound  = errors.New("reddit resource not found")
	ErrForbidden = errors.New("reddit request forbidden")
	ErrAuth      = errors.New("reddit authentication failed")
	ErrAPI       = errors.New("reddit api error")
)

// IsUpstream reports whether err was caused by reddit being unavailable.
func IsUpstream(err error) bool {
	if errors.Is(err, ErrUpstream) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("comment stream closed")
