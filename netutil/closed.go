// Package netutil classifies connection errors seen while proxying so callers
// can pick a log level: a peer hanging up is routine, a stalled peer is
// worth a warning, anything else is a failure.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind is the class of a connection error.
type ErrorKind uint8

const (
	// KindNone is a nil error.
	KindNone ErrorKind = iota
	// KindClosed is a normal hang-up: EOF, a closed connection, a broken
	// pipe or a reset.
	KindClosed
	// KindTimeout is an expired deadline or dial timeout.
	KindTimeout
	// KindFailure is every other error.
	KindFailure
)

// Classify returns the ErrorKind of err. Wrapped errors are unwrapped.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return KindClosed
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return KindClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	return KindFailure
}

// IsExpectedCloseError reports whether err is a normal connection
// termination. A proxy sees these whenever one peer hangs up while the other
// direction still has a read or write in flight.
func IsExpectedCloseError(err error) bool {
	return Classify(err) == KindClosed
}

// IsTimeout reports whether err comes from an expired deadline.
func IsTimeout(err error) bool {
	return Classify(err) == KindTimeout
}
