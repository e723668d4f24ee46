// Package netx classifies transport-level errors.
package netx

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsDisconnect reports whether err means the peer went away or the
// connection was closed locally, as opposed to a server-side fault.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry, such as an idle
// timeout on a read.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
