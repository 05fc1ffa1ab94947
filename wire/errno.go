package wire

import (
	"errors"
	"syscall"
)

// ErrProtocol marks a protocol violation on write: a length mismatch, or a
// non-empty body accompanying a nonzero error (spec §4.3, §4.8). It is
// distinct from any syscall.Errno so that callers can tell "kill the
// session" apart from "surface this errno".
var ErrProtocol = errors.New("wire: protocol violation")

// NormalizeError converts a raw wire error value (the negation of a small
// positive errno, per spec §4.1) into the syscall.Errno the rest of the
// stack works with. A raw value of zero yields a nil error.
func NormalizeError(raw int32) error {
	if raw == 0 {
		return nil
	}

	n := raw
	if n < 0 {
		n = -n
	}

	return syscall.Errno(n)
}

// DenormalizeError converts a Go error (expected to be, or unwrap to, a
// syscall.Errno) into the raw negative wire value the server writes back.
// Any other error is reported as EIO, matching the teacher's practice of
// never leaking internal error types across the wire.
func DenormalizeError(err error) int32 {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}

	return -int32(syscall.EIO)
}
