// Package errkind classifies errors the way DefaultErrorClassifier does in
// the gomind/resilience reference package: by error code, message substring,
// and recursively through the wrapped cause, rather than by concrete type.
package errkind

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an error as transport-level, a durable-store transient,
// or something else entirely.
type Kind int

const (
	// Other errors are not counted against the breaker: validation,
	// schema, or library-misuse failures.
	Other Kind = iota
	// Transport errors are connection-level failures; they count against
	// the circuit breaker and trigger fallback to the durable store.
	Transport
	// DurableTransient errors indicate the local store is momentarily
	// locked or busy; the write handler retries these directly.
	DurableTransient
)

var transportSubstrings = []string{
	"econnrefused",
	"etimedout",
	"enotfound",
	"econnreset",
	"epipe",
	"connection refused",
	"connection reset",
	"no route to host",
	"dial tcp",
	"i/o timeout",
	"broken pipe",
	"stream isnotwriteable",
	"stream not writable",
	"offline queue",
	"use of closed network connection",
}

var durableTransientSubstrings = []string{
	"database is locked",
	"sqlite_busy",
	"database table is locked",
}

// Classify inspects err and, recursively, its wrapped cause.
func Classify(err error) Kind {
	if err == nil {
		return Other
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transportSubstrings {
		if strings.Contains(msg, s) {
			return Transport
		}
	}
	for _, s := range durableTransientSubstrings {
		if strings.Contains(msg, s) {
			return DurableTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transport
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.ECONNRESET, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return Transport
		}
	}

	if wrapped := errors.Unwrap(err); wrapped != nil {
		return Classify(wrapped)
	}
	return Other
}
