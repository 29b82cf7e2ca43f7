package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// unavailableError marks a backend that could not be reached: connect
// refused, connect timeout, or a breaker rejecting the attempt. Maps
// to 503 at the HTTP layer.
type unavailableError struct {
	backend string
	cause   error
}

func (e unavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.backend, e.cause)
}

func (e unavailableError) Unwrap() error { return e.cause }

// IsUnavailable reports whether err indicates an unreachable backend.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}

var errBreakerOpen = errors.New("circuit breaker open")

// IsBreakerOpen reports whether err is a breaker rejection, before any
// network I/O happened.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, errBreakerOpen)
}

// upstreamTimeoutError marks a request the backend accepted but did
// not answer in time. The connection worked, so this is neither
// retried nor a breaker event. Maps to 504.
type upstreamTimeoutError struct {
	backend string
	cause   error
}

func (e upstreamTimeoutError) Error() string {
	return fmt.Sprintf("backend %s timed out: %v", e.backend, e.cause)
}

func (e upstreamTimeoutError) Unwrap() error { return e.cause }

// IsUpstreamTimeout reports whether err indicates a slow backend
// response on an established connection.
func IsUpstreamTimeout(err error) bool {
	var te upstreamTimeoutError
	return errors.As(err, &te)
}

// isConnectError classifies dial-phase failures: connection refused or
// a timeout while establishing the connection. Read timeouts and HTTP
// status errors are deliberately excluded.
func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	return false
}

// isTimeoutError classifies deadline-class failures after the dial
// succeeded.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
