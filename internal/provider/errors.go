package provider

import (
	"context"
	"net"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Failure classes surfaced to callers. Transport and parse failures have been
// retried up to the attempt ceiling before they carry one of these marks.
var (
	ErrUnavailable       = errors.New("provider unavailable")
	ErrResponseInvalid   = errors.New("provider response invalid")
	ErrDeclined          = errors.New("provider declined request")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// Transport cause marks, attached by the client so DescribeError can map the
// last underlying cause to a caller-facing message without leaking detail.
var (
	errReset        = errors.New("connection reset")
	errRefused      = errors.New("connection refused")
	errUnresolvable = errors.New("host unresolvable")
	errTimeout      = errors.New("request timeout")
	errParse        = errors.New("response parse failure")
)

// DeclinedError carries the provider's own message for a well-formed logical
// failure. Not retried.
type DeclinedError struct {
	Provider string
	Message  string
}

func (e *DeclinedError) Error() string {
	return e.Provider + ": " + e.Message
}

func declined(provider, message string) error {
	return errors.Mark(&DeclinedError{Provider: provider, Message: message}, ErrDeclined)
}

// DeclineMessage extracts the provider's message from a declined error, or
// returns fallback.
func DeclineMessage(err error, fallback string) string {
	var de *DeclinedError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return fallback
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(err, errTimeout)
	case errors.Is(err, syscall.ECONNRESET):
		return errors.Mark(err, errReset)
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Mark(err, errRefused)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.Mark(err, errUnresolvable)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Mark(err, errTimeout)
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, errReset) ||
		errors.Is(err, errRefused) ||
		errors.Is(err, errUnresolvable) ||
		errors.Is(err, errTimeout) ||
		errors.Is(err, errParse)
}

// Describe maps a provider failure to the message shown to API callers.
func Describe(err error) string {
	switch {
	case errors.Is(err, errReset):
		return "Connection to payment service was reset. Please try again."
	case errors.Is(err, errUnresolvable):
		return "Unable to reach payment service. Please check your connection."
	case errors.Is(err, errRefused):
		return "Payment service refused connection. Please try again later."
	case errors.Is(err, errTimeout):
		return "Payment service timeout. Please try again."
	case errors.Is(err, ErrResponseInvalid):
		return "Payment service returned an invalid response. Please try again."
	default:
		return "Payment service temporarily unavailable"
	}
}
