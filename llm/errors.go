package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned before any I/O when a Request is unusable.
var ErrInvalidRequest = errors.New("invalid completion request")

// Outcome names the result class of a single completion call.
type Outcome string

// Call outcomes. Every call resolves to exactly one of these.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeRejected    Outcome = "rejected"
	OutcomeProtocol    Outcome = "protocol_error"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeInvalid     Outcome = "invalid_request"
	OutcomeInternal    Outcome = "error"
)

// TimeoutError means the backend did not answer within the call deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// UnavailableError means the backend could not be reached
// (connection refused, DNS or TLS failure).
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RejectedError means the backend answered with a non-2xx status.
// Body is the raw response text.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected request (status %d): %s", e.StatusCode, truncate(e.Body, 200))
}

// ProtocolError means a 2xx response did not have the expected shape.
type ProtocolError struct {
	Detail string
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend protocol error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("backend protocol error: %s", e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// Classify maps an error returned by Complete to its Outcome.
// A nil error is OutcomeSuccess; an error of no known class is OutcomeInternal.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsTimeout(err):
		return OutcomeTimeout
	case IsUnavailable(err):
		return OutcomeUnavailable
	case IsRejected(err):
		return OutcomeRejected
	case IsProtocol(err):
		return OutcomeProtocol
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeInternal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
