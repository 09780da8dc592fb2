package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil", err: nil, want: OutcomeSuccess},
		{name: "timeout", err: &TimeoutError{Err: context.DeadlineExceeded}, want: OutcomeTimeout},
		{name: "unavailable", err: &UnavailableError{Err: cause}, want: OutcomeUnavailable},
		{name: "rejected", err: &RejectedError{StatusCode: 500, Body: "boom"}, want: OutcomeRejected},
		{name: "protocol", err: &ProtocolError{Detail: "response has no choices"}, want: OutcomeProtocol},
		{name: "wrapped rejected", err: fmt.Errorf("stage failed: %w", &RejectedError{StatusCode: 400}), want: OutcomeRejected},
		{name: "invalid", err: fmt.Errorf("%w: prompt is empty", ErrInvalidRequest), want: OutcomeInvalid},
		{name: "canceled", err: fmt.Errorf("completion canceled: %w", context.Canceled), want: OutcomeCanceled},
		{name: "bare deadline", err: context.DeadlineExceeded, want: OutcomeTimeout},
		{name: "unknown", err: errors.New("template missing"), want: OutcomeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("tls: handshake failure")

	assert.ErrorIs(t, &UnavailableError{Err: cause}, cause)
	assert.ErrorIs(t, &TimeoutError{Err: context.DeadlineExceeded}, context.DeadlineExceeded)
	assert.ErrorIs(t, &ProtocolError{Detail: "decode response", Err: cause}, cause)
}

func TestRejectedError_TruncatesMessageNotBody(t *testing.T) {
	body := strings.Repeat("x", 500)
	err := &RejectedError{StatusCode: 503, Body: body}

	assert.Contains(t, err.Error(), "status 503")
	assert.Less(t, len(err.Error()), 300)
	assert.Len(t, err.Body, 500)
}
