package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/c360studio/llmgate/llm"
)

// StatusClientClosedRequest is reported when the caller went away before the
// work finished. The response is never seen; it shows up in logs and metrics.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a failure to an HTTP status and a client-facing message.
func statusFor(err error) (int, string) {
	var rejected *llm.RejectedError
	var malformed *MalformedOutputError

	switch {
	case llm.IsTimeout(err):
		return http.StatusGatewayTimeout, err.Error()
	case llm.IsUnavailable(err):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &rejected):
		return http.StatusBadGateway, fmt.Sprintf("backend returned status %d", rejected.StatusCode)
	case llm.IsProtocol(err):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &malformed):
		return http.StatusBadGateway, malformed.Error()
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
