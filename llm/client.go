// Package llm provides the completion client for a text-completion backend.
// It issues exactly one HTTP call per request and classifies the outcome
// into typed errors; it never retries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/llmgate/config"
	"github.com/c360studio/llmgate/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// maxResponseSize limits the backend response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultTimeout bounds a single completion call when none is configured.
const DefaultTimeout = 60 * time.Second

// completionsPath is appended to the backend base URL.
const completionsPath = "/v1/completions"

// Completer issues a single completion call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Params are the generation parameters of a completion request.
type Params struct {
	// MaxTokens limits the generated length. Must be positive.
	MaxTokens int

	// Stop sequences truncate output before the first match.
	Stop []string

	// Temperature controls randomness; 0 is deterministic.
	Temperature float64
}

// Request builds a completion request for prompt with these parameters.
func (p Params) Request(prompt string) Request {
	return Request{
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Stop:        p.Stop,
		Temperature: p.Temperature,
	}
}

// Request defines a completion request. Echo is always false on the wire.
type Request struct {
	Prompt      string
	MaxTokens   int
	Stop        []string
	Temperature float64
}

// Validate reports whether the request can be sent.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidRequest, r.MaxTokens)
	}
	return nil
}

// Response contains the completion result.
type Response struct {
	// RequestID uniquely identifies this call for log and record correlation.
	RequestID string

	// Text is the first choice's text with surrounding whitespace removed.
	Text string

	// Duration is the wall time of the call, including any wait for a slot.
	Duration time.Duration
}

// completionRequest is the backend wire format.
type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop"`
	Temperature float64  `json:"temperature"`
	Echo        bool     `json:"echo"`
}

// completionResponse is the subset of the backend reply that is read.
type completionResponse struct {
	Choices []struct {
		Text *string `json:"text"`
	} `json:"choices"`
}

// Client is a completion client for one backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	slots      *semaphore.Weighted
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics

	// callStore optionally publishes a record of every call.
	// If nil, call recording is disabled.
	callStore *CallStore
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.timeout = d
		}
	}
}

// WithModel sets the model name sent to the backend.
func WithModel(model string) ClientOption {
	return func(client *Client) {
		client.model = model
	}
}

// WithMaxConcurrency bounds in-flight backend calls. n <= 0 means unbounded.
func WithMaxConcurrency(n int) ClientOption {
	return func(client *Client) {
		if n > 0 {
			client.slots = semaphore.NewWeighted(int64(n))
		} else {
			client.slots = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithTracer sets the tracer used for llm.complete spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(client *Client) {
		client.tracer = tracer
	}
}

// WithMetrics sets the Prometheus collectors updated per call.
func WithMetrics(m *Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// WithCallStore sets the call store for call records.
func WithCallStore(store *CallStore) ClientOption {
	return func(client *Client) {
		client.callStore = store
	}
}

// NewClient creates a completion client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig creates a client from backend configuration.
// Options are applied after the configuration and may override it.
func NewClientFromConfig(cfg config.BackendConfig, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithTimeout(cfg.Timeout),
		WithModel(cfg.Model),
		WithMaxConcurrency(cfg.MaxConcurrency),
	}
	return NewClient(cfg.URL, append(base, opts...)...)
}

// CompletionsURL returns the endpoint completion requests are posted to.
func (c *Client) CompletionsURL() string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + "/completions"
	}
	return c.baseURL + completionsPath
}

// Complete sends a single completion request. Failures are one of
// *TimeoutError, *UnavailableError, *RejectedError or *ProtocolError,
// or the caller's context.Canceled.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	startedAt := time.Now()
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	text, err := telemetry.Annotate(ctx, c.tracer, "llm.complete",
		telemetry.Annotation{Input: req.Prompt, MaxTokens: req.MaxTokens, Temperature: req.Temperature},
		func(ctx context.Context) (string, error) {
			return c.do(ctx, requestID, req)
		})

	duration := time.Since(startedAt)
	outcome := Classify(err)
	c.metrics.observe(outcome, duration)

	record := &CallRecord{
		RequestID:   requestID,
		TraceID:     traceID,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Temperature: req.Temperature,
		Response:    text,
		Outcome:     outcome,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(duration),
		DurationMs:  duration.Milliseconds(),
	}

	if err != nil {
		record.Error = err.Error()
		c.logFailure(requestID, req, outcome, err)
		c.recordCall(ctx, record)
		return nil, err
	}

	c.logger.Debug("Completion succeeded",
		"request_id", requestID,
		"duration", duration,
		"chars", len(text))
	c.recordCall(ctx, record)

	return &Response{RequestID: requestID, Text: text, Duration: duration}, nil
}

// do executes a single HTTP request to the backend.
func (c *Client) do(ctx context.Context, requestID string, req Request) (string, error) {
	// The deadline covers the wait for a slot as well as the request.
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.slots != nil {
		if err := c.slots.Acquire(callCtx, 1); err != nil {
			return "", contextError(err)
		}
		defer c.slots.Release(1)
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Stop:        stopOrEmpty(req.Stop),
		Temperature: req.Temperature,
		Echo:        false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.CompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", &UnavailableError{Err: fmt.Errorf("create HTTP request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("Sending completion request",
		"request_id", requestID,
		"url", httpReq.URL.String(),
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature)

	c.metrics.inflightInc()
	defer c.metrics.inflightDec()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, callCtx, err)
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return "", transportError(ctx, callCtx, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &RejectedError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	return parseCompletion(respBody)
}

// parseCompletion extracts the trimmed text of the first choice.
func parseCompletion(body []byte) (string, error) {
	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ProtocolError{Detail: "decode response", Body: string(body), Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &ProtocolError{Detail: "response has no choices", Body: string(body)}
	}
	if out.Choices[0].Text == nil {
		return "", &ProtocolError{Detail: "first choice has no text", Body: string(body)}
	}
	return strings.TrimSpace(*out.Choices[0].Text), nil
}

// transportError classifies a failure to get a response. Caller
// cancellation wins over everything else; an expired deadline (ours or the
// caller's) is a timeout; anything else means the backend was unreachable.
func transportError(parent, callCtx context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("completion canceled: %w", context.Canceled)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &UnavailableError{Err: err}
}

// contextError classifies a context failure seen before the request was sent.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: fmt.Errorf("waiting for backend slot: %w", err)}
	}
	return fmt.Errorf("waiting for backend slot: %w", err)
}

func (c *Client) logFailure(requestID string, req Request, outcome Outcome, err error) {
	attrs := []any{
		"request_id", requestID,
		"outcome", outcome,
		"prompt", req.Prompt,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
		"stop", req.Stop,
		"error", err,
	}

	var rejected *RejectedError
	var protocol *ProtocolError
	switch {
	case errors.As(err, &rejected):
		attrs = append(attrs, "status", rejected.StatusCode, "body", rejected.Body)
	case errors.As(err, &protocol):
		attrs = append(attrs, "body", protocol.Body)
	}

	if outcome == OutcomeCanceled {
		c.logger.Debug("Completion canceled by caller", attrs...)
		return
	}
	c.logger.Warn("Completion failed", attrs...)
}

// recordCall stores a call record if the call store is configured.
// Failures are logged but don't affect the call itself.
func (c *Client) recordCall(ctx context.Context, record *CallRecord) {
	if c.callStore == nil {
		return
	}

	// Records are published even when the caller has gone away.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := c.callStore.Store(storeCtx, record); err != nil {
		c.logger.Warn("Failed to record completion call",
			"request_id", record.RequestID,
			"outcome", record.Outcome,
			"error", err)
	}
}

func stopOrEmpty(stop []string) []string {
	if stop == nil {
		return []string{}
	}
	return stop
}
