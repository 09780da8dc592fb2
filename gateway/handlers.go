// Package gateway exposes completion-backed operations over HTTP.
//
// Handlers build prompts, call the completion client or a pipeline, and turn
// the result into JSON. This is the only layer that maps errors to HTTP
// statuses.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360studio/llmgate/llm"
	"github.com/c360studio/llmgate/prompts"
	"github.com/c360studio/llmgate/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// RequestIDHeader carries the completion request id back to the caller.
const RequestIDHeader = "X-Request-ID"

// Generation parameters per route.
var (
	ChatParams = llm.Params{
		MaxTokens:   500,
		Stop:        []string{"User:", "Assistant:", "\n\n"},
		Temperature: 0.7,
	}
	AnalyzeParams = llm.Params{
		MaxTokens:   300,
		Stop:        []string{"\n\n"},
		Temperature: 0.7,
	}
	DeepDiveParams = llm.Params{
		MaxTokens:   300,
		Stop:        []string{"\n\n"},
		Temperature: 0.7,
	}
	ClassifyParams = llm.Params{
		MaxTokens:   500,
		Stop:        []string{"```"},
		Temperature: 0.1,
	}
)

// Renderer renders a named prompt template.
type Renderer interface {
	Render(name string, vars map[string]string) (string, error)
}

// Rephraser rewrites free text.
type Rephraser interface {
	Rephrase(ctx context.Context, text string) (string, error)
}

// Handler serves the gateway routes.
type Handler struct {
	completer llm.Completer
	rephraser Rephraser
	prompts   Renderer
	tracer    trace.Tracer
	logger    *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTracer sets the tracer for handler spans.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) {
		h.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(completer llm.Completer, rephraser Rephraser, renderer Renderer, opts ...HandlerOption) *Handler {
	h := &Handler{
		completer: completer,
		rephraser: rephraser,
		prompts:   renderer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterHTTPHandlers registers the gateway routes under the given prefix.
// An empty prefix mounts them at the root:
//
//	POST <prefix>/chat
//	POST <prefix>/chat/analyze
//	POST <prefix>/chat/deep_dive_questions
//	POST <prefix>/chat/rephrase
//	POST <prefix>/classify-feedback
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc("POST "+prefix+"chat", h.handleChat)
	mux.HandleFunc("POST "+prefix+"chat/analyze", h.handleAnalyze)
	mux.HandleFunc("POST "+prefix+"chat/deep_dive_questions", h.handleDeepDive)
	mux.HandleFunc("POST "+prefix+"chat/rephrase", h.handleRephrase)
	mux.HandleFunc("POST "+prefix+"classify-feedback", h.handleClassifyFeedback)
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// TextRequest is the body of the single-text routes.
type TextRequest struct {
	Text string `json:"text"`
}

// ReplyResponse is the body of a successful text reply.
type ReplyResponse struct {
	Reply string `json:"reply"`
}

// ----------------------------------------------------------------------------
// POST /chat
// ----------------------------------------------------------------------------

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	prompt, err := h.prompts.Render(prompts.ChatSystem, map[string]string{
		prompts.VarConversation: BuildConversation(req.Messages),
	})
	if err != nil {
		h.fail(w, r, "chat", err)
		return
	}

	h.complete(w, r, "chat", prompt, ChatParams)
}

// BuildConversation renders chat history as one "User: " or "Assistant: "
// line per message, each ending in a newline.
func BuildConversation(messages []ChatMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Sender == "user" {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ----------------------------------------------------------------------------
// POST /chat/analyze, POST /chat/deep_dive_questions
// ----------------------------------------------------------------------------

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	h.handleTemplate(w, r, "analyze", prompts.AnalyzeChat, AnalyzeParams)
}

func (h *Handler) handleDeepDive(w http.ResponseWriter, r *http.Request) {
	h.handleTemplate(w, r, "deep_dive_questions", prompts.DeepDiveQuestions, DeepDiveParams)
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request, op, template string, params llm.Params) {
	text, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	prompt, err := h.prompts.Render(template, map[string]string{prompts.VarUserText: text})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.complete(w, r, op, prompt, params)
}

// ----------------------------------------------------------------------------
// POST /chat/rephrase
// ----------------------------------------------------------------------------

func (h *Handler) handleRephrase(w http.ResponseWriter, r *http.Request) {
	text, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	reply, err := h.rephraser.Rephrase(r.Context(), text)
	if err != nil {
		h.fail(w, r, "rephrase", err)
		return
	}

	writeJSON(w, http.StatusOK, ReplyResponse{Reply: reply})
}

// ----------------------------------------------------------------------------
// POST /classify-feedback
// ----------------------------------------------------------------------------

func (h *Handler) handleClassifyFeedback(w http.ResponseWriter, r *http.Request) {
	text, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	result, err := telemetry.Annotate(r.Context(), h.tracer, "gateway.classify_feedback",
		telemetry.Annotation{Input: text},
		func(ctx context.Context) (FeedbackClassification, error) {
			return h.classify(ctx, w, text)
		})
	if err != nil {
		var malformed *MalformedOutputError
		if errors.As(err, &malformed) {
			h.logger.Warn("Classification output could not be parsed",
				"error", malformed.Err,
				"output", malformed.Output)
		}
		h.fail(w, r, "classify_feedback", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) classify(ctx context.Context, w http.ResponseWriter, text string) (FeedbackClassification, error) {
	prompt, err := h.prompts.Render(prompts.ClassifyFeedback, map[string]string{prompts.VarUserText: text})
	if err != nil {
		return FeedbackClassification{}, err
	}

	resp, err := h.completer.Complete(ctx, ClassifyParams.Request(prompt))
	if err != nil {
		return FeedbackClassification{}, err
	}
	setRequestID(w, resp)

	return ParseClassification(resp.Text)
}

// complete issues one completion and writes the reply.
func (h *Handler) complete(w http.ResponseWriter, r *http.Request, op, prompt string, params llm.Params) {
	resp, err := h.completer.Complete(r.Context(), params.Request(prompt))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	setRequestID(w, resp)

	h.logger.Debug("Completion reply", "op", op, "request_id", resp.RequestID, "duration", resp.Duration)
	writeJSON(w, http.StatusOK, ReplyResponse{Reply: resp.Text})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	h.logger.Error("Gateway request failed",
		"op", op,
		"path", r.URL.Path,
		"status", status,
		"outcome", llm.Classify(err),
		"error", err)
	writeError(w, status, msg)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

func (h *Handler) decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req TextRequest
	if !h.decode(w, r, &req) {
		return "", false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return "", false
	}
	return req.Text, true
}

func setRequestID(w http.ResponseWriter, resp *llm.Response) {
	if resp.RequestID != "" {
		w.Header().Set(RequestIDHeader, resp.RequestID)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
