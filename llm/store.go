package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultSubjectPrefix is the NATS subject prefix for call records.
const DefaultSubjectPrefix = "llmgate.calls"

// CallRecord describes a single completion call.
type CallRecord struct {
	// RequestID uniquely identifies this call.
	RequestID string `json:"request_id"`

	// TraceID is the OpenTelemetry trace the call ran under (if any).
	TraceID string `json:"trace_id,omitempty"`

	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop"`
	Temperature float64  `json:"temperature"`

	// Response is the trimmed completion text (empty on failure).
	Response string `json:"response,omitempty"`

	Outcome Outcome `json:"outcome"`

	// Error contains the error message if the call failed.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// Publisher is the part of jetstream.JetStream the store needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// CallStore publishes call records to JetStream, one subject per outcome.
type CallStore struct {
	js     Publisher
	prefix string
	logger *slog.Logger
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithSubjectPrefix sets the subject prefix; records go to <prefix>.<outcome>.
func WithSubjectPrefix(prefix string) CallStoreOption {
	return func(s *CallStore) {
		s.prefix = prefix
	}
}

// WithStoreLogger sets the logger for the call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCallStore creates a new call store.
func NewCallStore(js Publisher, opts ...CallStoreOption) (*CallStore, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream publisher required")
	}

	s := &CallStore{
		js:     js,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Subject returns the subject a record with the given outcome is published to.
func (s *CallStore) Subject(outcome Outcome) string {
	return s.prefix + "." + string(outcome)
}

// Store publishes a call record.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	subject := s.Subject(record.Outcome)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(record.RequestID)); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	s.logger.Debug("Published call record",
		"subject", subject,
		"request_id", record.RequestID,
		"trace_id", record.TraceID)

	return nil
}

// EnsureStream creates or updates the stream capturing <prefix>.>.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{prefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}
