package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/llmgate/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder() (*tracetest.SpanRecorder, trace.Tracer) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return rec, tp.Tracer("test")
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestAnnotate_Success(t *testing.T) {
	rec, tracer := newRecorder()

	out, err := telemetry.Annotate(context.Background(), tracer, "work",
		telemetry.Annotation{Input: "hello", MaxTokens: 300, Temperature: 0.7},
		func(ctx context.Context) (string, error) {
			return "world", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "world", out)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].Name())

	attrs := attrMap(spans[0])
	assert.Equal(t, "hello", attrs[telemetry.InputValueKey].AsString())
	assert.Equal(t, "world", attrs[telemetry.OutputValueKey].AsString())
	assert.Equal(t, int64(300), attrs[telemetry.MaxTokensKey].AsInt64())
	assert.InDelta(t, 0.7, attrs[telemetry.TemperatureKey].AsFloat64(), 1e-9)
	_, hasErr := attrs[telemetry.ErrorKey]
	assert.False(t, hasErr)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestAnnotate_ErrorPassesThroughUnchanged(t *testing.T) {
	rec, tracer := newRecorder()
	sentinel := errors.New("backend exploded")

	_, err := telemetry.Annotate(context.Background(), tracer, "work",
		telemetry.Annotation{Input: "x"},
		func(ctx context.Context) (string, error) {
			return "", sentinel
		})

	// Identity, not just errors.Is: the annotator must not wrap.
	assert.True(t, err == sentinel)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0])
	assert.True(t, attrs[telemetry.ErrorKey].AsBool())
	assert.Equal(t, "backend exploded", attrs[telemetry.ErrorMessageKey].AsString())
	_, hasOutput := attrs[telemetry.OutputValueKey]
	assert.False(t, hasOutput)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestAnnotate_GenerationSettings(t *testing.T) {
	rec, tracer := newRecorder()

	for _, a := range []telemetry.Annotation{
		{Input: "plain"},
		{Input: "greedy", MaxTokens: 1000, Temperature: 0},
	} {
		_, err := telemetry.Annotate(context.Background(), tracer, a.Input, a,
			func(ctx context.Context) (string, error) {
				return "ok", nil
			})
		require.NoError(t, err)
	}

	spans := rec.Ended()
	require.Len(t, spans, 2)

	plain := attrMap(spans[0])
	_, hasMaxTokens := plain[telemetry.MaxTokensKey]
	_, hasTemperature := plain[telemetry.TemperatureKey]
	assert.False(t, hasMaxTokens)
	assert.False(t, hasTemperature)

	greedy := attrMap(spans[1])
	assert.Equal(t, int64(1000), greedy[telemetry.MaxTokensKey].AsInt64())
	temperature, ok := greedy[telemetry.TemperatureKey]
	require.True(t, ok)
	assert.Equal(t, 0.0, temperature.AsFloat64())
}

func TestAnnotate_StructOutputIsJSON(t *testing.T) {
	rec, tracer := newRecorder()

	type result struct {
		Draft string `json:"draft"`
	}
	_, err := telemetry.Annotate(context.Background(), tracer, "work", telemetry.Annotation{},
		func(ctx context.Context) (result, error) {
			return result{Draft: "d"}, nil
		})
	require.NoError(t, err)

	attrs := attrMap(rec.Ended()[0])
	assert.JSONEq(t, `{"draft":"d"}`, attrs[telemetry.OutputValueKey].AsString())
}

func TestAnnotate_NestedSpans(t *testing.T) {
	rec, tracer := newRecorder()

	_, err := telemetry.Annotate(context.Background(), tracer, "outer", telemetry.Annotation{},
		func(ctx context.Context) (string, error) {
			return telemetry.Annotate(ctx, tracer, "inner", telemetry.Annotation{},
				func(ctx context.Context) (string, error) {
					return "ok", nil
				})
		})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	inner, outer := spans[0], spans[1]
	assert.Equal(t, "inner", inner.Name())
	assert.Equal(t, "outer", outer.Name())
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, outer.SpanContext().TraceID(), inner.SpanContext().TraceID())
}

func TestAnnotate_SpanEndsOnPanic(t *testing.T) {
	rec, tracer := newRecorder()

	assert.Panics(t, func() {
		_, _ = telemetry.Annotate(context.Background(), tracer, "boom", telemetry.Annotation{},
			func(ctx context.Context) (string, error) {
				panic("kaboom")
			})
	})

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "boom", rec.Ended()[0].Name())
}

func TestAnnotate_CanceledWorkStillEndsSpan(t *testing.T) {
	rec, tracer := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := telemetry.Annotate(ctx, tracer, "canceled", telemetry.Annotation{},
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, rec.Ended(), 1)
}

func TestAnnotate_NilTracerUsesGlobal(t *testing.T) {
	out, err := telemetry.Annotate(context.Background(), nil, "global", telemetry.Annotation{},
		func(ctx context.Context) (int, error) {
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}
