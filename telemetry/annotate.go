// Package telemetry wraps units of work in OpenTelemetry spans.
//
// Annotate is purely observational: it records what went in, what came out
// and whether the work failed, and hands back exactly what the work returned.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/c360studio/llmgate"

// Span attribute keys.
const (
	InputValueKey   = attribute.Key("input.value")
	OutputValueKey  = attribute.Key("output.value")
	MaxTokensKey    = attribute.Key("llm.max_tokens")
	TemperatureKey  = attribute.Key("llm.temperature")
	ErrorKey        = attribute.Key("error")
	ErrorMessageKey = attribute.Key("error.message")
)

// Annotation is what gets recorded before the wrapped work runs.
// The generation settings are recorded only when MaxTokens is positive,
// so work that makes no completion call leaves them off the span.
type Annotation struct {
	Input       string
	MaxTokens   int
	Temperature float64
}

// Annotate runs fn inside a span named name, a child of any span in ctx.
// fn receives the span's context so spans it starts nest beneath it.
// The span always ends, including when fn panics.
func Annotate[T any](ctx context.Context, tracer trace.Tracer, name string, a Annotation, fn func(context.Context) (T, error)) (T, error) {
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}

	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	span.SetAttributes(InputValueKey.String(a.Input))
	if a.MaxTokens > 0 {
		span.SetAttributes(
			MaxTokensKey.Int(a.MaxTokens),
			TemperatureKey.Float64(a.Temperature),
		)
	}

	result, err := fn(ctx)
	if err != nil {
		span.SetAttributes(
			ErrorKey.Bool(true),
			ErrorMessageKey.String(err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetAttributes(OutputValueKey.String(outputValue(result)))
	return result, nil
}

// outputValue renders a result for the output.value attribute.
func outputValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
