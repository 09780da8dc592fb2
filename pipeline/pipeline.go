// Package pipeline runs fixed sequences of completion stages.
//
// A pipeline threads a State through its stages in order. Each stage sees
// the state produced by every stage before it and returns the fields it
// adds or replaces. Stages never run concurrently within one run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/c360studio/llmgate/llm"
	"github.com/c360studio/llmgate/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// State is the data threaded between stages, keyed by field name.
type State map[string]string

// Clone returns an independent copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// String renders the state as JSON for span attributes.
func (s State) String() string {
	data, err := json.Marshal(map[string]string(s))
	if err != nil {
		return fmt.Sprintf("%v", map[string]string(s))
	}
	return string(data)
}

// StageFunc runs one stage against the accumulated state and returns the
// fields it produces.
type StageFunc func(ctx context.Context, in State) (State, error)

// Stage is one named step of a pipeline.
type Stage struct {
	Name   string
	Params llm.Params
	Run    StageFunc
}

// StageError reports which stage aborted a run.
type StageError struct {
	Pipeline string
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", e.Pipeline, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline is an ordered list of stages. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	name   string
	stages []Stage
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer sets the tracer used for pipeline and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline that runs stages in the given order.
func New(name string, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:   name,
		stages: stages,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every stage in order starting from seed. The first failing
// stage aborts the run and no partial state is returned. seed is not modified.
func (p *Pipeline) Run(ctx context.Context, seed State) (State, error) {
	return telemetry.Annotate(ctx, p.tracer, p.name, telemetry.Annotation{Input: seed.String()},
		func(ctx context.Context) (State, error) {
			start := time.Now()
			state := seed.Clone()

			for _, stage := range p.stages {
				if err := ctx.Err(); err != nil {
					return nil, &StageError{Pipeline: p.name, Stage: stage.Name, Err: err}
				}

				update, err := p.runStage(ctx, stage, state)
				if err != nil {
					p.logger.Warn("Pipeline stage failed",
						"pipeline", p.name,
						"stage", stage.Name,
						"error", err)
					return nil, &StageError{Pipeline: p.name, Stage: stage.Name, Err: err}
				}
				maps.Copy(state, update)
			}

			p.logger.Debug("Pipeline completed",
				"pipeline", p.name,
				"stages", len(p.stages),
				"duration", time.Since(start))
			return state, nil
		})
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, state State) (State, error) {
	a := telemetry.Annotation{
		Input:       state.String(),
		MaxTokens:   stage.Params.MaxTokens,
		Temperature: stage.Params.Temperature,
	}
	return telemetry.Annotate(ctx, p.tracer, p.name+"."+stage.Name, a,
		func(ctx context.Context) (State, error) {
			// Stages get a copy so a misbehaving stage cannot mutate the run state.
			return stage.Run(ctx, state.Clone())
		})
}
