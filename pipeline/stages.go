package pipeline

import (
	"context"
	"fmt"

	"github.com/c360studio/llmgate/llm"
	"github.com/c360studio/llmgate/prompts"
)

// Renderer renders a named prompt template.
type Renderer interface {
	Render(name string, vars map[string]string) (string, error)
}

// CompletionStage builds a stage that renders template with the value of the
// input field, sends it to the completer and writes the trimmed text to the
// output field. The template sees the input under the input field's name.
func CompletionStage(name string, completer llm.Completer, renderer Renderer, template, input, output string, params llm.Params) Stage {
	return Stage{
		Name:   name,
		Params: params,
		Run: func(ctx context.Context, in State) (State, error) {
			value, ok := in[input]
			if !ok {
				return nil, fmt.Errorf("missing field %q", input)
			}

			prompt, err := renderer.Render(template, map[string]string{input: value})
			if err != nil {
				return nil, err
			}

			resp, err := completer.Complete(ctx, params.Request(prompt))
			if err != nil {
				return nil, err
			}
			return State{output: resp.Text}, nil
		},
	}
}

// Rephrase pipeline names and fields.
const (
	RephrasePipeline     = "rephrase"
	StageInitialRephrase = "initial_rephrase"
	StageRefineRephrase  = "refine_rephrase"

	FieldUserText = prompts.VarUserText
	FieldDraft    = prompts.VarDraft
	FieldFinal    = "final"
)

// RephraseParams are the generation parameters of both rephrase stages.
var RephraseParams = llm.Params{
	MaxTokens:   1000,
	Stop:        []string{"\n\n"},
	Temperature: 0.0,
}

// Rephraser rewrites free text in two completion passes: a first rewrite,
// then a refinement of that draft.
type Rephraser struct {
	pipeline *Pipeline
}

// NewRephrase builds the two-stage rephrase pipeline.
func NewRephrase(completer llm.Completer, renderer Renderer, opts ...Option) *Rephraser {
	stages := []Stage{
		CompletionStage(StageInitialRephrase, completer, renderer,
			prompts.Rephrase, FieldUserText, FieldDraft, RephraseParams),
		CompletionStage(StageRefineRephrase, completer, renderer,
			prompts.RefineRephrase, FieldDraft, FieldFinal, RephraseParams),
	}
	return &Rephraser{pipeline: New(RephrasePipeline, stages, opts...)}
}

// Pipeline returns the underlying pipeline.
func (r *Rephraser) Pipeline() *Pipeline {
	return r.pipeline
}

// Rephrase returns the refined rewrite of text.
func (r *Rephraser) Rephrase(ctx context.Context, text string) (string, error) {
	out, err := r.pipeline.Run(ctx, State{FieldUserText: text, FieldDraft: "", FieldFinal: ""})
	if err != nil {
		return "", err
	}
	return out[FieldFinal], nil
}
