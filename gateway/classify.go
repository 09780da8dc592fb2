package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/llmgate/llm"
)

// ErrNoJSONObject means the completion text has no '{' or no '}' at all.
var ErrNoJSONObject = errors.New("completion output does not contain a JSON object")

// ErrNullField means a classification category was present but null.
var ErrNullField = errors.New("classification field is null")

// MalformedOutputError means a successful completion could not be turned
// into a classification. Output is the raw completion text.
type MalformedOutputError struct {
	Output string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed classification output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// FeedbackClassification is interview feedback split into six categories.
// A category the text does not mention is the empty string.
type FeedbackClassification struct {
	Impression string `json:"impression"`
	Attraction string `json:"attraction"`
	Concern    string `json:"concern"`
	Aspiration string `json:"aspiration"`
	NextStep   string `json:"next_step"`
	Other      string `json:"other"`
}

var classificationFields = []string{"impression", "attraction", "concern", "aspiration", "next_step", "other"}

// ParseClassification extracts the classification object from completion
// text. The candidate is everything from the first '{' to the last '}'; it is
// decoded as-is with no repair. Missing fields default to "", unknown
// fields are ignored and a null category is rejected.
func ParseClassification(text string) (FeedbackClassification, error) {
	var out FeedbackClassification

	candidate, found := llm.ExtractJSONObject(text)
	if !found {
		return out, &MalformedOutputError{Output: text, Err: ErrNoJSONObject}
	}

	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return FeedbackClassification{}, &MalformedOutputError{Output: text, Err: err}
	}

	// encoding/json leaves a string at "" for null; the categories must be strings.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return FeedbackClassification{}, &MalformedOutputError{Output: text, Err: err}
	}
	for _, field := range classificationFields {
		if v, ok := raw[field]; ok && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return FeedbackClassification{}, &MalformedOutputError{Output: text, Err: fmt.Errorf("%w: %s", ErrNullField, field)}
		}
	}
	return out, nil
}
