package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/llmgate/llm"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "default.txt", "Polished text.")
	writeFixture(t, dir, "classify.txt", `{"impression":"good"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}

	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "default.1.txt", "draft")
	writeFixture(t, dir, "default.2.txt", "final")
	writeFixture(t, dir, "default.txt", "fallback")
	writeFixture(t, dir, "notes.md", "ignored")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["default"]
	if len(seq) != 3 {
		t.Fatalf("default: expected 3 fixtures, got %d", len(seq))
	}
	want := []string{"draft", "final", "fallback"}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("fixture[%d] = %q, want %q", i, seq[i], want[i])
		}
	}
	if _, ok := fixtures["notes"]; ok {
		t.Error("non-fixture file should be ignored")
	}
}

func TestLoadFixtures_NumberedOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "default.2.txt", "second")
	writeFixture(t, dir, "default.10.txt", "tenth")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["default"]
	if len(seq) != 2 || seq[0] != "second" || seq[1] != "tenth" {
		t.Fatalf("unexpected sequence: %q", seq)
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	if _, err := loadFixtures(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	s := newServer(map[string][]string{
		"default": {"draft", "final"},
	})

	for i, want := range []string{"draft", "final", "final"} {
		got := doCompletion(t, s, "", "prompt", nil)
		if got != want {
			t.Errorf("call %d: got %q, want %q", i+1, got, want)
		}
	}
}

func TestUnknownModel(t *testing.T) {
	s := newServer(map[string][]string{"default": {"x"}})

	rec := postCompletion(t, s, completionRequest{Model: "other", Prompt: "p", MaxTokens: 5})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	s := newServer(map[string][]string{"default": {"x"}})

	rec := postCompletion(t, s, completionRequest{MaxTokens: 5})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestApplyStop(t *testing.T) {
	tests := []struct {
		text string
		stop []string
		want string
	}{
		{text: "a\n\nb", stop: []string{"\n\n"}, want: "a"},
		{text: "hi User: more", stop: []string{"Assistant:", "User:"}, want: "hi "},
		{text: "no stop", stop: nil, want: "no stop"},
		{text: "keep", stop: []string{""}, want: "keep"},
	}
	for _, tt := range tests {
		if got := applyStop(tt.text, tt.stop); got != tt.want {
			t.Errorf("applyStop(%q, %q) = %q, want %q", tt.text, tt.stop, got, tt.want)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newServer(map[string][]string{
		"default":  {"a"},
		"classify": {"{}"},
	})

	doCompletion(t, s, "", "p", nil)
	doCompletion(t, s, "", "p", nil)
	doCompletion(t, s, "classify", "p", nil)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCalls != 3 {
		t.Errorf("total_calls = %d, want 3", stats.TotalCalls)
	}
	if stats.CallsByModel["default"] != 2 || stats.CallsByModel["classify"] != 1 {
		t.Errorf("calls_by_model = %v", stats.CallsByModel)
	}
}

func TestCapturedRequests(t *testing.T) {
	s := newServer(map[string][]string{"default": {"a"}})

	doCompletion(t, s, "", "first prompt", []string{"\n\n"})
	doCompletion(t, s, "", "second prompt", nil)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests?model=default&call=2", nil))

	var body struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	reqs := body.RequestsByModel["default"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request, got %d", len(reqs))
	}
	if reqs[0].Prompt != "second prompt" || reqs[0].CallIndex != 2 {
		t.Errorf("unexpected capture: %+v", reqs[0])
	}
}

// TestClientCompatibility drives the mock with the real completion client.
func TestClientCompatibility(t *testing.T) {
	s := newServer(map[string][]string{"default": {"  Clean text.  \n\nTrailing part"}})
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	client := llm.NewClient(srv.URL)
	resp, err := client.Complete(context.Background(), llm.Request{
		Prompt:    "rewrite this",
		MaxTokens: 100,
		Stop:      []string{"\n\n"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Clean text." {
		t.Errorf("text = %q, want %q", resp.Text, "Clean text.")
	}
}

func TestDelayHonoursClientTimeout(t *testing.T) {
	s := newServer(map[string][]string{"default": {"slow"}})
	s.delay = 2 * time.Second
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	client := llm.NewClient(srv.URL, llm.WithTimeout(100*time.Millisecond))
	_, err := client.Complete(context.Background(), llm.Request{Prompt: "p", MaxTokens: 5})
	if !llm.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func postCompletion(t *testing.T, s *server, req completionRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(string(body))))
	return rec
}

func doCompletion(t *testing.T, s *server, model, prompt string, stop []string) string {
	t.Helper()
	rec := postCompletion(t, s, completionRequest{Model: model, Prompt: prompt, MaxTokens: 50, Stop: stop})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp completionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	return resp.Choices[0].Text
}
