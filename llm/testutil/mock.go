// Package testutil provides test utilities for the llm package.
// It includes mock implementations for testing completion interactions.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/llmgate/llm"
)

// MockCompleter is a thread-safe mock llm.Completer for testing.
// It records every request and returns configured responses in order.
//
// Usage:
//
//	// Scripted responses, one per call
//	mock := &MockCompleter{
//	    Responses: []*llm.Response{
//	        {Text: "draft"},
//	        {Text: "final"},
//	    },
//	}
//
//	// Fail the second call only
//	mock := &MockCompleter{
//	    Responses: []*llm.Response{{Text: "draft"}},
//	    Errors:    []error{nil, &llm.RejectedError{StatusCode: 500}},
//	}
//
//	// Every call fails
//	mock := &MockCompleter{
//	    Err: errors.New("connection failed"),
//	}
type MockCompleter struct {
	mu              sync.Mutex
	capturedContext context.Context
	requests        []llm.Request
	Responses       []*llm.Response // Responses to return in sequence
	Errors          []error         // Per-call errors; a nil entry means succeed
	Err             error           // Error for every call (takes precedence)
	responseIndex   int
}

// Complete implements llm.Completer.
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.capturedContext = ctx
	call := len(m.requests)
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if call < len(m.Errors) && m.Errors[call] != nil {
		return nil, m.Errors[call]
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}

	// Default response if no responses configured
	return &llm.Response{Text: ""}, nil
}

// GetCapturedContext returns the last context passed to Complete().
func (m *MockCompleter) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturedContext
}

// GetCallCount returns the number of times Complete() was called.
func (m *MockCompleter) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in call order.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded requests and rewinds the response script.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
	m.capturedContext = nil
}
