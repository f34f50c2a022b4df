// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/planwright/llm"
)

// MockCompleter is a thread-safe fake model client for testing. It returns
// configured responses in sequence and captures the requests it receives.
//
// Usage:
//
//	mock := &testutil.MockCompleter{
//	    Responses: []*llm.Response{
//	        {Content: "# Product Overview\n...", Model: "test-model"},
//	    },
//	}
//
//	// Error response
//	mock := &testutil.MockCompleter{
//	    Err: errors.New("connection failed"),
//	}
type MockCompleter struct {
	mu            sync.Mutex
	Responses     []*llm.Response // Responses to return in sequence
	Err           error           // Error to return (takes precedence over Responses)
	Delay         func(ctx context.Context) error
	requests      []llm.Request
	responseIndex int
}

// Complete implements llm.Completer. It returns the next configured
// response, or Err if set. When Delay is set it runs first, so tests can
// simulate a slow model that honors context cancellation.
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}

	// Default response if none configured
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// CallCount returns the number of completed Complete() calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or a zero request when none
// was made.
func (m *MockCompleter) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears captured requests and restarts the response sequence.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
}
