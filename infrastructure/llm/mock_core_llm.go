package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

var _ CoreLLM = (*MockCoreLLM)(nil)

// MockCoreLLM provides a configurable mock implementation of CoreLLM for testing.
// It allows precise control over response behavior, timing, and error conditions
// to facilitate middleware testing.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response configuration
	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ProviderName  string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	// Tracking
	CallCount      int
	Requests       []ports.GenerationRequest
	Contexts       []context.Context
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:     "test response",
		TokensIn:     10,
		TokensOut:    20,
		Model:        "test-model",
		ProviderName: "test",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.Requests = append(m.Requests, req)
	m.Contexts = append(m.Contexts, ctx)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay, failUntil, cfgErr := m.ResponseDelay, m.FailUntilAttempt, m.Error
	resp := Completion{Text: m.Response, TokensIn: m.TokensIn, TokensOut: m.TokensOut}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}

	if failUntil > 0 && call <= failUntil {
		if cfgErr != nil {
			return Completion{}, cfgErr
		}
		return Completion{}, errSimulated
	}
	if failUntil == 0 && cfgErr != nil {
		return Completion{}, cfgErr
	}

	return resp, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// Provider returns the configured provider name.
func (m *MockCoreLLM) Provider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ProviderName
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockCoreLLM) LastRequest() ports.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return ports.GenerationRequest{}
	}
	return m.Requests[len(m.Requests)-1]
}

// GetTimeBetweenCalls calculates the duration between two recorded calls.
// Returns nil if either index is out of range.
func (m *MockCoreLLM) GetTimeBetweenCalls(call1, call2 int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call1 < 0 || call2 < 0 || call1 >= len(m.CallTimestamps) || call2 >= len(m.CallTimestamps) {
		return nil
	}

	d := m.CallTimestamps[call2].Sub(m.CallTimestamps[call1])
	return &d
}

// errSimulated is returned by MockCoreLLM when no specific error is configured.
var errSimulated = errors.New("simulated failure")
