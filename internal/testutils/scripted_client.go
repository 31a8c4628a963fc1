// Package testutils provides fakes and fixtures shared by package tests.
package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.GenerationClient = (*ScriptedClient)(nil)

// ErrScripted is returned by a ScriptedClient configured to fail without a
// specific error.
var ErrScripted = errors.New("scripted failure")

// ResponseFunc produces the reply to one request.
type ResponseFunc func(ctx context.Context, req ports.GenerationRequest) (string, error)

// MockResponse defines a pre-configured reply for prompts containing
// Pattern.
type MockResponse struct {
	// Pattern is matched against prompts as a substring. The empty pattern
	// matches everything and acts as the default.
	Pattern string
	// Response is the text returned for matching prompts.
	Response string
}

// ScriptedClient implements ports.GenerationClient with deterministic
// replies for tests. Replies come from the handler when one is set, and
// otherwise from the first registered pattern found in the prompt.
//
// ScriptedClient is safe for concurrent use.
type ScriptedClient struct {
	mu sync.Mutex

	model     string
	handler   ResponseFunc
	responses []MockResponse

	failAfter int
	failErr   error

	requests []ports.GenerationRequest
}

// NewScriptedClient creates a client for model. handler may be nil.
func NewScriptedClient(model string, handler ResponseFunc) *ScriptedClient {
	return &ScriptedClient{model: model, handler: handler, failAfter: -1}
}

// AddResponse registers a reply pattern. Patterns are tried in the order
// they were added.
func (c *ScriptedClient) AddResponse(r MockResponse) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
	return c
}

// FailAfter makes every call after the first n return err, or ErrScripted
// when err is nil.
func (c *ScriptedClient) FailAfter(n int, err error) *ScriptedClient {
	if err == nil {
		err = ErrScripted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter, c.failErr = n, err
	return c
}

// Generate records req and returns the scripted reply.
func (c *ScriptedClient) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	call := len(c.requests)
	handler, failAfter, failErr := c.handler, c.failAfter, c.failErr
	c.mu.Unlock()

	if failAfter >= 0 && call > failAfter {
		return "", failErr
	}
	if handler != nil {
		return handler(ctx, req)
	}
	return c.match(req.Prompt), nil
}

// Model returns the configured model identifier.
func (c *ScriptedClient) Model() string { return c.model }

// Requests returns a copy of every request received so far.
func (c *ScriptedClient) Requests() []ports.GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.GenerationRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// CallCount returns the number of Generate calls.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *ScriptedClient) match(prompt string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	def := "Mock response for testing purposes."
	for _, r := range c.responses {
		if r.Pattern == "" {
			def = r.Response
			continue
		}
		if strings.Contains(prompt, r.Pattern) {
			return r.Response
		}
	}
	return def
}

// JudgeJSON renders a structured judge reply with the given final score.
func JudgeJSON(score float64, reasoning string, criteria ...CriterionReply) string {
	if criteria == nil {
		criteria = []CriterionReply{}
	}
	b, _ := json.Marshal(struct {
		CriteriaEvaluations []CriterionReply `json:"criteria_evaluations"`
		OverallReasoning    string           `json:"overall_reasoning"`
		FinalScore          float64          `json:"final_score"`
	}{criteria, reasoning, score})
	return string(b)
}

// CriterionReply is one entry of criteria_evaluations in a judge reply.
type CriterionReply struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
	Met       bool    `json:"met"`
	Reasoning string  `json:"reasoning"`
}
