package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

// timeoutLLM bounds each attempt with a deadline.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces request timeouts.
// Placed inside RetryMiddleware it bounds every attempt separately.
// A non-positive timeout disables the middleware.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		if timeout <= 0 {
			return next
		}
		return &timeoutLLM{next: next, timeout: timeout}
	}
}

// DoRequest executes the request with a timeout context.
func (t *timeoutLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, req)
}

// GetModel returns the model name from the wrapped implementation.
func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }

// Provider returns the provider name from the wrapped implementation.
func (t *timeoutLLM) Provider() string { return t.next.Provider() }
