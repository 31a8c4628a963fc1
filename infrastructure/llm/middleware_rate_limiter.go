package llm

import (
	"context"
	"fmt"

	"github.com/ahrav/go-veritas/infrastructure/ratelimit"
	"github.com/ahrav/go-veritas/internal/ports"
)

// rateLimitedLLM admits each attempt through a shared per-provider limiter.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *ratelimit.Limiter
	rpm     int
}

// RateLimitMiddleware creates middleware that throttles requests through
// limiter, keyed by the wrapped provider's name, at rpm requests per minute.
// Clients of the same provider share the key and therefore the budget.
func RateLimitMiddleware(limiter *ratelimit.Limiter, rpm int) Middleware {
	return func(next CoreLLM) CoreLLM {
		if limiter == nil {
			return next
		}
		return &rateLimitedLLM{next: next, limiter: limiter, rpm: rpm}
	}
}

// DoRequest waits for admission before forwarding the request. Waiting is
// bounded by the caller's context only.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	if err := r.limiter.Acquire(ctx, r.next.Provider(), r.rpm); err != nil {
		return Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoRequest(ctx, req)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// Provider returns the provider name from the wrapped implementation.
func (r *rateLimitedLLM) Provider() string { return r.next.Provider() }
