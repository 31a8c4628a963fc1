package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number to get the wait before
	// the next attempt: BaseDelay after the first failure, 2*BaseDelay
	// after the second, and so on.
	BaseDelay time.Duration
}

// DefaultRetryConfig returns the standard retry policy of three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultRetryBaseDelay}
}

// retryLLM retries failed attempts with a linearly growing delay.
type retryLLM struct {
	next   CoreLLM
	config RetryConfig
}

// RetryMiddleware creates middleware that retries failed requests.
//
// Errors that IsRetryable rejects, such as authentication failures or
// bad requests, stop immediately. When no attempt succeeds the returned
// error is a *ports.GenerationError wrapping the last failure.
func RetryMiddleware(config RetryConfig) Middleware {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{next: next, config: config}
	}
}

// DoRequest executes the request, retrying transient failures.
func (r *retryLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	var (
		lastErr  error
		attempts int
	)

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		attempts = attempt

		out, err := r.next.DoRequest(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) || attempt == r.config.MaxAttempts {
			break
		}

		timer := time.NewTimer(r.config.BaseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Completion{}, ports.NewGenerationError(r.next.Provider(), r.next.GetModel(), attempts, ctx.Err())
		case <-timer.C:
		}
	}

	return Completion{}, ports.NewGenerationError(r.next.Provider(), r.next.GetModel(), attempts, lastErr)
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// Provider returns the provider name from the wrapped implementation.
func (r *retryLLM) Provider() string { return r.next.Provider() }
