package llm

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-veritas/internal/ports"
)

var testRequest = ports.GenerationRequest{Prompt: "test prompt", MaxTokens: 100}

func TestRetryMiddleware_SuccessOnFirstAttempt(t *testing.T) {
	// Given a mock that succeeds immediately
	mock := NewMockCoreLLM()
	wrapped := RetryMiddleware(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})(mock)

	// When making a request
	out, err := wrapped.DoRequest(context.Background(), testRequest)

	// Then it should succeed without retries
	require.NoError(t, err, "request should succeed")
	assert.Equal(t, "test response", out.Text, "response should match")
	assert.Equal(t, 10, out.TokensIn, "input tokens should match")
	assert.Equal(t, 20, out.TokensOut, "output tokens should match")
	assert.Equal(t, 1, mock.GetCallCount(), "should only call once on success")
}

func TestRetryMiddleware_LinearBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Given a mock that fails twice then succeeds
		mock := NewMockCoreLLM()
		mock.FailUntilAttempt = 2
		wrapped := RetryMiddleware(RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second})(mock)

		// When making a request
		out, err := wrapped.DoRequest(context.Background(), testRequest)

		// Then the third attempt succeeds after waits of 2s and 4s
		require.NoError(t, err, "request should eventually succeed")
		assert.Equal(t, "test response", out.Text)
		require.Equal(t, 3, mock.GetCallCount(), "should retry until success")
		assert.Equal(t, 2*time.Second, *mock.GetTimeBetweenCalls(0, 1), "first wait is the base delay")
		assert.Equal(t, 4*time.Second, *mock.GetTimeBetweenCalls(1, 2), "second wait doubles the base delay")
	})
}

func TestRetryMiddleware_ExhaustionReturnsGenerationError(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Given a mock that always fails with a transient error
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("test", ErrorTypeServerError, 503, "overloaded", nil)
		wrapped := RetryMiddleware(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})(mock)

		// When making a request
		_, err := wrapped.DoRequest(context.Background(), testRequest)

		// Then every attempt is spent and the failure is typed
		var genErr *ports.GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, 3, genErr.Attempts)
		assert.Equal(t, "test", genErr.Provider)
		assert.Equal(t, "test-model", genErr.Model)
		assert.ErrorIs(t, err, mock.Error, "last attempt error should be wrapped")
		assert.Equal(t, 3, mock.GetCallCount())
	})
}

func TestRetryMiddleware_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "authentication", err: NewProviderError("test", ErrorTypeAuthentication, 401, "bad key", nil)},
		{name: "bad request", err: NewProviderError("test", ErrorTypeBadRequest, 400, "bad prompt", nil)},
		{name: "content policy", err: NewProviderError("test", ErrorTypeContentPolicy, 400, "blocked", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			mock.Error = tt.err
			wrapped := RetryMiddleware(RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour})(mock)

			_, err := wrapped.DoRequest(context.Background(), testRequest)

			var genErr *ports.GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, 1, genErr.Attempts)
			assert.Equal(t, 1, mock.GetCallCount(), "permanent errors should not be retried")
		})
	}
}

func TestRetryMiddleware_RespectsContextCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Given a mock that always fails and a context cancelled during backoff
		mock := NewMockCoreLLM()
		mock.Error = errors.New("transient")
		wrapped := RetryMiddleware(RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute})(mock)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// When making a request
		_, err := wrapped.DoRequest(ctx, testRequest)

		// Then it gives up while waiting for the second attempt
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, mock.GetCallCount(), "should stop retrying once the context is done")
	})
}

func TestRetryMiddleware_PassesThroughModelMethods(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Model = "gpt-4o"
	mock.ProviderName = "openai"
	wrapped := RetryMiddleware(DefaultRetryConfig())(mock)

	assert.Equal(t, "gpt-4o", wrapped.GetModel())
	assert.Equal(t, "openai", wrapped.Provider())
}

func TestRetryMiddleware_ZeroAttemptsRunsOnce(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("transient")
	wrapped := RetryMiddleware(RetryConfig{})(mock)

	_, err := wrapped.DoRequest(context.Background(), testRequest)

	require.Error(t, err)
	assert.Equal(t, 1, mock.GetCallCount())
}
