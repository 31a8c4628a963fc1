package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-veritas/internal/ports"
)

const anthropicMessageResponse = `{
	"id": "msg_test_id",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-sonnet-latest",
	"content": [
		{"type": "text", "text": "Paris is the capital "},
		{"type": "text", "text": "of France."}
	],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 15}
}`

func TestAnthropicProvider_DoRequest(t *testing.T) {
	seed := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, "claude-3-5-sonnet-latest", body["model"])
		assert.Equal(t, float64(256), body["max_tokens"])
		assert.Equal(t, float64(0), body["temperature"])
		_, hasSeed := body["seed"]
		assert.False(t, hasSeed, "the Messages API has no seed parameter")

		system := body["system"].([]any)
		require.Len(t, system, 1)
		assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, anthropicMessageResponse)
	}))
	defer server.Close()

	provider, err := newAnthropicProvider(ClientConfig{
		APIKey:  "test-api-key",
		Model:   "claude-3-5-sonnet-latest",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	out, err := provider.DoRequest(context.Background(), ports.GenerationRequest{
		Prompt:    "Capital of France?",
		MaxTokens: 256,
		System:    "Be brief.",
		Seed:      &seed,
	})

	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", out.Text)
	assert.Equal(t, 10, out.TokensIn)
	assert.Equal(t, 15, out.TokensOut)
}

func TestAnthropicProvider_TemperatureClamped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1), body["temperature"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, anthropicMessageResponse)
	}))
	defer server.Close()

	provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-api-key", Model: "claude-3-5-haiku-latest", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "hi", Temperature: 1.8})
	require.NoError(t, err)
}

func TestAnthropicProvider_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errType    string
		wantType   ErrorType
		retryable  bool
	}{
		{name: "auth", statusCode: 401, errType: "authentication_error", wantType: ErrorTypeAuthentication},
		{name: "rate limit", statusCode: 429, errType: "rate_limit_error", wantType: ErrorTypeRateLimit, retryable: true},
		{name: "overloaded", statusCode: 529, errType: "overloaded_error", wantType: ErrorTypeServerError, retryable: true},
		{name: "not found", statusCode: 404, errType: "not_found_error", wantType: ErrorTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				fmt.Fprintf(w, `{"type": "error", "error": {"type": %q, "message": "nope"}}`, tt.errType)
			}))
			defer server.Close()

			provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-api-key", Model: "claude-3-5-sonnet-latest", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "hi"})

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "m", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-latest",
			"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`)
	}))
	defer server.Close()

	provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-api-key", Model: "claude-3-5-sonnet-latest", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewAnthropicProvider(t *testing.T) {
	_, err := newAnthropicProvider(ClientConfig{Model: "claude-3-5-sonnet-latest"})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	p, err := newAnthropicProvider(ClientConfig{APIKey: "k", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", p.GetModel())
	assert.Equal(t, ProviderAnthropic, p.Provider())
}
