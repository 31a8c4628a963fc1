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

const openAIChatResponse = `{
	"id": "chatcmpl-test123",
	"object": "chat.completion",
	"created": 1677652288,
	"model": "gpt-4o",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Paris is the capital of France."},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
}`

// newOpenAITestServer starts a server answering chat completions and
// handing each decoded request body to inspect.
func newOpenAITestServer(t *testing.T, inspect func(body map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer test-api-key")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(body)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, openAIChatResponse)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIProvider_DoRequest(t *testing.T) {
	seed := 0

	tests := []struct {
		name    string
		req     ports.GenerationRequest
		inspect func(t *testing.T, body map[string]any)
	}{
		{
			name: "deterministic trial sends seed and near-zero temperature",
			req:  ports.GenerationRequest{Prompt: "Capital of France?", MaxTokens: 128, Temperature: 0, Seed: &seed},
			inspect: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "gpt-4o", body["model"])
				assert.Equal(t, float64(128), body["max_tokens"])
				assert.Equal(t, float64(0), body["seed"])
				temp, ok := body["temperature"].(float64)
				require.True(t, ok, "temperature must be present in the payload")
				assert.Less(t, temp, 1e-6)
			},
		},
		{
			name: "sampled trial omits seed",
			req:  ports.GenerationRequest{Prompt: "Capital of France?", Temperature: 0.7},
			inspect: func(t *testing.T, body map[string]any) {
				_, hasSeed := body["seed"]
				assert.False(t, hasSeed, "seed should be omitted when not requested")
				assert.InDelta(t, 0.7, body["temperature"], 1e-6)
				assert.Equal(t, float64(DefaultMaxTokens), body["max_tokens"])
			},
		},
		{
			name: "system message precedes user message",
			req:  ports.GenerationRequest{Prompt: "Capital of France?", System: "Answer tersely.", Temperature: 0.7},
			inspect: func(t *testing.T, body map[string]any) {
				messages := body["messages"].([]any)
				require.Len(t, messages, 2)
				assert.Equal(t, "system", messages[0].(map[string]any)["role"])
				assert.Equal(t, "Answer tersely.", messages[0].(map[string]any)["content"])
				assert.Equal(t, "user", messages[1].(map[string]any)["role"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newOpenAITestServer(t, func(body map[string]any) { tt.inspect(t, body) })

			provider, err := newOpenAIProvider(ClientConfig{
				APIKey:  "test-api-key",
				Model:   "gpt-4o",
				BaseURL: server.URL + "/v1",
			})
			require.NoError(t, err)

			out, err := provider.DoRequest(context.Background(), tt.req)

			require.NoError(t, err)
			assert.Equal(t, "Paris is the capital of France.", out.Text)
			assert.Equal(t, 12, out.TokensIn)
			assert.Equal(t, 7, out.TokensOut)
		})
	}
}

func TestOpenAIProvider_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   ErrorType
		retryable  bool
	}{
		{
			name:       "authentication_error",
			statusCode: http.StatusUnauthorized,
			body:       `{"error": {"message": "Invalid API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`,
			wantType:   ErrorTypeAuthentication,
		},
		{
			name:       "rate_limit_error",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error": {"message": "Rate limit exceeded", "type": "requests", "code": "rate_limit_exceeded"}}`,
			wantType:   ErrorTypeRateLimit,
			retryable:  true,
		},
		{
			name:       "server_error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error": {"message": "Internal server error", "type": "server_error"}}`,
			wantType:   ErrorTypeServerError,
			retryable:  true,
		},
		{
			name:       "bad_request",
			statusCode: http.StatusBadRequest,
			body:       `{"error": {"message": "max_tokens is too large", "type": "invalid_request_error"}}`,
			wantType:   ErrorTypeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			provider, err := newOpenAIProvider(ClientConfig{
				APIKey:  "test-api-key",
				Model:   "gpt-4o",
				BaseURL: server.URL + "/v1",
			})
			require.NoError(t, err)

			_, err = provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "test prompt"})

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.statusCode, pe.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "x", "object": "chat.completion", "choices": []}`)
	}))
	defer server.Close()

	provider, err := newOpenAIProvider(ClientConfig{APIKey: "test-api-key", Model: "gpt-4o", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "hi"})

	assert.ErrorIs(t, err, ErrNoResponseChoice)
	assert.True(t, IsRetryable(err), "a malformed payload is transient")
}

func TestOpenAIProvider_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached with a cancelled context")
	}))
	defer server.Close()

	provider, err := newOpenAIProvider(ClientConfig{APIKey: "test-api-key", Model: "gpt-4o", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = provider.DoRequest(ctx, ports.GenerationRequest{Prompt: "hi"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestOpenAIProvider_Configuration(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		_, err := newOpenAIProvider(ClientConfig{Model: "gpt-4o"})
		assert.ErrorIs(t, err, ErrEmptyAPIKey)
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := newOpenAIProvider(ClientConfig{APIKey: "k", Model: "gpt-4o", BaseURL: "ftp://example.com"})
		assert.ErrorContains(t, err, "invalid BaseURL")
	})

	t.Run("identity", func(t *testing.T) {
		p, err := newOpenAIProvider(ClientConfig{APIKey: "k", Model: "gpt-4o-mini"})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", p.GetModel())
		assert.Equal(t, ProviderOpenAI, p.Provider())
	})
}
