package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-veritas/internal/ports"
)

// fakeModels records GenerateContent calls.
type fakeModels struct {
	resp *genai.GenerateContentResponse
	err  error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func newTestGoogleProvider(models generativeModels) *googleProvider {
	return &googleProvider{
		BaseProvider:    BaseProvider{name: ProviderGoogle, model: "gemini-2.5-flash"},
		models:          models,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: ProviderGoogle},
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     8,
			CandidatesTokenCount: 4,
		},
	}
}

func TestGoogleProvider_DoRequest(t *testing.T) {
	fake := &fakeModels{resp: textResponse("Paris.")}
	provider := newTestGoogleProvider(fake)
	seed := 0

	out, err := provider.DoRequest(context.Background(), ports.GenerationRequest{
		Prompt:    "Capital of France?",
		MaxTokens: 64,
		System:    "Be brief.",
		Seed:      &seed,
	})

	require.NoError(t, err)
	assert.Equal(t, "Paris.", out.Text)
	assert.Equal(t, 8, out.TokensIn)
	assert.Equal(t, 4, out.TokensOut)

	assert.Equal(t, "gemini-2.5-flash", fake.model)
	require.Len(t, fake.contents, 1)
	require.NotNil(t, fake.config.Seed)
	assert.Equal(t, int32(0), *fake.config.Seed)
	assert.Equal(t, float32(0), *fake.config.Temperature)
	assert.Equal(t, int32(64), fake.config.MaxOutputTokens)
	require.NotNil(t, fake.config.SystemInstruction)
}

func TestGoogleProvider_BuildGenerationConfig(t *testing.T) {
	provider := newTestGoogleProvider(nil)

	t.Run("no seed", func(t *testing.T) {
		cfg := provider.buildGenerationConfig(requestOptions{maxTokens: 10, temperature: 0.7})
		assert.Nil(t, cfg.Seed)
		assert.Nil(t, cfg.SystemInstruction)
		assert.InDelta(t, 0.7, float64(*cfg.Temperature), 1e-6)
	})

	t.Run("seed is narrowed to int32", func(t *testing.T) {
		big := 1 << 40
		cfg := provider.buildGenerationConfig(requestOptions{maxTokens: 10, seed: &big})
		require.NotNil(t, cfg.Seed)
		assert.Equal(t, int32(1<<31-1), *cfg.Seed)
	})
}

func TestGoogleProvider_EmptyResponse(t *testing.T) {
	provider := newTestGoogleProvider(&fakeModels{resp: &genai.GenerateContentResponse{}})

	_, err := provider.DoRequest(context.Background(), ports.GenerationRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGoogleProvider_HandleError(t *testing.T) {
	provider := newTestGoogleProvider(nil)

	tests := []struct {
		name         string
		inputError   error
		expectedType ErrorType
	}{
		{name: "context canceled", inputError: context.Canceled, expectedType: ErrorTypeNetwork},
		{name: "context timeout", inputError: context.DeadlineExceeded, expectedType: ErrorTypeTimeout},
		{name: "generic error", inputError: fmt.Errorf("connection reset"), expectedType: ErrorTypeNetwork},
		{
			name:         "quota exceeded",
			inputError:   &googleapi.Error{Code: 429, Message: "quota exceeded"},
			expectedType: ErrorTypeRateLimit,
		},
		{
			name:         "safety block",
			inputError:   &googleapi.Error{Code: 400, Message: "Response blocked by safety settings"},
			expectedType: ErrorTypeContentPolicy,
		},
		{
			name:         "unauthenticated",
			inputError:   &googleapi.Error{Code: 403, Message: "API key not valid"},
			expectedType: ErrorTypeAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := provider.handleError(tt.inputError)

			var provErr *ProviderError
			require.True(t, errors.As(result, &provErr))
			assert.Equal(t, tt.expectedType, provErr.Type)
			assert.Equal(t, ProviderGoogle, provErr.Provider)
		})
	}
}

func TestNewGoogleProvider(t *testing.T) {
	_, err := newGoogleProvider(ClientConfig{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	p, err := newGoogleProvider(ClientConfig{APIKey: "test-key", Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", p.GetModel())
	assert.Equal(t, ProviderGoogle, p.Provider())
}
