package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-veritas/internal/ports"
)

// ProviderGoogle is the provider type for Google Gemini models.
const ProviderGoogle = "google"

func init() {
	RegisterProviderFactory(ProviderGoogle, newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
type googleProvider struct {
	BaseProvider
	models          generativeModels
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// generativeModels is the subset of genai.Models used by the provider.
type generativeModels interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// newGoogleProvider creates a new Google Gemini provider instance using API
// key authentication against the Gemini API backend.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		cc.HTTPOptions.BaseURL = validatedURL
	}
	if timeout := ValidateTimeout(config.HTTPTimeout); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{name: ProviderGoogle, model: config.Model},
		models:          client.Models,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: ProviderGoogle},
	}, nil
}

// DoRequest sends a request to the Gemini API.
func (p *googleProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	options := parseRequest(req, p.model)

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := p.models.GenerateContent(ctx, options.model, contents, p.buildGenerationConfig(options))
	if err != nil {
		return Completion{}, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return Completion{}, NewProviderError(ProviderGoogle, ErrorTypeServerError, 0, "empty content", ErrEmptyResponse)
	}

	var in, out int
	if usage := resp.UsageMetadata; usage != nil {
		in, out = int(usage.PromptTokenCount), int(usage.CandidatesTokenCount)
	}

	return Completion{
		Text:      content,
		TokensIn:  p.tokenCounter.GetTokenCount(in, req.Prompt),
		TokensOut: p.tokenCounter.GetTokenCount(out, content),
	}, nil
}

// buildGenerationConfig maps request options onto a Gemini generation
// config.
func (p *googleProvider) buildGenerationConfig(options requestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(options.temperature)),
	}

	if options.maxTokens > math.MaxInt32 {
		config.MaxOutputTokens = math.MaxInt32
	} else {
		config.MaxOutputTokens = int32(options.maxTokens)
	}

	if options.system != "" {
		config.SystemInstruction = genai.NewContentFromText(options.system, genai.RoleUser)
	}

	if options.seed != nil {
		config.Seed = genai.Ptr(int32(ClampInt(*options.seed, math.MinInt32, math.MaxInt32)))
	}

	return config
}

// handleError classifies Gemini API errors.
func (p *googleProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		if containsContentPolicyError(apiErr) {
			return NewProviderError(ProviderGoogle, ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return p.errorClassifier.ClassifyHTTPError(genaiErr.Code, genaiErr.Message, err)
	}

	return NewProviderError(ProviderGoogle, ErrorTypeNetwork, 0, "request failed", err)
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if apiErr.Message != "" {
		lower := strings.ToLower(apiErr.Message)
		if strings.Contains(lower, "safety") ||
			strings.Contains(lower, "policy") ||
			strings.Contains(lower, "blocked") {
			return true
		}
	}

	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}

	return false
}
