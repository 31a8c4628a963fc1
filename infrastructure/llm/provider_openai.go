package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-veritas/internal/ports"
)

// ProviderOpenAI is the provider type for OpenAI chat models.
const ProviderOpenAI = "openai"

func init() {
	RegisterProviderFactory(ProviderOpenAI, newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's API.
// This provider handles OpenAI-specific request formatting and response parsing
// while conforming to the common interface for middleware compatibility.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if timeout := ValidateTimeout(config.HTTPTimeout); timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{name: ProviderOpenAI, model: config.Model},
		client:          openai.NewClientWithConfig(clientConfig),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: ProviderOpenAI},
	}, nil
}

// DoRequest sends a chat completion request to the OpenAI API.
func (p *openAIProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	options := parseRequest(req, p.model)

	resp, err := p.client.CreateChatCompletion(ctx, p.buildChatCompletionRequest(req.Prompt, options))
	if err != nil {
		return Completion{}, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, NewProviderError(ProviderOpenAI, ErrorTypeServerError, 0, "no choices", ErrNoResponseChoice)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return Completion{}, NewProviderError(ProviderOpenAI, ErrorTypeServerError, 0, "empty content", ErrEmptyResponse)
	}

	return Completion{
		Text:      content,
		TokensIn:  p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, req.Prompt),
		TokensOut: p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, content),
	}, nil
}

// buildChatCompletionRequest creates an openai.ChatCompletionRequest from a prompt and options.
func (p *openAIProvider) buildChatCompletionRequest(prompt string, options requestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       options.model,
		Messages:    messages,
		MaxTokens:   options.maxTokens,
		Temperature: float32(options.temperature),
	}

	// The SDK omits a zero temperature from the payload, which the API
	// treats as its default of 1.0.
	if options.temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}

	if options.seed != nil {
		seed := *options.seed
		req.Seed = &seed
	}

	return req
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request error", err)
	}

	return NewProviderError(ProviderOpenAI, ErrorTypeNetwork, 0, "request failed", err)
}
