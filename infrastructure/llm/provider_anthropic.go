package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-veritas/internal/ports"
)

// ProviderAnthropic is the provider type for Anthropic Claude models.
const ProviderAnthropic = "anthropic"

func init() {
	RegisterProviderFactory(ProviderAnthropic, newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Claude API.
// The Messages API has no sampling seed, so GenerationRequest.Seed is
// ignored; temperature 0 is the closest available to a deterministic trial.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if timeout := ValidateTimeout(config.HTTPTimeout); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	// Retries are owned by RetryMiddleware.
	opts = append(opts, option.WithMaxRetries(0))

	return &anthropicProvider{
		BaseProvider:    BaseProvider{name: ProviderAnthropic, model: config.Model},
		client:          anthropic.NewClient(opts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: ProviderAnthropic},
	}, nil
}

// DoRequest sends a request to Anthropic's Messages API.
func (p *anthropicProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	options := parseRequest(req, p.model)

	message, err := p.client.Messages.New(ctx, p.buildParams(req.Prompt, options))
	if err != nil {
		return Completion{}, p.handleError(err)
	}

	return p.processResponse(message, req.Prompt)
}

// buildParams creates the API request parameters.
func (p *anthropicProvider) buildParams(prompt string, options requestOptions) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.model),
		MaxTokens: int64(options.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		// Anthropic accepts temperatures in [0, 1].
		Temperature: anthropic.Float(ClampFloat64(options.temperature, 0, 1)),
	}

	if options.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.system}}
	}

	return params
}

// processResponse extracts content and token counts from the API response.
func (p *anthropicProvider) processResponse(message *anthropic.Message, prompt string) (Completion, error) {
	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	content := text.String()
	if content == "" {
		return Completion{}, NewProviderError(ProviderAnthropic, ErrorTypeServerError, 0, "empty content", ErrEmptyResponse)
	}

	return Completion{
		Text:      content,
		TokensIn:  p.tokenCounter.GetTokenCount(int(message.Usage.InputTokens), prompt),
		TokensOut: p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), content),
	}, nil
}

// handleError classifies Anthropic SDK errors.
func (p *anthropicProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's overloaded status.
		if apiErr.StatusCode == 529 {
			return NewProviderError(ProviderAnthropic, ErrorTypeServerError, apiErr.StatusCode, "overloaded", err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, "", err)
	}

	return NewProviderError(ProviderAnthropic, ErrorTypeNetwork, 0, "request failed", err)
}
