// Package llm provides generation clients for the models under evaluation
// and for the judge, with retries, rate limiting, timeouts, metrics and
// tracing layered on as middleware.
//
// Providers (OpenAI, Anthropic, Google) implement the small CoreLLM
// interface. A Client wraps a CoreLLM in a middleware chain and exposes it
// as a ports.GenerationClient. Most callers obtain clients from a Registry,
// which resolves model names to providers and credentials and assembles the
// standard chain:
//
//	retry -> rate limit -> timeout -> metrics -> tracing -> provider
//
// Basic usage:
//
//	limiter := ratelimit.New()
//	registry, err := llm.NewRegistry(llm.RegistryConfig{
//	    Providers: llm.DefaultProviders,
//	    Limiter:   limiter,
//	})
//	client, err := registry.Client("gpt-4o")
//	text, err := client.Generate(ctx, ports.GenerationRequest{Prompt: "Hello"})
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.GenerationClient = (*Client)(nil)

// Completion is the result of a single provider call.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// CoreLLM defines the minimal interface that LLM providers must implement.
// This interface abstracts the core functionality needed to make requests
// to different LLM services, allowing the middleware system to wrap
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends one request to the provider. It makes exactly one
	// attempt; retries belong to middleware.
	DoRequest(ctx context.Context, req ports.GenerationRequest) (Completion, error)

	// GetModel returns the configured model name.
	GetModel() string

	// Provider returns the provider name, used as the rate limit key and as
	// a metrics label.
	Provider() string
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
// Middleware passed to NewClient is applied so that the first element is
// the outermost layer.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig holds all configuration options for creating a Client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	APIKey string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// HTTPTimeout bounds the provider's HTTP client. Request deadlines are
	// normally enforced by TimeoutMiddleware instead; zero leaves the SDK
	// default in place.
	HTTPTimeout time.Duration

	// DefaultMaxTokens applies to requests that do not set MaxTokens.
	DefaultMaxTokens int

	// Middleware allows custom middleware insertion.
	// These are applied in the order specified.
	Middleware []Middleware
}

// Client implements ports.GenerationClient on top of a provider and its
// middleware chain.
type Client struct {
	core             CoreLLM
	defaultMaxTokens int
}

// NewClient creates a new client for providerType with the given
// configuration.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		return nil, errors.New("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return newClientFromCore(core, config), nil
}

// NewClientFromCore wraps an existing CoreLLM. It is used for providers
// constructed outside the factory table and in tests.
func NewClientFromCore(core CoreLLM, config ClientConfig) *Client {
	return newClientFromCore(core, config)
}

func newClientFromCore(core CoreLLM, config ClientConfig) *Client {
	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	maxTokens := config.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Client{core: core, defaultMaxTokens: maxTokens}
}

// Generate sends the request through the middleware chain and returns the
// generated text.
func (c *Client) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.defaultMaxTokens
	}
	out, err := c.core.DoRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// GenerateWithUsage behaves like Generate and also reports token usage.
func (c *Client) GenerateWithUsage(ctx context.Context, req ports.GenerationRequest) (Completion, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.defaultMaxTokens
	}
	return c.core.DoRequest(ctx, req)
}

// Model returns the model identifier of the underlying provider.
func (c *Client) Model() string { return c.core.GetModel() }

// Provider returns the provider name of the underlying provider.
func (c *Client) Provider() string { return c.core.Provider() }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// providerFactories maps provider types to their constructors. Providers
// register themselves from init.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}
