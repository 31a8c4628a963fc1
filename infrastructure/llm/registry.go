package llm

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-veritas/infrastructure/ratelimit"
	"github.com/ahrav/go-veritas/internal/ports"
)

// Registry resolves model names to providers and hands out clients that
// share one rate limiter, metrics collector and tracer.
//
// Clients are created lazily on first request and cached per model.
// Registry is safe for concurrent use.
type Registry struct {
	providers map[string]ProviderConfig
	limiter   *ratelimit.Limiter
	metrics   ports.MetricsCollector
	tracer    trace.Tracer
	timeout   time.Duration
	retry     RetryConfig
	maxTokens int
	lookupEnv func(string) (string, bool)

	mu      sync.Mutex
	clients map[string]*Client
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type specifies the provider implementation type (openai, anthropic, google).
	Type string

	// EnvVar specifies the environment variable name for the API key.
	EnvVar string

	// DefaultModel is used when a provider is named without a model.
	DefaultModel string

	// SupportedModels lists model names known to belong to the provider.
	SupportedModels []string

	// ModelPrefixes claims any model name starting with one of the
	// prefixes, so new model releases resolve without a code change.
	ModelPrefixes []string

	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string

	// RequestsPerMinute is the provider's request budget. Zero uses
	// DefaultRequestsPerMinute.
	RequestsPerMinute int

	// Middleware is appended after the standard chain, closest to the
	// provider.
	Middleware []Middleware
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Providers defines the available providers, keyed by name.
	Providers map[string]ProviderConfig

	// Limiter is shared by every client. Nil disables rate limiting.
	Limiter *ratelimit.Limiter

	// Metrics receives per-attempt metrics. Nil disables collection.
	Metrics ports.MetricsCollector

	// Tracer records per-attempt spans. Nil uses the global provider.
	Tracer trace.Tracer

	// Timeout bounds each attempt. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retry is the retry policy. The zero value uses DefaultRetryConfig.
	Retry RetryConfig

	// DefaultMaxTokens applies to requests without MaxTokens.
	DefaultMaxTokens int

	// LookupEnv reads credentials. Nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// DefaultProviders provides standard provider configurations.
var DefaultProviders = map[string]ProviderConfig{
	ProviderOpenAI: {
		Type:         ProviderOpenAI,
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: "gpt-4o",
		SupportedModels: []string{
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"gpt-4o", "gpt-4o-mini",
			"gpt-4", "gpt-4-turbo",
			"gpt-3.5-turbo",
			"o4-mini", "o3", "o3-mini", "o1", "o1-mini",
		},
		ModelPrefixes:     []string{"gpt-", "o1", "o3", "o4", "chatgpt-"},
		RequestsPerMinute: 500,
	},
	ProviderAnthropic: {
		Type:         ProviderAnthropic,
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: "claude-3-5-sonnet-latest",
		SupportedModels: []string{
			"claude-opus-4-0", "claude-sonnet-4-0",
			"claude-3-7-sonnet-latest",
			"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest",
			"claude-3-opus-latest", "claude-3-haiku-20240307",
		},
		ModelPrefixes:     []string{"claude-"},
		RequestsPerMinute: 50,
	},
	ProviderGoogle: {
		Type:         ProviderGoogle,
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: "gemini-2.5-flash",
		SupportedModels: []string{
			"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite",
			"gemini-2.0-flash", "gemini-2.0-flash-lite",
			"gemini-1.5-pro", "gemini-1.5-flash",
		},
		ModelPrefixes:     []string{"gemini-"},
		RequestsPerMinute: 60,
	},
}

// NewRegistry creates a registry from config.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider must be configured")
	}
	for name, pc := range config.Providers {
		if _, ok := providerFactories[pc.Type]; !ok {
			return nil, fmt.Errorf("provider %q: unknown provider type %q", name, pc.Type)
		}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := config.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	lookupEnv := config.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	return &Registry{
		providers: config.Providers,
		limiter:   config.Limiter,
		metrics:   config.Metrics,
		tracer:    config.Tracer,
		timeout:   timeout,
		retry:     retry,
		maxTokens: config.DefaultMaxTokens,
		lookupEnv: lookupEnv,
		clients:   make(map[string]*Client),
	}, nil
}

// ResolveModel returns the provider name and bare model name for spec.
// spec is either a model name ("gpt-4o") or "provider/model". A bare
// provider name resolves to that provider's default model.
func (r *Registry) ResolveModel(spec string) (provider, model string, err error) {
	if spec == "" {
		return "", "", fmt.Errorf("empty model name: %w", ports.ErrUnknownModel)
	}

	if p, m, ok := strings.Cut(spec, "/"); ok {
		if _, known := r.providers[p]; !known || m == "" {
			return "", "", fmt.Errorf("%q: %w", spec, ports.ErrUnknownModel)
		}
		return p, m, nil
	}

	if pc, ok := r.providers[spec]; ok && pc.DefaultModel != "" {
		return spec, pc.DefaultModel, nil
	}

	names := r.providerNames()
	for _, name := range names {
		if slices.Contains(r.providers[name].SupportedModels, spec) {
			return name, spec, nil
		}
	}
	for _, name := range names {
		for _, prefix := range r.providers[name].ModelPrefixes {
			if strings.HasPrefix(spec, prefix) {
				return name, spec, nil
			}
		}
	}

	return "", "", fmt.Errorf("%q: %w", spec, ports.ErrUnknownModel)
}

// CheckCredentials verifies that the credential of every provider serving
// models is set. It returns a *ports.ConfigError naming the missing
// environment variable.
func (r *Registry) CheckCredentials(models ...string) error {
	for _, spec := range models {
		provider, _, err := r.ResolveModel(spec)
		if err != nil {
			return err
		}
		if _, err := r.apiKey(provider); err != nil {
			return err
		}
	}
	return nil
}

// Client returns the client for spec, creating it on first use.
func (r *Registry) Client(spec string) (*Client, error) {
	provider, model, err := r.ResolveModel(spec)
	if err != nil {
		return nil, err
	}
	key := provider + "/" + model

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c, nil
	}

	apiKey, err := r.apiKey(provider)
	if err != nil {
		return nil, err
	}

	pc := r.providers[provider]
	c, err := NewClient(pc.Type, ClientConfig{
		APIKey:           apiKey,
		Model:            model,
		BaseURL:          pc.BaseURL,
		DefaultMaxTokens: r.maxTokens,
		Middleware:       r.chain(pc),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", key, err)
	}

	r.clients[key] = c
	return c, nil
}

// RequestsPerMinute returns the budget configured for provider.
func (r *Registry) RequestsPerMinute(provider string) int {
	if rpm := r.providers[provider].RequestsPerMinute; rpm > 0 {
		return rpm
	}
	return DefaultRequestsPerMinute
}

// Providers returns the configured provider names in sorted order.
func (r *Registry) Providers() []string { return r.providerNames() }

// chain assembles the standard middleware stack for pc.
func (r *Registry) chain(pc ProviderConfig) []Middleware {
	rpm := pc.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	mw := []Middleware{
		RetryMiddleware(r.retry),
		RateLimitMiddleware(r.limiter, rpm),
		TimeoutMiddleware(r.timeout),
		MetricsMiddleware(r.metrics),
		TracingMiddleware(r.tracer),
	}
	return append(mw, pc.Middleware...)
}

func (r *Registry) apiKey(provider string) (string, error) {
	pc := r.providers[provider]
	key, ok := r.lookupEnv(pc.EnvVar)
	if !ok || strings.TrimSpace(key) == "" {
		return "", ports.NewConfigError(pc.EnvVar,
			fmt.Errorf("provider %q: %w", provider, ports.ErrMissingCredential))
	}
	return key, nil
}

func (r *Registry) providerNames() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
