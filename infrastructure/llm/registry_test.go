package llm

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-veritas/infrastructure/ratelimit"
	"github.com/ahrav/go-veritas/internal/ports"
)

const fakeProviderType = "fake"

// fakeProviders hands out one MockCoreLLM per model created by the fake
// provider factory.
var fakeProviders = struct {
	sync.Mutex
	mocks map[string]*MockCoreLLM
}{mocks: map[string]*MockCoreLLM{}}

func init() {
	RegisterProviderFactory(fakeProviderType, func(cfg ClientConfig) (CoreLLM, error) {
		fakeProviders.Lock()
		defer fakeProviders.Unlock()
		m := NewMockCoreLLM()
		m.Model = cfg.Model
		m.ProviderName = fakeProviderType
		fakeProviders.mocks[cfg.Model] = m
		return m, nil
	})
}

func fakeMock(model string) *MockCoreLLM {
	fakeProviders.Lock()
	defer fakeProviders.Unlock()
	return fakeProviders.mocks[model]
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	if cfg.Providers == nil {
		cfg.Providers = DefaultProviders
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	return r
}

func TestRegistry_ResolveModel(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	tests := []struct {
		spec         string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{spec: "gpt-4o", wantProvider: ProviderOpenAI, wantModel: "gpt-4o"},
		{spec: "o3-mini", wantProvider: ProviderOpenAI, wantModel: "o3-mini"},
		{spec: "gpt-5-preview", wantProvider: ProviderOpenAI, wantModel: "gpt-5-preview"},
		{spec: "claude-3-5-haiku-latest", wantProvider: ProviderAnthropic, wantModel: "claude-3-5-haiku-latest"},
		{spec: "claude-future-9", wantProvider: ProviderAnthropic, wantModel: "claude-future-9"},
		{spec: "gemini-2.5-pro", wantProvider: ProviderGoogle, wantModel: "gemini-2.5-pro"},
		{spec: "anthropic/my-finetune", wantProvider: ProviderAnthropic, wantModel: "my-finetune"},
		{spec: "google", wantProvider: ProviderGoogle, wantModel: "gemini-2.5-flash"},
		{spec: "llama-3", wantErr: true},
		{spec: "acme/model", wantErr: true},
		{spec: "openai/", wantErr: true},
		{spec: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			provider, model, err := r.ResolveModel(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrUnknownModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestRegistry_CheckCredentials(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{
		LookupEnv: env(map[string]string{"OPENAI_API_KEY": "sk-test", "GOOGLE_API_KEY": "  "}),
	})

	assert.NoError(t, r.CheckCredentials("gpt-4o", "gpt-4o-mini"))

	err := r.CheckCredentials("gpt-4o", "claude-3-5-sonnet-latest")
	var cfgErr *ports.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfgErr.ConfigKey)
	assert.ErrorIs(t, err, ports.ErrMissingCredential)

	assert.ErrorIs(t, r.CheckCredentials("gemini-2.5-pro"), ports.ErrMissingCredential,
		"blank credentials count as missing")
	assert.ErrorIs(t, r.CheckCredentials("mystery"), ports.ErrUnknownModel)
}

func TestRegistry_ClientIsCached(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{
		Providers: map[string]ProviderConfig{
			"fake": {Type: fakeProviderType, EnvVar: "FAKE_KEY", ModelPrefixes: []string{"cached-"}},
		},
		LookupEnv: env(map[string]string{"FAKE_KEY": "k"}),
	})

	a, err := r.Client("cached-model")
	require.NoError(t, err)
	b, err := r.Client("fake/cached-model")
	require.NoError(t, err)

	assert.Same(t, a, b, "the same model should reuse one client")
	assert.Equal(t, "cached-model", a.Model())
}

func TestRegistry_ClientMissingCredential(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{LookupEnv: env(nil)})

	_, err := r.Client("gpt-4o")

	assert.ErrorIs(t, err, ports.ErrMissingCredential)
}

func TestRegistry_StandardChain(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Given a fake provider that fails once and a 60 rpm budget
		r := newTestRegistry(t, RegistryConfig{
			Providers: map[string]ProviderConfig{
				"fake": {Type: fakeProviderType, EnvVar: "FAKE_KEY", ModelPrefixes: []string{"chain-"}, RequestsPerMinute: 60},
			},
			Limiter:   ratelimit.New(),
			Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
			LookupEnv: env(map[string]string{"FAKE_KEY": "k"}),
		})
		client, err := r.Client("chain-model")
		require.NoError(t, err)
		mock := fakeMock("chain-model")
		mock.FailUntilAttempt = 1

		// When generating
		text, err := client.Generate(context.Background(), testRequest)

		// Then the retry waits for the limiter's one second spacing, which
		// proves the limiter sits inside the retry loop
		require.NoError(t, err)
		assert.Equal(t, "test response", text)
		assert.Equal(t, 2, mock.GetCallCount())
		assert.Equal(t, time.Second, *mock.GetTimeBetweenCalls(0, 1))
		_, hasDeadline := mock.Contexts[0].Deadline()
		assert.True(t, hasDeadline, "attempts should carry the default timeout")
	})
}

func TestRegistry_RequestsPerMinute(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: DefaultProviders[ProviderOpenAI],
			"fake":         {Type: fakeProviderType},
		},
	})

	assert.Equal(t, 500, r.RequestsPerMinute(ProviderOpenAI))
	assert.Equal(t, DefaultRequestsPerMinute, r.RequestsPerMinute("fake"))
	assert.Equal(t, []string{"fake", ProviderOpenAI}, r.Providers())
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.ErrorContains(t, err, "at least one provider")

	_, err = NewRegistry(RegistryConfig{Providers: map[string]ProviderConfig{"x": {Type: "acme"}}})
	assert.ErrorContains(t, err, `unknown provider type "acme"`)
}
