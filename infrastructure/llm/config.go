package llm

import (
	"time"

	"github.com/ahrav/go-veritas/internal/ports"
)

// Request defaults shared by every provider.
const (
	// DefaultMaxTokens is used when neither the request nor the client sets
	// a token limit.
	DefaultMaxTokens = 4096

	// DefaultTimeout is the per-attempt deadline applied by the registry.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxAttempts is the number of attempts made for each request.
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is multiplied by the attempt number to get the
	// delay before the next attempt.
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultRequestsPerMinute applies to providers without a configured
	// limit.
	DefaultRequestsPerMinute = 60
)

// requestOptions is a provider-neutral view of a generation request after
// validation.
type requestOptions struct {
	model       string
	maxTokens   int
	temperature float64
	system      string
	seed        *int
}

// parseRequest clamps request parameters to the ranges accepted by all
// providers and fills in defaults.
func parseRequest(req ports.GenerationRequest, model string) requestOptions {
	maxTokens := req.MaxTokens
	if maxTokens < MinMaxTokens {
		maxTokens = DefaultMaxTokens
	}
	return requestOptions{
		model:       model,
		maxTokens:   maxTokens,
		temperature: ClampFloat64(req.Temperature, MinTemperature, MaxTemperature),
		system:      req.System,
		seed:        req.Seed,
	}
}
