package llm

// BaseProvider provides the identity shared by all providers.
type BaseProvider struct {
	name  string
	model string
}

// GetModel returns the name of the model configured for the provider.
func (b *BaseProvider) GetModel() string { return b.model }

// Provider returns the provider name.
func (b *BaseProvider) Provider() string { return b.name }

// TokenCounter provides a utility for estimating token counts from text.
// This is useful when a provider response omits usage data.
type TokenCounter struct {
	// CharactersPerToken represents the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a new TokenCounter with a default character-per-token ratio.
// The default is a general approximation suitable for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for a given string of text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns the actual token count if it is available and positive.
// Otherwise, it falls back to estimating the count based on the provided text.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
