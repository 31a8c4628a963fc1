package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external service
// interactions.
var (
	// ErrRateLimited indicates that the service has rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the service returned an invalid
	// response.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrMissingCredential indicates that the API credential for a provider
	// is not configured.
	ErrMissingCredential = errors.New("missing API credential")

	// ErrUnknownModel indicates that no configured provider serves a model.
	ErrUnknownModel = errors.New("unknown model")
)

// GenerationError is returned by a GenerationClient once all attempts of a
// request have failed. It aborts the current run, which stays resumable.
type GenerationError struct {
	// Provider is the provider that served the failed request.
	Provider string

	// Model is the identifier of the model that generated the error.
	Model string

	// Attempts is the number of attempts made before giving up.
	Attempts int

	// Err is the error of the last attempt.
	Err error
}

// Error implements the error interface for GenerationError.
func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generation failed: provider=%s, model=%s", e.Provider, e.Model)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(", attempts=%d", e.Attempts)
	}
	return msg + fmt.Sprintf(", err=%v", e.Err)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new GenerationError with the given details.
func NewGenerationError(provider, model string, attempts int, err error) *GenerationError {
	return &GenerationError{
		Provider: provider,
		Model:    model,
		Attempts: attempts,
		Err:      err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}

// StoreError represents a failed persistence operation.
type StoreError struct {
	// Operation is the name of the store operation that failed.
	Operation string

	// Key identifies the record involved.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(operation, key string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}
