package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrInvalidConfig is returned when a generator or rewriter configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrInvalidResponse is returned when the provider response cannot be used
	ErrInvalidResponse = errors.New("invalid response from provider")

	// ErrContentBlocked is returned when the provider refuses a prompt on policy grounds
	ErrContentBlocked = errors.New("content blocked by provider safety policy")

	// ErrEmptyPrompt is returned when a request carries no prompt text
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// ProviderError carries the human-readable message returned by a provider.
// The batch core classifies failures from this message text, so implementations
// must keep the provider's wording (status codes, policy terms) intact.
type ProviderError struct {
	// Code is the provider status code when one is known, zero otherwise
	Code int

	// Message is the provider's error text
	Message string

	// Err is an optional underlying error
	Err error
}

// NewProviderError builds a ProviderError from a formatted message.
func NewProviderError(code int, format string, args ...any) *ProviderError {
	return &ProviderError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
