package providers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure. The router treats KindRateLimit
// as a backoff-then-fallback signal; every other kind falls over immediately.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuthentication ErrorKind = "authentication"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindProvider       ErrorKind = "provider"
)

// ProviderError is a classified failure from a provider backend
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewRateLimitError reports that the provider rejected the call for quota
func NewRateLimitError(provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: KindRateLimit, Provider: provider, Message: message, Err: err}
}

// NewAuthenticationError reports failed credentials
func NewAuthenticationError(provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: KindAuthentication, Provider: provider, Message: message, Err: err}
}

// NewInvalidRequestError reports a request the provider refused as malformed
func NewInvalidRequestError(provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: KindInvalidRequest, Provider: provider, Message: message, Err: err}
}

// NewProviderError reports any other provider-side failure
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: KindProvider, Provider: provider, Message: message, Err: err}
}

// Classify wraps err into the taxonomy. A *ProviderError passes through
// unchanged; anything else becomes a generic KindProvider error, so nothing
// is ever silently swallowed at the boundary.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewProviderError(provider, "unexpected provider error", err)
}

// Kind returns the classification of err, or KindProvider for unclassified errors
func Kind(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProvider
}

// IsRateLimit reports whether err is a rate-limit signal
func IsRateLimit(err error) bool {
	return Kind(err) == KindRateLimit
}
