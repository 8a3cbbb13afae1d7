package upstream

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy shared by every provider.
type Category string

const (
	// CategoryTimeout means the provider did not answer within the call timeout.
	CategoryTimeout Category = "timeout"
	// CategoryOutage covers connection failures and 5xx responses.
	CategoryOutage Category = "provider_outage"
	// CategoryBadData means the payload could not be decoded or had an unexpected shape.
	CategoryBadData Category = "bad_data"
	// CategoryNotFound means the provider has no record for the request.
	CategoryNotFound Category = "not_found"
	// CategoryRateLimited means the provider answered 429.
	CategoryRateLimited Category = "rate_limited"
	// CategoryInternal is anything else.
	CategoryInternal Category = "internal"
)

// ErrEmptyPayload is returned when a provider answered successfully with nothing usable.
var ErrEmptyPayload = errors.New("upstream: empty payload")

// ProviderError wraps a provider failure with its normalized category.
type ProviderError struct {
	Category   Category
	Provider   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError builds a ProviderError; timeouts, outages and rate limits are retryable.
func NewProviderError(category Category, provider, message string, underlying error) *ProviderError {
	retryable := category == CategoryTimeout ||
		category == CategoryOutage ||
		category == CategoryRateLimited

	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether err is a ProviderError worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf extracts the category from err, defaulting to CategoryInternal.
func CategoryOf(err error) Category {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}
