package marketdata

import (
	"errors"
	"fmt"
)

// ProviderError classifies failures at the market data provider boundary.
// A run that exhausts its retry budget fails with one of these.
type ProviderError struct {
	Symbol string
	Msg    string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error for %s: %s: %v", e.Symbol, e.Msg, e.Err)
	}
	return fmt.Sprintf("provider error for %s: %s", e.Symbol, e.Msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError creates a provider-classified error
func NewProviderError(symbol, msg string, err error) *ProviderError {
	return &ProviderError{Symbol: symbol, Msg: msg, Err: err}
}

// IsProviderError reports whether err is provider-classified
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// RateLimitError indicates the provider pushed back with HTTP 429
type RateLimitError struct {
	Symbol string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit exceeded for %s", e.Symbol)
}
