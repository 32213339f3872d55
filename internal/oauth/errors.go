package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a provider config that cannot be used.
	ErrConfiguration = errors.New("invalid provider configuration")

	// ErrMissingProviderParameter is returned when a variant's required
	// field is empty. It wraps ErrConfiguration.
	ErrMissingProviderParameter = fmt.Errorf("%w: missing provider parameter", ErrConfiguration)

	ErrCryptoUnavailable = errors.New("cryptographic primitive unavailable")

	// ErrStateMismatch is returned when the callback state differs from
	// the persisted one.
	ErrStateMismatch = errors.New("oauth state mismatch")

	ErrMissingVerifier = errors.New("pkce code verifier not found")

	// ErrRefreshSkipped means refresh preconditions were not met. Adapters
	// log it and return no tokens rather than surfacing it.
	ErrRefreshSkipped = errors.New("refresh skipped")
)

// MissingParameter reports which required fields a variant is missing.
func MissingParameter(provider string, fields ...string) error {
	return fmt.Errorf("%w: %s requires %v", ErrMissingProviderParameter, provider, fields)
}

// ProviderHTTPError is a non-2xx or malformed response from a provider call.
type ProviderHTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderHTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ProviderError is an error the provider echoed back on the callback URL.
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}
