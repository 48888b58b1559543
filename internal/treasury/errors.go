package treasury

import (
	"errors"
	"fmt"
)

// Chain access errors.
var (
	// ErrUnsupportedChain is returned when a chain id is not in the registry.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrAllEndpointsFailed is returned when every RPC endpoint of a chain
	// failed for a single call.
	ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")
)

// Deployment errors.
var (
	// ErrSourceAccountMissing is returned when deployment is requested but no
	// deployed source account exists to read the owner config from.
	ErrSourceAccountMissing = errors.New("source account not deployed")

	// ErrAddressConflict is returned when the predicted address already has
	// bytecode that is not a compatible account.
	ErrAddressConflict = errors.New("predicted address already occupied")

	// ErrDeploymentTxFailed is returned when a deployment transaction was
	// mined but reverted, or the account is absent after confirmation.
	ErrDeploymentTxFailed = errors.New("deployment transaction failed")

	// ErrInvalidTransition is returned when a deployment coordinator
	// operation is invoked from a state that does not permit it.
	ErrInvalidTransition = errors.New("invalid deployment state transition")
)

// Bridge errors.
var (
	// ErrNoRoute is returned when no provider can serve the requested
	// source/destination/token combination.
	ErrNoRoute = errors.New("no bridge route available")

	// ErrQuoteExpired is returned when transaction building is attempted
	// with a quote older than its validity window.
	ErrQuoteExpired = errors.New("bridge quote expired")

	// ErrQuoteMismatch is returned when a supplied quote does not match the
	// transfer parameters it is being used for.
	ErrQuoteMismatch = errors.New("bridge quote does not match transfer")

	// ErrPollingExhausted is returned internally when a fill tracker runs
	// out of attempts; callers see a pending status instead.
	ErrPollingExhausted = errors.New("fill polling attempts exhausted")
)

// ProviderError wraps a failed call to an external bridge API, preserving the
// HTTP status and response body for diagnosis.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is maps provider responses onto sentinel errors. A 404 from a quote API
// means no route serves the request.
func (e *ProviderError) Is(target error) bool {
	if target == ErrNoRoute && e.StatusCode == 404 {
		return true
	}
	return false
}

// NewProviderError builds a ProviderError from an HTTP response.
func NewProviderError(provider string, statusCode int, body string) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Body: body}
}

// WrapProviderError builds a ProviderError around a transport failure.
func WrapProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err}
}
