package vlm

import (
	"fmt"
	"net/http"

	"github.com/BaSui01/crisislens/types"
)

// Unavailable wraps an upstream failure into the uniform provider error.
// Every provider maps timeouts, auth failures, rate limits and malformed
// responses to this one code so the orchestrator can treat them alike.
// The message carries only redacted text; the original error stays in Cause
// for server-side logs.
func Unavailable(provider string, cause error) *types.Error {
	msg := fmt.Sprintf("provider %s unavailable", provider)
	if cause != nil {
		msg = fmt.Sprintf("provider %s unavailable: %s", provider, RedactError(cause))
	}
	return types.NewError(types.ErrProviderUnavailable, msg).
		WithProvider(provider).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// AllFailed is returned when the fallback chain is exhausted.
func AllFailed(attempted []string, last error) *types.Error {
	msg := fmt.Sprintf("all %d providers failed", len(attempted))
	return types.NewError(types.ErrAllProvidersFailed, msg).
		WithCause(last).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}
