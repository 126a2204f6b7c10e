package retrypolicy

import "errors"

// Sentinel errors a Provider implementation should wrap with %w so Classify
// can recognize them regardless of the underlying transport.
var (
	// ErrContextOverflow indicates the provider rejected the request because
	// the conversation exceeds its context window.
	ErrContextOverflow = errors.New("retrypolicy: context window exceeded")
	// ErrRateLimited indicates a 429-equivalent response.
	ErrRateLimited = errors.New("retrypolicy: rate limited")
	// ErrUpstreamUnavailable indicates a 5xx-equivalent response.
	ErrUpstreamUnavailable = errors.New("retrypolicy: upstream unavailable")
)
