package provider

import (
	"errors"
	"fmt"
	"time"
)

// ProviderError is a transient provider failure (network error, 5xx,
// unparseable response). The batch translator retries it with exponential
// backoff before falling back to the next provider.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError is a 429 response. Retryable after RetryAfter.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// Retryable reports whether err is a transient provider failure worth
// retrying on the same provider.
func Retryable(err error) bool {
	var pe *ProviderError
	var rle *RateLimitError
	return errors.As(err, &pe) || errors.As(err, &rle)
}

// RetryDelay returns the server-requested delay when err carries one, and
// ok=false otherwise.
func RetryDelay(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}
