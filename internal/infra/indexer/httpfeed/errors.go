package httpfeed

import (
	"context"
	"errors"
	"fmt"
)

// StatusError reports a non-success HTTP status returned by the indexing
// service.
type StatusError struct {
	Code int // HTTP status code of the response
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer responded with status %d", e.Code)
}

// IsTransient reports whether err is worth retrying against the indexer.
//
// Server-side failures (5xx), throttling (429), and transport-level errors
// are transient; client-side rejections (other 4xx) and context cancellation
// are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}

	// Anything else is a transport-level failure (DNS, connection reset,
	// exhausted retries) and may succeed on a later attempt.
	return true
}
