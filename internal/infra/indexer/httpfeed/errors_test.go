package httpfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	err := &StatusError{Code: http.StatusNotFound}
	assert.Equal(t, "indexer responded with status 404", err.Error())
}

func TestIsTransient(t *testing.T) {
	t.Run("nil error is not transient", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
	})

	t.Run("context cancellation is not transient", func(t *testing.T) {
		assert.False(t, IsTransient(context.Canceled))
		assert.False(t, IsTransient(context.DeadlineExceeded))
		assert.False(t, IsTransient(fmt.Errorf("poll: %w", context.Canceled)))
	})

	t.Run("server side statuses are transient", func(t *testing.T) {
		assert.True(t, IsTransient(&StatusError{Code: http.StatusInternalServerError}))
		assert.True(t, IsTransient(&StatusError{Code: http.StatusBadGateway}))
		assert.True(t, IsTransient(&StatusError{Code: http.StatusServiceUnavailable}))
	})

	t.Run("rate limiting is transient", func(t *testing.T) {
		assert.True(t, IsTransient(&StatusError{Code: http.StatusTooManyRequests}))
	})

	t.Run("client side statuses are permanent", func(t *testing.T) {
		assert.False(t, IsTransient(&StatusError{Code: http.StatusBadRequest}))
		assert.False(t, IsTransient(&StatusError{Code: http.StatusNotFound}))
		assert.False(t, IsTransient(&StatusError{Code: http.StatusUnauthorized}))
	})

	t.Run("wrapped status errors are unwrapped", func(t *testing.T) {
		err := fmt.Errorf("fetch feed: %w", &StatusError{Code: http.StatusGatewayTimeout})
		assert.True(t, IsTransient(err))
	})

	t.Run("transport failures are transient", func(t *testing.T) {
		assert.True(t, IsTransient(errors.New("connection refused")))
	})
}
