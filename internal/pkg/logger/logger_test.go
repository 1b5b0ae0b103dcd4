package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetLogger resets the global logger state for testing
func resetLogger() {
	logger = nil
	initOnce = sync.Once{}
}

func TestInit(t *testing.T) {
	t.Run("successful initialization with default level", func(t *testing.T) {
		resetLogger()
		err := Init()
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("successful initialization with custom level", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			resetLogger()
			err := Init(WithLevel(level))
			require.NoError(t, err, "Init() should accept the %q level", level)
			assert.NotNil(t, logger)
		}
	})

	t.Run("error with invalid level", func(t *testing.T) {
		resetLogger()
		err := Init(WithLevel("invalid"))
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("init only once", func(t *testing.T) {
		resetLogger()

		// First initialization
		err1 := Init(WithLevel("debug"))
		require.NoError(t, err1)
		firstLogger := logger

		// Second initialization should not change the logger
		err2 := Init(WithLevel("error"))
		require.NoError(t, err2)
		assert.Equal(t, firstLogger, logger, "Init() should only initialize once")
	})
}

func TestLogFunctions(t *testing.T) {
	resetLogger()
	require.NoError(t, Init(WithLevel("debug")))

	ctx := t.Context()

	// Each helper must accept a message with key/value context without
	// panicking once the global logger is initialized.
	assert.NotPanics(t, func() { Debug(ctx, "debug message", "key", "value") })
	assert.NotPanics(t, func() { Info(ctx, "info message", "key", "value") })
	assert.NotPanics(t, func() { Warn(ctx, "warn message", "key", "value") })
	assert.NotPanics(t, func() { Error(ctx, "error message", "key", "value") })
	assert.Panics(t, func() { Panic(ctx, "panic message") }, "Panic() should panic after logging")
}

func TestSync(t *testing.T) {
	resetLogger()
	require.NoError(t, Init())

	// Syncing stdout may fail on some platforms; the call itself must be safe.
	assert.NotPanics(t, func() { _ = Sync() })
}
