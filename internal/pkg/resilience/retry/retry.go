// Package retry provides a configurable retry mechanism for operations that may
// fail temporarily. It wraps the retry-go package from Avast and exposes a
// simple interface with functional options for customizing retry behavior.
//
// The package implements an exponential backoff strategy by default and
// distinguishes between transient failures, which are retried until the
// attempt budget is exhausted, and permanent failures, which abort
// immediately. An error is considered permanent when it has been wrapped with
// Unrecoverable, or when a classifier installed via WithClassifier reports it
// as non-retryable.
//
// Basic usage:
//
//	r := retry.New()
//	err := r.Execute(context.Background(), func() error {
//	    return someOperation()
//	})
//
// With custom options:
//
//	r := retry.New(
//	    retry.WithAttempts(5),
//	    retry.WithDelay(2*time.Second),
//	    retry.WithMaxDelay(16*time.Second),
//	    retry.WithClassifier(isTransient),
//	)
package retry

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// Retry defines the interface for retry operations.
// Implementations of this interface provide a mechanism to execute operations
// with automatic retry logic in case of failures.
type Retry interface {
	// Execute runs the given function with configured retry logic.
	// It will retry the operation according to the configured parameters
	// if it returns an error.
	//
	// The context allows for cancellation and timeout control. If the context
	// is canceled or times out, the operation will stop retrying and return
	// the context error.
	//
	// The operation function should be idempotent (safe to call multiple
	// times) and should return nil on success or an error on failure. Errors
	// wrapped with Unrecoverable, and errors the configured classifier
	// reports as non-transient, are returned without further attempts.
	//
	// Execute returns nil if the operation succeeds within the configured
	// number of attempts, or an error if all attempts fail, a permanent
	// failure is hit, or the context is done.
	Execute(ctx context.Context, operation func() error) error
}

// config holds internal settings for the retry mechanism.
type config struct {
	attempts    uint             // maximum number of attempts (initial + retries)
	delay       time.Duration    // base delay between retry attempts
	maxDelay    time.Duration    // maximum delay between retry attempts
	lastErrOnly bool             // whether to return only the last error
	classifier  func(error) bool // reports whether an error is transient (retryable)
}

// Option defines a functional option for configuring the retry mechanism.
// Options are applied in the order they are provided to New().
type Option func(*config)

// retrier implements the Retry interface using the retry-go package.
type retrier struct {
	cfg config
}

// Compile-time assertion that retrier implements the Retry interface
var _ Retry = (*retrier)(nil)

// New creates and returns a Retry implementation configured with
// the provided options. If no options are given, default values are used.
//
// Default configuration:
//   - attempts:    3 (1 initial attempt + 2 retries)
//   - delay:       1 second (base delay, doubled on each retry)
//   - maxDelay:    16 seconds (maximum delay between retries)
//   - lastErrOnly: true (only the last error is returned)
//   - classifier:  nil (every error is treated as transient)
//   - delayType:   Exponential backoff (not configurable)
func New(opts ...Option) Retry {
	cfg := config{
		attempts:    3,
		delay:       1 * time.Second,
		maxDelay:    16 * time.Second,
		lastErrOnly: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &retrier{
		cfg: cfg,
	}
}

// Execute implements the Retry interface.
// It runs the given operation with retry logic according to the configured
// parameters.
//
// The operation is first attempted immediately. If it fails with a transient
// error, it is retried with exponential backoff delays between attempts, up
// to the configured maximum number of attempts. Permanent failures short
// circuit the loop and are returned as-is.
func (r *retrier) Execute(ctx context.Context, operation func() error) error {
	options := []retry.Option{
		retry.Attempts(r.cfg.attempts),
		retry.Delay(r.cfg.delay),
		retry.MaxDelay(r.cfg.maxDelay),
		retry.DelayType(retry.BackOffDelay), // Use exponential backoff
		retry.LastErrorOnly(r.cfg.lastErrOnly),
		retry.Context(ctx), // Use the provided context for cancellation
	}

	if r.cfg.classifier != nil {
		options = append(options, retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			return r.cfg.classifier(err)
		}))
	}

	return retry.Do(operation, options...)
}

// Unrecoverable marks an error as permanent. Execute returns it immediately
// without consuming further attempts, regardless of the configured classifier.
//
// Use this for failures that retrying cannot fix, such as malformed responses
// or rejected input.
func Unrecoverable(err error) error {
	return retry.Unrecoverable(err)
}

// WithAttempts sets the maximum number of attempts (including the initial attempt).
// Default: 3 (1 initial attempt + 2 retries).
//
// Example:
//
//	// Configure for 5 total attempts (1 initial + 4 retries)
//	retry.New(retry.WithAttempts(5))
func WithAttempts(n uint) Option {
	return func(c *config) {
		c.attempts = n
	}
}

// WithDelay sets the base delay between retry attempts.
// This is the initial delay value used for the first retry.
// With exponential backoff, subsequent delays will increase.
// Default: 1 second.
//
// Example:
//
//	// Set initial delay to 500ms
//	retry.New(retry.WithDelay(500 * time.Millisecond))
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay sets the maximum delay between retry attempts.
// This caps the exponential growth of the delay to prevent
// excessively long waits between retries.
// Default: 16 seconds.
//
// Example:
//
//	// Set maximum delay to 10 seconds
//	retry.New(retry.WithMaxDelay(10 * time.Second))
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithLastErrorOnly sets whether to return only the last error.
// When true, only the error from the final attempt is returned.
// When false, all errors from all attempts are combined.
// Default: true.
//
// Example:
//
//	// Return all errors, not just the last one
//	retry.New(retry.WithLastErrorOnly(false))
func WithLastErrorOnly(b bool) Option {
	return func(c *config) {
		c.lastErrOnly = b
	}
}

// WithClassifier installs a predicate that reports whether an error is
// transient. Errors for which the classifier returns false are not retried.
// Errors marked with Unrecoverable are never retried, even if the classifier
// would accept them. Default: nil, meaning every error is retried.
//
// Example:
//
//	retry.New(retry.WithClassifier(func(err error) bool {
//	    return errors.Is(err, io.ErrUnexpectedEOF)
//	}))
func WithClassifier(f func(error) bool) Option {
	return func(c *config) {
		c.classifier = f
	}
}
