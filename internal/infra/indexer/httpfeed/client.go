// Package httpfeed implements the ledgersync.EventFeed interface on top of
// the indexing service's HTTP API. It polls for new feed items and streams
// them as FeedEvent values.
package httpfeed

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/gabapcia/utxosync/internal/ledgersync"
	"github.com/gabapcia/utxosync/internal/pkg/transport/http"
)

const (
	// defaultPollInterval defines how often the subscription loop asks the
	// indexer for new feed items.
	defaultPollInterval = 2 * time.Second

	// averageNumberOfItemsPerPoll defines the default buffer size for the
	// subscription channel.
	averageNumberOfItemsPerPoll = 200
)

// config holds internal settings for the indexer client.
type config struct {
	pollInterval time.Duration         // delay between subscription polling iterations
	httpClient   *retryablehttp.Client // transport used for all indexer requests
}

// Option defines a functional option for configuring the indexer client.
type Option func(*config)

// WithPollInterval sets the delay between subscription polling iterations.
// Default: 2 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful for tests and
// for callers that need custom retry or timeout behavior.
func WithHTTPClient(hc *retryablehttp.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// client implements the ledgersync.EventFeed interface against the indexing
// service's HTTP API.
type client struct {
	baseURL      string                // Indexer base URL without trailing slash
	conn         *retryablehttp.Client // Underlying HTTP client with retry support
	pollInterval time.Duration         // Delay between subscription polling iterations
}

// Ensure client implements the ledgersync.EventFeed interface at compile time.
var _ ledgersync.EventFeed = (*client)(nil)

// NewClient creates a new indexer feed client for the given base URL.
// If no HTTP client is provided, a default retrying client is used.
func NewClient(baseURL string, opts ...Option) *client {
	cfg := config{
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.httpClient == nil {
		cfg.httpClient = http.NewClient()
	}

	return &client{
		baseURL:      baseURL,
		conn:         cfg.httpClient,
		pollInterval: cfg.pollInterval,
	}
}
