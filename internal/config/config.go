// Package config loads the application configuration from environment
// variables and validates it before the rest of the system starts.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/gabapcia/utxosync/internal/pkg/validator"
)

// Config holds every runtime setting of the utxosync service. All fields are
// populated from environment variables; defaults cover everything except the
// external endpoints.
type Config struct {
	// ServiceName identifies this instance in logs and telemetry.
	ServiceName string `envconfig:"SERVICE_NAME" default:"utxosync"`

	// LogLevel is the minimum level emitted by the global logger
	// (debug, info, warn, error, panic, fatal).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// TelemetryEnabled toggles the OpenTelemetry pipelines. When false the
	// service only logs to stdout.
	TelemetryEnabled bool `envconfig:"TELEMETRY_ENABLED" default:"false"`

	// IndexerURL is the base URL of the external indexing service.
	IndexerURL string `envconfig:"INDEXER_URL" validate:"required,url"`

	// IndexerPollInterval is the delay between feed polling iterations.
	IndexerPollInterval time.Duration `envconfig:"INDEXER_POLL_INTERVAL" default:"2s"`

	// RedisURI is the connection string of the Redis instance backing the
	// UTXO store and sync checkpoints.
	RedisURI string `envconfig:"REDIS_URI" validate:"required,uri"`

	// EventCacheSize bounds the number of raw events kept in memory for
	// reorg replay.
	EventCacheSize int `envconfig:"EVENT_CACHE_SIZE" default:"10000" validate:"gt=0"`

	// ReorgWindowSize is how many recent block headers are retained for
	// fork-point detection.
	ReorgWindowSize int `envconfig:"REORG_WINDOW_SIZE" default:"100" validate:"gt=0"`

	// FinalityThreshold is the depth, in blocks, beyond which a reorg is
	// treated as deep and triggers a full resync.
	FinalityThreshold int `envconfig:"FINALITY_THRESHOLD" default:"64" validate:"gt=0"`

	// RetryAttempts is how many times transient indexer failures are
	// retried before the sync session restarts.
	RetryAttempts uint `envconfig:"RETRY_ATTEMPTS" default:"3" validate:"gt=0"`

	// RetryBaseDelay is the initial backoff delay between retry attempts.
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`

	// RetryMaxDelay caps the exponential backoff delay.
	RetryMaxDelay time.Duration `envconfig:"RETRY_MAX_DELAY" default:"16s"`

	// PendingLockTimeout is how long a transaction build may hold a UTXO
	// lock before the sweeper releases it.
	PendingLockTimeout time.Duration `envconfig:"PENDING_LOCK_TIMEOUT" default:"10m"`

	// PendingLockSweepInterval is how often expired locks are swept.
	PendingLockSweepInterval time.Duration `envconfig:"PENDING_LOCK_SWEEP_INTERVAL" default:"1m"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
