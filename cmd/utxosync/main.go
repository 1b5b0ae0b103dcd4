package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gabapcia/utxosync/internal/config"
	"github.com/gabapcia/utxosync/internal/handlers/cli"
	"github.com/gabapcia/utxosync/internal/infra/indexer/httpfeed"
	"github.com/gabapcia/utxosync/internal/infra/storage/redis"
	"github.com/gabapcia/utxosync/internal/ledgersync"
	"github.com/gabapcia/utxosync/internal/pkg/logger"
	"github.com/gabapcia/utxosync/internal/pkg/resilience/retry"
	"github.com/gabapcia/utxosync/internal/pkg/telemetry"
	"github.com/gabapcia/utxosync/internal/transfer"
	"github.com/gabapcia/utxosync/internal/utxoledger"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer shutdown(ctx)
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	storage, err := redis.NewClient(ctx, cfg.RedisURI)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer storage.Close()

	feed := httpfeed.NewClient(cfg.IndexerURL,
		httpfeed.WithPollInterval(cfg.IndexerPollInterval),
	)

	ledger := utxoledger.New(storage)
	builder := transfer.New(ledger)

	syncSvc := ledgersync.New(
		feed,
		ledger,
		ledgersync.WithEventCacheSize(cfg.EventCacheSize),
		ledgersync.WithReorgWindow(cfg.ReorgWindowSize, uint64(cfg.FinalityThreshold)),
		ledgersync.WithCheckpointStorage(storage),
		ledgersync.WithRetry(retry.New(
			retry.WithAttempts(cfg.RetryAttempts),
			retry.WithDelay(cfg.RetryBaseDelay),
			retry.WithMaxDelay(cfg.RetryMaxDelay),
			retry.WithClassifier(httpfeed.IsTransient),
		)),
		ledgersync.WithTransientClassifier(httpfeed.IsTransient),
		ledgersync.WithPendingLockTimeout(cfg.PendingLockTimeout, cfg.PendingLockSweepInterval),
	)

	// Balance observers must also see mutations performed outside the sync
	// loop, such as transaction builds and lock releases.
	ledger.SetChangeNotifier(syncSvc.NotifyLedgerChange)

	return cli.Run(ctx, syncSvc, ledger, builder)
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
