package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gabapcia/utxosync/internal/ledgersync"

	"github.com/urfave/cli/v3"
)

// startSyncCommand returns a CLI command that starts the ledger sync pipeline
// for one or more wallet addresses, including event ingestion, reorg tracking,
// and UTXO accounting.
//
// Usage example:
//
//	utxosync start --address addr1qxy... --address addr1qab...
//
// The process runs indefinitely until it receives an interrupt (SIGINT or SIGTERM).
func startSyncCommand(sync ledgersync.Service) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the sync pipeline for the given addresses, including event ingestion and UTXO accounting.",
		Usage:       "Initializes and runs the sync pipeline. Terminates gracefully on Ctrl+C or termination signals.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "address",
				Usage:    "Wallet address to sync. May be repeated.",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := sync.Start(ctx); err != nil {
				return err
			}
			defer sync.Close()

			for _, address := range c.StringSlice("address") {
				if err := sync.SyncAddress(address); err != nil {
					return err
				}
			}

			<-quit
			return nil
		},
	}
}
