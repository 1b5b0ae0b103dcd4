package cli

import (
	"context"
	"os"

	"github.com/gabapcia/utxosync/internal/ledgersync"
	"github.com/gabapcia/utxosync/internal/transfer"
	"github.com/gabapcia/utxosync/internal/utxoledger"

	"github.com/urfave/cli/v3"
)

// Run initializes and executes the utxosync CLI application.
//
// It registers all available commands, including:
//
//   - `start`: Starts the ledger sync pipeline for one or more addresses.
//   - `transfer`: Builds an unsigned transfer intent from locally tracked funds.
//   - `balance`: Prints the derived per-token balances of an address.
//   - `utxos`: Lists the spendable outputs of an address.
//   - `clear`: Deletes all locally cached state for an address.
//
// Parameters:
//   - ctx: Context used to control the lifecycle of the CLI application.
//   - sync: The ledgersync service implementation used by the pipeline command.
//   - ledger: The utxoledger manager used by the read and maintenance commands.
//   - builder: The transfer service implementation used by the transfer command.
//
// This function sets up shell completion and invokes the CLI framework to parse and run commands.
func Run(ctx context.Context, sync ledgersync.Service, ledger utxoledger.Manager, builder transfer.Service) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "utxosync",
		Description:           "Command-line interface for syncing wallet addresses and managing their UTXO set.",
		Usage:                 "utxosync [command] [flags]",
		Commands: []*cli.Command{
			startSyncCommand(sync),
			buildTransferCommand(builder),
			showBalanceCommand(ledger),
			listUtxosCommand(ledger),
			clearAddressCommand(ledger),
		},
	}

	return app.Run(ctx, os.Args)
}
