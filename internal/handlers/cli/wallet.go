package cli

import (
	"context"
	"fmt"

	"github.com/gabapcia/utxosync/internal/utxoledger"

	"github.com/urfave/cli/v3"
)

// showBalanceCommand returns a CLI command that prints the derived per-token
// balances of a wallet address.
//
// Usage example:
//
//	utxosync balance --address addr1qxy...
func showBalanceCommand(ledger utxoledger.Manager) *cli.Command {
	return &cli.Command{
		Name:        "balance",
		Description: "Prints the per-token balances of an address, derived from its spendable outputs.",
		Usage:       "Shows the current balances of a wallet address.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Wallet address to inspect",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			balances, err := ledger.Balances(ctx, c.String("address"))
			if err != nil {
				return err
			}

			if len(balances) == 0 {
				fmt.Println("no spendable outputs")
				return nil
			}

			for _, balance := range balances {
				fmt.Printf("%s\t%s\t(%d utxos)\n", balance.TokenType, balance.Amount.String(), balance.UtxoCount)
			}
			return nil
		},
	}
}

// listUtxosCommand returns a CLI command that lists the spendable outputs of
// a wallet address.
//
// Usage example:
//
//	utxosync utxos --address addr1qxy...
func listUtxosCommand(ledger utxoledger.Manager) *cli.Command {
	return &cli.Command{
		Name:        "utxos",
		Description: "Lists the spendable outputs of an address with their token type and value.",
		Usage:       "Shows the AVAILABLE outputs of a wallet address.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Wallet address to inspect",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			utxos, err := ledger.UnspentUtxos(ctx, c.String("address"))
			if err != nil {
				return err
			}

			for _, utxo := range utxos {
				fmt.Printf("%s\t%s\t%s\n", utxo.Ref(), utxo.TokenType, utxo.Value.String())
			}
			return nil
		},
	}
}

// clearAddressCommand returns a CLI command that deletes all locally cached
// state for a wallet address. The next sync of the address rebuilds its UTXO
// set from scratch.
//
// Usage example:
//
//	utxosync clear --address addr1qxy...
func clearAddressCommand(ledger utxoledger.Manager) *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Description: "Deletes all locally cached outputs of an address so the next sync rebuilds them from scratch.",
		Usage:       "Clears the local UTXO set of a wallet address.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Wallet address to clear",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return ledger.ClearUtxos(ctx, c.String("address"))
		},
	}
}
