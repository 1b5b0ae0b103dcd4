package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/gabapcia/utxosync/internal/transfer"

	"github.com/urfave/cli/v3"
)

// buildTransferCommand returns a CLI command that builds an unsigned transfer
// intent funded by the sender's locally tracked outputs. The selected inputs
// stay locked until the intent confirms or expires.
//
// Usage example:
//
//	utxosync transfer --from addr1qxy... --to addr1qab... --amount 1500 --token NIGHT
func buildTransferCommand(builder transfer.Service) *cli.Command {
	return &cli.Command{
		Name:        "transfer",
		Description: "Builds an unsigned transfer intent from the sender's spendable outputs and prints it as JSON.",
		Usage:       "Assembles a transfer intent. The selected inputs are locked until the intent confirms or expires.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Sender wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount to transfer, as a base-10 integer",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Token type of the transferred amount",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "How long the intent stays valid before it expires",
				Value: 10 * time.Minute,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			amount, ok := new(big.Int).SetString(c.String("amount"), 10)
			if !ok {
				return fmt.Errorf("invalid amount %q", c.String("amount"))
			}

			result, err := builder.BuildTransfer(ctx, c.String("from"), c.String("to"), amount, c.String("token"), c.Duration("ttl"))
			if err != nil {
				return err
			}

			switch r := result.(type) {
			case transfer.BuildSuccess:
				data, err := json.MarshalIndent(r.Intent, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			case transfer.InsufficientFunds:
				return fmt.Errorf("insufficient funds: required %s, available %s (short %s)",
					r.Required.String(), r.Available.String(), r.Shortfall.String())
			default:
				return fmt.Errorf("unexpected build result %T", result)
			}
		},
	}
}
