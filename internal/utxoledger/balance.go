package utxoledger

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/gabapcia/utxosync/internal/pkg/types"
)

// ErrBalanceUnderflow signals a fund-accounting invariant violation: an
// outcome tried to spend an output that is missing or already spent by a
// different transaction. This is
// either a double-spend race or a missed rollback, and it is deliberately a
// loud failure. Clamping the balance to zero instead would silently hide the
// bug.
var ErrBalanceUnderflow = errors.New("balance underflow")

// BalanceMap folds the snapshot into per-token balances: for each token, the
// sum of the values of the owner's AVAILABLE outputs. PENDING and SPENT
// outputs contribute nothing.
func BalanceMap(utxos []Utxo) map[string]*big.Int {
	balances := make(map[string]*big.Int)
	for _, u := range utxos {
		if u.State != StateAvailable {
			continue
		}

		total, ok := balances[u.TokenType]
		if !ok {
			total = new(big.Int)
			balances[u.TokenType] = total
		}
		total.Add(total, u.Value)
	}

	return balances
}

// TokenBalances folds the snapshot into a TokenBalance per token, sorted by
// token type for deterministic output.
func TokenBalances(utxos []Utxo) []TokenBalance {
	counts := types.NewDefaultMap[string](func() int { return 0 })
	for _, u := range utxos {
		if u.State == StateAvailable {
			counts.Set(u.TokenType, counts.Get(u.TokenType)+1)
		}
	}

	amounts := BalanceMap(utxos)

	balances := make([]TokenBalance, 0, len(amounts))
	for token, amount := range amounts {
		balances = append(balances, TokenBalance{
			TokenType: token,
			Amount:    amount,
			UtxoCount: counts.Get(token),
		})
	}

	slices.SortFunc(balances, func(a, b TokenBalance) int {
		return strings.Compare(a.TokenType, b.TokenType)
	})

	return balances
}

// PlanOutcome translates a TransactionOutcome into the atomic Change that
// applies it to the given snapshot, enforcing the accounting rules:
//
//   - SUCCESS and PARTIAL_SUCCESS: spent outputs move to SPENT (from either
//     AVAILABLE or PENDING), created outputs are inserted AVAILABLE.
//   - FAILURE: created outputs are not inserted (they never existed
//     on-chain); spent outputs that are locally PENDING are released back to
//     AVAILABLE. Spent refs the snapshot does not hold are ignored: a failed
//     transaction consumed nothing.
//
// Delivery is at-least-once, so the whole plan is idempotent per transaction:
// created outputs already stored are kept as stored, and a spent ref already
// SPENT by this same transaction is skipped. For SUCCESS and PARTIAL_SUCCESS,
// a spent ref that is missing from the snapshot or SPENT by a different
// transaction is an invariant violation and yields ErrBalanceUnderflow.
func PlanOutcome(snapshot []Utxo, outcome TransactionOutcome) (Change, error) {
	byRef := make(map[UtxoRef]Utxo, len(snapshot))
	for _, u := range snapshot {
		byRef[u.Ref()] = u
	}

	var change Change

	switch outcome.Status {
	case StatusSuccess, StatusPartialSuccess:
		for _, ref := range outcome.Spent {
			current, ok := byRef[ref]
			if !ok {
				return Change{}, fmt.Errorf("%w: spend of %s (tx %s)", ErrBalanceUnderflow, ref, outcome.TransactionHash)
			}

			if current.State == StateSpent {
				// A spend already recorded for this same transaction is a
				// redelivery, not a double spend.
				if current.SpentByTx == outcome.TransactionHash {
					continue
				}
				return Change{}, fmt.Errorf("%w: spend of %s (tx %s)", ErrBalanceUnderflow, ref, outcome.TransactionHash)
			}

			change.Transitions = append(change.Transitions, StateTransition{
				Ref:           ref,
				From:          current.State,
				To:            StateSpent,
				SpentAtHeight: outcome.BlockHeight,
				SpentByTx:     outcome.TransactionHash,
			})
		}

		seen := types.NewSet[UtxoRef]()
		for _, created := range outcome.Created {
			// The indexer may redeliver an outcome after a shallow reorg
			// replay; re-inserting an output that is already stored keeps
			// the stored copy.
			if _, exists := byRef[created.Ref()]; exists {
				continue
			}
			if _, dup := seen[created.Ref()]; dup {
				continue
			}
			seen.Add(created.Ref())

			created.State = StateAvailable
			created.CreatedAtHeight = outcome.BlockHeight
			created.LockedAt = nil
			change.Insert = append(change.Insert, created)
		}

	case StatusFailure:
		for _, ref := range outcome.Spent {
			current, ok := byRef[ref]
			if !ok || current.State != StatePending {
				continue
			}

			change.Transitions = append(change.Transitions, StateTransition{
				Ref:  ref,
				From: StatePending,
				To:   StateAvailable,
			})
		}

	default:
		return Change{}, fmt.Errorf("unknown transaction outcome status: %s", outcome.Status)
	}

	return change, nil
}
