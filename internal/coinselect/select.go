// Package coinselect implements pure coin selection over a caller-supplied
// UTXO snapshot.
//
// The selector is generic over the UTXO representation: callers provide
// accessor functions for value (and, for multi-token selection, token type)
// instead of the package depending on a concrete ledger model. Selection
// iterates the snapshot in exactly the order supplied by the caller — it
// never sorts. Callers wanting smallest-first selection must pass the
// snapshot in ascending value order.
//
// Insufficient funds is an expected business outcome and is reported as a
// typed result, never as an error. Errors are reserved for caller contract
// violations such as a non-positive required amount.
package coinselect

import (
	"errors"
	"math/big"
	"slices"

	"github.com/gabapcia/utxosync/internal/pkg/types"
)

// ErrInvalidAmount is returned when the required amount is nil or not
// strictly positive. This is a caller bug, not a business outcome.
var ErrInvalidAmount = errors.New("required amount must be strictly positive")

// Result is the outcome of a single-token selection. It is a closed tagged
// union; the only implementations are Success and InsufficientFunds.
type Result[U any] interface {
	isSelectionResult()
}

// Success holds a selection that covers the required amount.
//
// The selection is minimal in the greedy sense: removing the last selected
// output would leave the remaining total below the required amount.
type Success[U any] struct {
	Selected []U      // Chosen outputs, in input order
	Total    *big.Int // Sum of the chosen outputs' values
	Change   *big.Int // Total minus the required amount, always >= 0
}

func (Success[U]) isSelectionResult() {}

// InsufficientFunds reports that the full snapshot sums to less than the
// required amount.
type InsufficientFunds[U any] struct {
	Required  *big.Int // Amount that was requested
	Available *big.Int // Sum of the entire snapshot
	Shortfall *big.Int // Required minus Available, always > 0
}

func (InsufficientFunds[U]) isSelectionResult() {}

// Select accumulates outputs from utxos, in the given order, until the
// running total reaches required, and returns Success with the selection,
// its total, and the change. If the whole snapshot is insufficient it
// returns InsufficientFunds with the exact shortfall.
//
// value extracts the amount carried by an output. required must be strictly
// positive or Select fails with ErrInvalidAmount.
func Select[U any](utxos []U, value func(U) *big.Int, required *big.Int) (Result[U], error) {
	if required == nil || required.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var (
		selected = make([]U, 0)
		total    = new(big.Int)
	)
	for _, u := range utxos {
		selected = append(selected, u)
		total.Add(total, value(u))

		if total.Cmp(required) >= 0 {
			return Success[U]{
				Selected: selected,
				Total:    total,
				Change:   new(big.Int).Sub(total, required),
			}, nil
		}
	}

	return InsufficientFunds[U]{
		Required:  new(big.Int).Set(required),
		Available: total,
		Shortfall: new(big.Int).Sub(required, total),
	}, nil
}

// MultiResult is the outcome of a multi-token selection. It is a closed
// tagged union; the only implementations are MultiSuccess and
// MultiPartialFailure.
type MultiResult[U any] interface {
	isMultiSelectionResult()
}

// MultiSuccess holds one successful selection per required token.
type MultiSuccess[U any] struct {
	Selections map[string]Success[U] // Keyed by token type
}

func (MultiSuccess[U]) isMultiSelectionResult() {}

// MultiPartialFailure reports that at least one token's requirement could not
// be met. Selections holds the successful selections of the other tokens so
// callers can build precise error messages.
type MultiPartialFailure[U any] struct {
	FailedToken string                // First insufficient token in ascending lexicographic order
	Required    *big.Int              // Requirement for the failed token
	Available   *big.Int              // What the snapshot held for the failed token
	Selections  map[string]Success[U] // Successful selections for the other tokens
}

func (MultiPartialFailure[U]) isMultiSelectionResult() {}

// SelectMultiToken partitions the snapshot by token type and runs Select once
// per required token, preserving the caller's input order within each
// partition.
//
// Token requirements are evaluated in ascending lexicographic token order;
// when several tokens are simultaneously insufficient, the first one in that
// order is the one reported. Every requirement must be strictly positive or
// the call fails with ErrInvalidAmount.
func SelectMultiToken[U any](utxos []U, token func(U) string, value func(U) *big.Int, requirements map[string]*big.Int) (MultiResult[U], error) {
	byToken := types.NewDefaultMap[string](func() []U { return nil })
	for _, u := range utxos {
		t := token(u)
		byToken.Set(t, append(byToken.Get(t), u))
	}

	tokens := make([]string, 0, len(requirements))
	for t := range requirements {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)

	var (
		selections = make(map[string]Success[U], len(tokens))
		failure    *MultiPartialFailure[U]
	)
	for _, t := range tokens {
		result, err := Select(byToken.Get(t), value, requirements[t])
		if err != nil {
			return nil, err
		}

		switch r := result.(type) {
		case Success[U]:
			selections[t] = r
		case InsufficientFunds[U]:
			if failure == nil {
				failure = &MultiPartialFailure[U]{
					FailedToken: t,
					Required:    r.Required,
					Available:   r.Available,
				}
			}
		}
	}

	if failure != nil {
		failure.Selections = selections
		return *failure, nil
	}

	return MultiSuccess[U]{Selections: selections}, nil
}
