package utxoledger

import (
	"context"
	"errors"
	"time"
)

// ErrStateConflict is returned by Storage.ApplyChange when a requested state
// transition does not match the stored state, meaning another writer got
// there first or the ledger missed an update.
var ErrStateConflict = errors.New("utxo state conflict")

// ErrUtxoNotFound is returned by Storage.ApplyChange when a transition or
// deletion references an output that is not stored.
var ErrUtxoNotFound = errors.New("utxo not found")

// StateTransition is a compare-and-set request for one output: the stored
// state must equal From for the transition to To to apply.
type StateTransition struct {
	Ref  UtxoRef   // Output to transition
	From UtxoState // Expected current state
	To   UtxoState // State to transition into

	SpentAtHeight uint64     // Recorded when To is StateSpent
	SpentByTx     string     // Recorded when To is StateSpent, cleared otherwise
	LockedAt      *time.Time // Recorded when To is StatePending, cleared otherwise
}

// Change is one atomic mutation of an address's UTXO set. Inserts,
// transitions, and deletions within a single Change either all apply or none
// do.
type Change struct {
	Insert      []Utxo            // New outputs, stored as given
	Transitions []StateTransition // CAS state transitions
	Delete      []UtxoRef         // Outputs to remove entirely (rollback only)
}

// IsEmpty reports whether the change mutates nothing.
func (c Change) IsEmpty() bool {
	return len(c.Insert) == 0 && len(c.Transitions) == 0 && len(c.Delete) == 0
}

// Storage is the persistence port of the ledger. Implementations must provide
// upsert-by-id, full-address scans, and atomic application of a Change with
// compare-and-set semantics on state transitions.
//
// The Manager is the only caller and already serializes conflicting logical
// operations, but implementations must still enforce the CAS check so that a
// missed update surfaces as ErrStateConflict instead of silent corruption.
type Storage interface {
	// ListUtxos returns every stored output for the owner, in no particular
	// order. An unknown owner yields an empty slice, not an error.
	ListUtxos(ctx context.Context, owner string) ([]Utxo, error)

	// ApplyChange atomically applies the change to the owner's UTXO set.
	//
	// If any transition's From state does not match the stored state it
	// returns ErrStateConflict and applies nothing. If a transition or
	// deletion references an unknown output it returns ErrUtxoNotFound and
	// applies nothing.
	ApplyChange(ctx context.Context, owner string, change Change) error

	// DeleteUtxos removes every stored output for the owner. Used by the
	// administrative clear operation and deep-reorg resets.
	DeleteUtxos(ctx context.Context, owner string) error
}
