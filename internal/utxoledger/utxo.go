package utxoledger

import (
	"fmt"
	"math/big"
	"time"
)

// UtxoState is the lifecycle state of an unspent transaction output.
//
// State transitions are owned exclusively by the Manager:
//
//	AVAILABLE -> PENDING   selected and locked by a transaction build
//	PENDING   -> AVAILABLE build abandoned, failed, or lock expired
//	AVAILABLE -> SPENT     confirmed spend
//	PENDING   -> SPENT     confirmed spend of a locked output
type UtxoState int

const (
	// StateAvailable means the output is spendable and counts toward the
	// owner's balance.
	StateAvailable UtxoState = iota

	// StatePending means the output is reserved by an in-flight transaction
	// build and must not be selected again.
	StatePending

	// StateSpent means the output was consumed by a confirmed transaction.
	StateSpent
)

// String returns the canonical uppercase name of the state.
func (s UtxoState) String() string {
	switch s {
	case StateAvailable:
		return "AVAILABLE"
	case StatePending:
		return "PENDING"
	case StateSpent:
		return "SPENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// UtxoRef uniquely identifies an output by the hash of the intent that
// created it and its index within that intent's outputs.
type UtxoRef struct {
	IntentHash  string // Hash of the creating transaction intent
	OutputIndex uint32 // Index of the output within the intent
}

// String renders the reference in its canonical "intentHash:outputIndex" form.
func (r UtxoRef) String() string {
	return fmt.Sprintf("%s:%d", r.IntentHash, r.OutputIndex)
}

// Utxo is a single transaction output tracked by the local ledger.
//
// Identity is Ref(); two Utxos with equal refs describe the same output.
// Value never changes after creation; only State (and the bookkeeping fields
// that accompany a transition) is mutated, and only through the Manager.
type Utxo struct {
	IntentHash  string    // Hash of the creating transaction intent
	OutputIndex uint32    // Index of the output within the intent
	Owner       string    // Opaque address owning this output
	TokenType   string    // Token denomination of the value
	Value       *big.Int  // Amount carried by this output, always >= 0
	CreatedAt   time.Time // Ledger time the output was created

	State UtxoState // Current lifecycle state

	CreatedAtHeight uint64     // Block height the creating transaction confirmed at
	SpentAtHeight   uint64     // Block height of the confirmed spend, zero while unspent
	SpentByTx       string     // Hash of the confirmed spending transaction, empty while unspent
	LockedAt        *time.Time // Lock acquisition time, set while State is PENDING
}

// Ref returns the unique identity of the output.
func (u Utxo) Ref() UtxoRef {
	return UtxoRef{IntentHash: u.IntentHash, OutputIndex: u.OutputIndex}
}

// TokenBalance is the derived balance of one token for one address.
//
// It is always recomputed from the AVAILABLE outputs of the address, never
// cached incrementally, so it cannot drift from the underlying UTXO set.
type TokenBalance struct {
	TokenType string   // Token denomination
	Amount    *big.Int // Sum of AVAILABLE output values
	UtxoCount int      // Number of AVAILABLE outputs contributing to Amount
}
