package utxoledger

import "fmt"

// OutcomeStatus is the terminal status of a confirmed transaction as reported
// by the indexing service.
//
// It is a closed set; Manager.ProcessUpdate matches on it exhaustively and
// rejects unknown values instead of guessing.
type OutcomeStatus int

const (
	// StatusSuccess means every instruction of the transaction applied.
	StatusSuccess OutcomeStatus = iota

	// StatusPartialSuccess means the transaction confirmed with some
	// instructions skipped. For UTXO accounting it behaves exactly like
	// StatusSuccess: created outputs exist on-chain and spent inputs are
	// consumed.
	StatusPartialSuccess

	// StatusFailure means the transaction did not apply. Its would-be
	// outputs never existed on-chain and any locally locked inputs must be
	// released.
	StatusFailure
)

// String returns the canonical uppercase name of the status.
func (s OutcomeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPartialSuccess:
		return "PARTIAL_SUCCESS"
	case StatusFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// TransactionOutcome describes the effect of one confirmed transaction on an
// address's UTXO set. It is ephemeral: the Manager consumes it exactly once
// and derives all persistent state from it.
type TransactionOutcome struct {
	TransactionID   uint64        // Monotonic id assigned by the indexer
	TransactionHash string        // On-chain transaction hash
	Status          OutcomeStatus // Terminal status of the transaction
	Created         []Utxo        // Outputs created by the transaction (ignored on FAILURE)
	Spent           []UtxoRef     // Outputs consumed by the transaction
	BlockHeight     uint64        // Height of the confirming block
}

// Update is a single unit of work for Manager.ProcessUpdate: either a
// transaction outcome to apply or a pure progress advancement.
//
// It is a closed tagged union; the only implementations are
// TransactionUpdate and ProgressUpdate.
type Update interface {
	isUpdate()
}

// TransactionUpdate carries a TransactionOutcome to be applied to the ledger.
type TransactionUpdate struct {
	Outcome TransactionOutcome
}

func (TransactionUpdate) isUpdate() {}

// ProgressUpdate advances the sync checkpoint without mutating any UTXO
// state. The indexer emits these when a range of transactions contains
// nothing relevant to the tracked address.
type ProgressUpdate struct {
	HighestTransactionID uint64
}

func (ProgressUpdate) isUpdate() {}

// ProcessingResult reports what Manager.ProcessUpdate did.
//
// It is a closed tagged union; the only implementations are
// TransactionProcessed and ProgressAdvanced.
type ProcessingResult interface {
	isProcessingResult()
}

// TransactionProcessed reports an applied TransactionUpdate.
type TransactionProcessed struct {
	CreatedCount int           // Outputs inserted
	SpentCount   int           // Outputs marked spent
	Status       OutcomeStatus // Status of the processed outcome
}

func (TransactionProcessed) isProcessingResult() {}

// ProgressAdvanced reports a pure checkpoint advancement with no UTXO
// mutation.
type ProgressAdvanced struct {
	HighestTransactionID uint64
}

func (ProgressAdvanced) isProcessingResult() {}
