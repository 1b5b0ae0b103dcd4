package eventcache

import "time"

// RawEvent is a single undecoded ledger event as delivered by the external
// indexing service. Events are immutable once cached.
//
// ID is strictly increasing within a block, and MaxID is the highest event id
// known to the indexer at the time the event was emitted (MaxID >= ID), which
// lets consumers estimate sync progress.
type RawEvent struct {
	ID          uint64    // Monotonic sequence id assigned by the indexer
	MaxID       uint64    // Highest event id known upstream when this event was emitted
	Raw         []byte    // Undecoded event payload
	BlockHeight uint64    // Height of the block this event belongs to
	BlockHash   string    // Hash of the block this event belongs to
	ParentHash  string    // Hash of the parent block
	Timestamp   time.Time // Block timestamp as reported by the indexer
}
