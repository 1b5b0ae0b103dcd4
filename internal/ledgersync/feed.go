package ledgersync

import (
	"context"

	"github.com/gabapcia/utxosync/internal/eventcache"
	"github.com/gabapcia/utxosync/internal/utxoledger"
)

// ProgressMarker advances sync progress for an address without carrying any
// wallet-relevant transaction. The indexer emits one after scanning a range
// in which the address did not appear.
type ProgressMarker struct {
	HighestEventID       uint64 // Highest event id the indexer has scanned for this address
	MaxEventID           uint64 // Highest event id known upstream
	HighestTransactionID uint64 // Highest transaction id covered by the scan
}

// FeedEvent is one item of an address subscription. Exactly one of Event,
// Outcome, Progress, or Err is set.
//
// Raw events carry the block header fields used for reorg tracking; decoded
// outcomes carry the UTXO mutations for the subscribed address.
type FeedEvent struct {
	Event    *eventcache.RawEvent           // Raw ledger event (header source, cached for replay)
	Outcome  *utxoledger.TransactionOutcome // Decoded wallet-relevant transaction outcome
	Progress *ProgressMarker                // Pure progress advancement
	Err      error                          // Upstream failure delivering the subscription
}

// EventFeed is the upstream indexing service. This package does not define
// the wire format; implementations decode transport payloads into the types
// above.
type EventFeed interface {
	// GetEventsInRange returns the raw events with fromID <= id <= toID,
	// ordered by ascending id.
	GetEventsInRange(ctx context.Context, fromID, toID uint64) ([]eventcache.RawEvent, error)

	// Subscribe starts a live subscription for the address, beginning after
	// the event id fromID. The returned channel is closed when ctx is
	// canceled or the subscription terminates; failures are delivered as
	// FeedEvent values with Err set.
	Subscribe(ctx context.Context, address string, fromID uint64) (<-chan FeedEvent, error)
}
