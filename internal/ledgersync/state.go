package ledgersync

import "fmt"

// SyncPhase is the coarse phase of an address's sync session.
type SyncPhase int

const (
	// PhaseConnecting means the subscription is being (re)established.
	PhaseConnecting SyncPhase = iota

	// PhaseSyncing means events are being applied and the local view is
	// behind the upstream tip.
	PhaseSyncing

	// PhaseSynced means the local view has caught up with the highest event
	// id known upstream.
	PhaseSynced

	// PhaseError means the session failed. Local balance data is never
	// invalidated by a sync failure; balance observers keep the
	// last-known-good view while sync state reports the error.
	PhaseError
)

// String returns a human-readable name for the phase.
func (p SyncPhase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseSyncing:
		return "syncing"
	case PhaseSynced:
		return "synced"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// SyncState is one emission of the sync-progress stream.
//
// Processed and CurrentID are meaningful while Syncing, HighestID while
// Synced, and Err while in the Error phase.
type SyncState struct {
	Phase     SyncPhase
	Processed uint64 // Events applied in the current session
	CurrentID uint64 // Highest event id applied so far
	HighestID uint64 // Highest event id known upstream when synced
	Err       error  // Failure that ended the session
}
