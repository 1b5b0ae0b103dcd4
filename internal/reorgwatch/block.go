package reorgwatch

// Block is a minimal block header: height, hash, and the hash of the parent
// block. Headers form a singly linked chain through ParentHash.
type Block struct {
	Height     uint64 // Block height
	Hash       string // Unique block hash
	ParentHash string // Hash of the parent block
}

// ReorgKind classifies a chain reorganization by its depth relative to the
// finality threshold.
type ReorgKind int

const (
	// ReorgShallow marks a reorg whose depth is within the finality
	// threshold. Local state above the common ancestor can be rolled back
	// and replayed.
	ReorgShallow ReorgKind = iota

	// ReorgDeep marks a reorg past the finality threshold, or one whose
	// common ancestor is unknown locally. All cached state must be discarded
	// and synchronization restarted from a checkpoint, because a local
	// rollback cannot be proven correct past the finality horizon.
	ReorgDeep
)

// String returns a human-readable name for the reorg kind.
func (k ReorgKind) String() string {
	switch k {
	case ReorgShallow:
		return "shallow"
	case ReorgDeep:
		return "deep"
	default:
		return "unknown"
	}
}

// ReorgEvent describes a detected chain reorganization and carries the
// rollback instruction for downstream state owners.
//
// For shallow reorgs, CommonAncestorHeight is the height every consumer must
// roll back to: all state derived from blocks above it is invalid. For deep
// reorgs with no locally known ancestor, HasCommonAncestor is false and
// CommonAncestorHeight is zero.
type ReorgEvent struct {
	Kind                 ReorgKind // shallow or deep
	CommonAncestorHeight uint64    // height of the last block shared by both chains
	HasCommonAncestor    bool      // false when the window was exhausted without a match
	OldTip               Block     // tip of the abandoned chain
	NewTip               Block     // header that triggered the detection
}
