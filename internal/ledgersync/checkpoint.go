package ledgersync

import (
	"context"
	"errors"
)

// ErrNoCheckpointFound is returned by LoadLatestCheckpoint when no checkpoint
// has been saved yet for the requested address.
var ErrNoCheckpointFound = errors.New("no checkpoint found for address")

// CheckpointStorage persists the highest applied event id per address so a
// restart resumes from the last committed position instead of genesis.
type CheckpointStorage interface {
	// SaveCheckpoint records eventID as the latest applied position for the
	// address, overwriting any previous checkpoint.
	//
	// ctx controls cancellation and deadlines for any underlying I/O.
	SaveCheckpoint(ctx context.Context, address string, eventID uint64) error

	// LoadLatestCheckpoint returns the most recent event id saved for the
	// address, or ErrNoCheckpointFound if none exists.
	//
	// ctx controls cancellation and deadlines for any underlying I/O.
	LoadLatestCheckpoint(ctx context.Context, address string) (uint64, error)
}

// nopCheckpoint is a no-op implementation of CheckpointStorage.
// It persists nothing and always reports ErrNoCheckpointFound, which makes
// every sync start from genesis.
type nopCheckpoint struct{}

// SaveCheckpoint accepts the checkpoint input but does not store anything.
func (nopCheckpoint) SaveCheckpoint(_ context.Context, _ string, _ uint64) error {
	return nil
}

// LoadLatestCheckpoint always returns ErrNoCheckpointFound, as no state is persisted.
func (nopCheckpoint) LoadLatestCheckpoint(_ context.Context, _ string) (uint64, error) {
	return 0, ErrNoCheckpointFound
}
