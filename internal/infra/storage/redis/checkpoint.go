package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gabapcia/utxosync/internal/ledgersync"

	"github.com/redis/go-redis/v9"
)

// syncKeyPrefix is the namespace prefix for all keys of the sync checkpoint store.
const syncKeyPrefix = "ledgersync"

// syncCheckpointKey constructs the Redis key used to store the highest
// applied event id for an address.
//
// Format: "ledgersync:checkpoint:<address>"
func syncCheckpointKey(address string) string {
	return fmt.Sprintf("%s:checkpoint:%s", syncKeyPrefix, address)
}

// SaveCheckpoint persists the highest applied event id for the address so
// synchronization resumes from the correct position after restarts. The
// checkpoint is stored as a Redis key with no expiration.
func (c *client) SaveCheckpoint(ctx context.Context, address string, eventID uint64) error {
	key := syncCheckpointKey(address)
	return c.conn.Set(ctx, key, strconv.FormatUint(eventID, 10), 0).Err()
}

// LoadLatestCheckpoint retrieves the most recently saved event id for the
// address. If no checkpoint exists it returns ledgersync.ErrNoCheckpointFound.
func (c *client) LoadLatestCheckpoint(ctx context.Context, address string) (uint64, error) {
	key := syncCheckpointKey(address)

	val, err := c.conn.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = ledgersync.ErrNoCheckpointFound
		}

		return 0, err
	}

	return strconv.ParseUint(val, 10, 64)
}

// Compile-time assertion to ensure *client satisfies the CheckpointStorage interface
var _ ledgersync.CheckpointStorage = new(client)
