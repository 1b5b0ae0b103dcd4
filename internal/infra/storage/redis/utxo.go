package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gabapcia/utxosync/internal/utxoledger"

	"github.com/redis/go-redis/v9"
)

// utxoKeyPrefix is the namespace prefix for all keys of the UTXO store.
const utxoKeyPrefix = "utxoledger"

// utxoSetKey constructs the Redis key of the hash holding all outputs of an
// owner. Each hash field is the output's canonical "intentHash:outputIndex"
// reference, and each value a JSON-encoded utxoRecord.
//
// Format: "utxoledger:utxos:<owner>"
func utxoSetKey(owner string) string {
	return fmt.Sprintf("%s:utxos:%s", utxoKeyPrefix, owner)
}

// utxoRecord is the stored representation of a utxoledger.Utxo. Value is a
// decimal string because big.Int has no bounded JSON representation.
type utxoRecord struct {
	IntentHash      string     `json:"intentHash"`
	OutputIndex     uint32     `json:"outputIndex"`
	Owner           string     `json:"owner"`
	TokenType       string     `json:"tokenType"`
	Value           string     `json:"value"`
	CreatedAt       time.Time  `json:"createdAt"`
	State           string     `json:"state"`
	CreatedAtHeight uint64     `json:"createdAtHeight"`
	SpentAtHeight   uint64     `json:"spentAtHeight,omitempty"`
	SpentByTx       string     `json:"spentByTx,omitempty"`
	LockedAt        *time.Time `json:"lockedAt,omitempty"`
}

// stateFromString maps a stored state name back to its UtxoState.
func stateFromString(s string) (utxoledger.UtxoState, error) {
	switch s {
	case utxoledger.StateAvailable.String():
		return utxoledger.StateAvailable, nil
	case utxoledger.StatePending.String():
		return utxoledger.StatePending, nil
	case utxoledger.StateSpent.String():
		return utxoledger.StateSpent, nil
	default:
		return 0, fmt.Errorf("unknown utxo state %q", s)
	}
}

// encodeUtxo serializes a Utxo into its stored JSON form.
func encodeUtxo(u utxoledger.Utxo) ([]byte, error) {
	return json.Marshal(utxoRecord{
		IntentHash:      u.IntentHash,
		OutputIndex:     u.OutputIndex,
		Owner:           u.Owner,
		TokenType:       u.TokenType,
		Value:           u.Value.String(),
		CreatedAt:       u.CreatedAt,
		State:           u.State.String(),
		CreatedAtHeight: u.CreatedAtHeight,
		SpentAtHeight:   u.SpentAtHeight,
		SpentByTx:       u.SpentByTx,
		LockedAt:        u.LockedAt,
	})
}

// decodeUtxo deserializes a stored JSON record into a Utxo.
func decodeUtxo(data string) (utxoledger.Utxo, error) {
	var record utxoRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return utxoledger.Utxo{}, fmt.Errorf("decoding utxo record: %w", err)
	}

	value, ok := new(big.Int).SetString(record.Value, 10)
	if !ok {
		return utxoledger.Utxo{}, fmt.Errorf("invalid utxo value %q", record.Value)
	}

	state, err := stateFromString(record.State)
	if err != nil {
		return utxoledger.Utxo{}, err
	}

	return utxoledger.Utxo{
		IntentHash:      record.IntentHash,
		OutputIndex:     record.OutputIndex,
		Owner:           record.Owner,
		TokenType:       record.TokenType,
		Value:           value,
		CreatedAt:       record.CreatedAt,
		State:           state,
		CreatedAtHeight: record.CreatedAtHeight,
		SpentAtHeight:   record.SpentAtHeight,
		SpentByTx:       record.SpentByTx,
		LockedAt:        record.LockedAt,
	}, nil
}

// ListUtxos implements utxoledger.Storage by scanning the owner's hash.
// An unknown owner yields an empty slice.
func (c *client) ListUtxos(ctx context.Context, owner string) ([]utxoledger.Utxo, error) {
	fields, err := c.conn.HGetAll(ctx, utxoSetKey(owner)).Result()
	if err != nil {
		return nil, err
	}

	utxos := make([]utxoledger.Utxo, 0, len(fields))
	for _, data := range fields {
		u, err := decodeUtxo(data)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}

	return utxos, nil
}

// ApplyChange implements utxoledger.Storage.
//
// The whole change runs inside one optimistic WATCH transaction on the
// owner's key: transition targets are read and compare-and-set checked
// first, then inserts, rewritten records, and deletions are committed in a
// single MULTI/EXEC pipeline. A concurrent writer invalidates the watch and
// surfaces as redis.TxFailedErr instead of partially applied state.
func (c *client) ApplyChange(ctx context.Context, owner string, change utxoledger.Change) error {
	key := utxoSetKey(owner)

	return c.conn.Watch(ctx, func(tx *redis.Tx) error {
		rewritten := make(map[string][]byte, len(change.Transitions))

		for _, transition := range change.Transitions {
			field := transition.Ref.String()

			data, err := tx.HGet(ctx, key, field).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("%w: %s", utxoledger.ErrUtxoNotFound, field)
				}
				return err
			}

			current, err := decodeUtxo(data)
			if err != nil {
				return err
			}

			if current.State != transition.From {
				return fmt.Errorf("%w: %s is %s, expected %s",
					utxoledger.ErrStateConflict, field, current.State, transition.From)
			}

			current.State = transition.To
			current.LockedAt = transition.LockedAt
			if transition.To == utxoledger.StateSpent {
				current.SpentAtHeight = transition.SpentAtHeight
				current.SpentByTx = transition.SpentByTx
			} else {
				current.SpentAtHeight = 0
				current.SpentByTx = ""
			}

			encoded, err := encodeUtxo(current)
			if err != nil {
				return err
			}
			rewritten[field] = encoded
		}

		for _, ref := range change.Delete {
			exists, err := tx.HExists(ctx, key, ref.String()).Result()
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", utxoledger.ErrUtxoNotFound, ref)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, u := range change.Insert {
				encoded, err := encodeUtxo(u)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, key, u.Ref().String(), encoded)
			}

			for field, encoded := range rewritten {
				pipe.HSet(ctx, key, field, encoded)
			}

			for _, ref := range change.Delete {
				pipe.HDel(ctx, key, ref.String())
			}

			return nil
		})
		return err
	}, key)
}

// DeleteUtxos implements utxoledger.Storage by dropping the owner's hash.
func (c *client) DeleteUtxos(ctx context.Context, owner string) error {
	return c.conn.Del(ctx, utxoSetKey(owner)).Err()
}

// Compile-time assertion to ensure *client satisfies the utxoledger.Storage interface
var _ utxoledger.Storage = new(client)
