package coinselect

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coin is a minimal UTXO representation for exercising the generic selector.
type coin struct {
	token string
	value int64
}

func coinValue(c coin) *big.Int { return big.NewInt(c.value) }
func coinToken(c coin) string   { return c.token }

func coins(values ...int64) []coin {
	out := make([]coin, 0, len(values))
	for _, v := range values {
		out = append(out, coin{token: "NIGHT", value: v})
	}
	return out
}

func TestSelect(t *testing.T) {
	t.Run("accumulates in input order until the target is covered", func(t *testing.T) {
		result, err := Select(coins(10, 25, 50, 75, 100), coinValue, big.NewInt(100))
		require.NoError(t, err)

		success, ok := result.(Success[coin])
		require.True(t, ok, "selection should succeed")

		assert.Equal(t, coins(10, 25, 50, 75), success.Selected)
		assert.Equal(t, big.NewInt(160), success.Total)
		assert.Equal(t, big.NewInt(60), success.Change)
	})

	t.Run("stops at the first output that covers the target", func(t *testing.T) {
		result, err := Select(coins(100, 1, 1), coinValue, big.NewInt(50))
		require.NoError(t, err)

		success, ok := result.(Success[coin])
		require.True(t, ok)

		assert.Equal(t, coins(100), success.Selected)
		assert.Equal(t, big.NewInt(50), success.Change)
	})

	t.Run("exact match yields zero change", func(t *testing.T) {
		result, err := Select(coins(30, 70), coinValue, big.NewInt(100))
		require.NoError(t, err)

		success, ok := result.(Success[coin])
		require.True(t, ok)

		assert.Equal(t, coins(30, 70), success.Selected)
		assert.Zero(t, success.Change.Sign(), "change should be exactly zero")
	})

	t.Run("insufficient funds reports the exact shortfall", func(t *testing.T) {
		result, err := Select(coins(10, 20, 30), coinValue, big.NewInt(100))
		require.NoError(t, err, "insufficient funds is a result, not an error")

		insufficient, ok := result.(InsufficientFunds[coin])
		require.True(t, ok)

		assert.Equal(t, big.NewInt(100), insufficient.Required)
		assert.Equal(t, big.NewInt(60), insufficient.Available)
		assert.Equal(t, big.NewInt(40), insufficient.Shortfall)
	})

	t.Run("empty snapshot is insufficient", func(t *testing.T) {
		result, err := Select(nil, coinValue, big.NewInt(1))
		require.NoError(t, err)

		insufficient, ok := result.(InsufficientFunds[coin])
		require.True(t, ok)
		assert.Zero(t, insufficient.Available.Sign())
		assert.Equal(t, big.NewInt(1), insufficient.Shortfall)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		for _, required := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
			_, err := Select(coins(10), coinValue, required)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
	})
}

func TestSelectMultiToken(t *testing.T) {
	snapshot := []coin{
		{token: "NIGHT", value: 100},
		{token: "DUST", value: 50},
		{token: "NIGHT", value: 200},
		{token: "DUST", value: 75},
	}

	t.Run("selects independently per token", func(t *testing.T) {
		result, err := SelectMultiToken(snapshot, coinToken, coinValue, map[string]*big.Int{
			"NIGHT": big.NewInt(150),
			"DUST":  big.NewInt(100),
		})
		require.NoError(t, err)

		success, ok := result.(MultiSuccess[coin])
		require.True(t, ok, "both requirements are coverable")
		require.Len(t, success.Selections, 2)

		night := success.Selections["NIGHT"]
		assert.Equal(t, []coin{{token: "NIGHT", value: 100}, {token: "NIGHT", value: 200}}, night.Selected)
		assert.Equal(t, big.NewInt(150), night.Change)

		dust := success.Selections["DUST"]
		assert.Equal(t, []coin{{token: "DUST", value: 50}, {token: "DUST", value: 75}}, dust.Selected)
		assert.Equal(t, big.NewInt(25), dust.Change)
	})

	t.Run("reports the first insufficient token in lexicographic order", func(t *testing.T) {
		result, err := SelectMultiToken(snapshot, coinToken, coinValue, map[string]*big.Int{
			"NIGHT": big.NewInt(1_000),
			"DUST":  big.NewInt(1_000),
		})
		require.NoError(t, err)

		failure, ok := result.(MultiPartialFailure[coin])
		require.True(t, ok)

		assert.Equal(t, "DUST", failure.FailedToken, "DUST sorts before NIGHT")
		assert.Equal(t, big.NewInt(1_000), failure.Required)
		assert.Equal(t, big.NewInt(125), failure.Available)
	})

	t.Run("partial failure still carries the successful selections", func(t *testing.T) {
		result, err := SelectMultiToken(snapshot, coinToken, coinValue, map[string]*big.Int{
			"NIGHT": big.NewInt(250),
			"DUST":  big.NewInt(1_000),
		})
		require.NoError(t, err)

		failure, ok := result.(MultiPartialFailure[coin])
		require.True(t, ok)

		assert.Equal(t, "DUST", failure.FailedToken)
		require.Contains(t, failure.Selections, "NIGHT")
		assert.Equal(t, big.NewInt(300), failure.Selections["NIGHT"].Total)
	})

	t.Run("token with no outputs at all", func(t *testing.T) {
		result, err := SelectMultiToken(snapshot, coinToken, coinValue, map[string]*big.Int{
			"GLOW": big.NewInt(10),
		})
		require.NoError(t, err)

		failure, ok := result.(MultiPartialFailure[coin])
		require.True(t, ok)
		assert.Equal(t, "GLOW", failure.FailedToken)
		assert.Zero(t, failure.Available.Sign())
	})

	t.Run("rejects non-positive requirements", func(t *testing.T) {
		_, err := SelectMultiToken(snapshot, coinToken, coinValue, map[string]*big.Int{
			"NIGHT": big.NewInt(0),
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}
