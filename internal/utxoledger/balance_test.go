package utxoledger

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabapcia/utxosync/internal/pkg/logger"
)

func init() {
	_ = logger.Init(logger.WithLevel("error")) // Use error level to reduce test output
}

// makeUtxo builds an output owned by "wallet-1" with a deterministic ref.
func makeUtxo(id int, token string, value int64, state UtxoState) Utxo {
	return Utxo{
		IntentHash:      fmt.Sprintf("intent-%d", id),
		OutputIndex:     0,
		Owner:           "wallet-1",
		TokenType:       token,
		Value:           big.NewInt(value),
		CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
		State:           state,
		CreatedAtHeight: 100,
	}
}

func TestBalanceMap(t *testing.T) {
	t.Run("sums only available outputs per token", func(t *testing.T) {
		snapshot := []Utxo{
			makeUtxo(1, "NIGHT", 100, StateAvailable),
			makeUtxo(2, "NIGHT", 250, StateAvailable),
			makeUtxo(3, "NIGHT", 999, StatePending),
			makeUtxo(4, "NIGHT", 777, StateSpent),
			makeUtxo(5, "DUST", 50, StateAvailable),
		}

		balances := BalanceMap(snapshot)
		require.Len(t, balances, 2)
		assert.Equal(t, big.NewInt(350), balances["NIGHT"])
		assert.Equal(t, big.NewInt(50), balances["DUST"])
	})

	t.Run("empty snapshot yields no balances", func(t *testing.T) {
		assert.Empty(t, BalanceMap(nil))
	})

	t.Run("token with only non-available outputs is absent", func(t *testing.T) {
		snapshot := []Utxo{
			makeUtxo(1, "NIGHT", 100, StateSpent),
			makeUtxo(2, "NIGHT", 200, StatePending),
		}

		balances := BalanceMap(snapshot)
		assert.NotContains(t, balances, "NIGHT", "a fully unavailable token should not appear at all")
	})
}

func TestTokenBalances(t *testing.T) {
	snapshot := []Utxo{
		makeUtxo(1, "NIGHT", 100, StateAvailable),
		makeUtxo(2, "NIGHT", 250, StateAvailable),
		makeUtxo(3, "DUST", 50, StateAvailable),
		makeUtxo(4, "DUST", 999, StateSpent),
	}

	balances := TokenBalances(snapshot)
	require.Len(t, balances, 2)

	assert.Equal(t, "DUST", balances[0].TokenType, "balances must be sorted by token type")
	assert.Equal(t, big.NewInt(50), balances[0].Amount)
	assert.Equal(t, 1, balances[0].UtxoCount)

	assert.Equal(t, "NIGHT", balances[1].TokenType)
	assert.Equal(t, big.NewInt(350), balances[1].Amount)
	assert.Equal(t, 2, balances[1].UtxoCount)
}

func TestPlanOutcome(t *testing.T) {
	t.Run("success spends and creates", func(t *testing.T) {
		snapshot := []Utxo{
			makeUtxo(1, "NIGHT", 100, StateAvailable),
			makeUtxo(2, "NIGHT", 200, StatePending),
		}

		created := makeUtxo(10, "NIGHT", 300, StateAvailable)
		outcome := TransactionOutcome{
			TransactionID:   7,
			TransactionHash: "tx-7",
			Status:          StatusSuccess,
			Created:         []Utxo{created},
			Spent:           []UtxoRef{snapshot[0].Ref(), snapshot[1].Ref()},
			BlockHeight:     120,
		}

		change, err := PlanOutcome(snapshot, outcome)
		require.NoError(t, err)

		require.Len(t, change.Transitions, 2)
		for _, transition := range change.Transitions {
			assert.Equal(t, StateSpent, transition.To)
			assert.Equal(t, uint64(120), transition.SpentAtHeight)
			assert.Equal(t, "tx-7", transition.SpentByTx)
		}
		// Locked outputs may be spent too: the confirmed chain wins.
		assert.Equal(t, StatePending, change.Transitions[1].From)

		require.Len(t, change.Insert, 1)
		assert.Equal(t, StateAvailable, change.Insert[0].State)
		assert.Equal(t, uint64(120), change.Insert[0].CreatedAtHeight)
		assert.Empty(t, change.Delete)
	})

	t.Run("partial success behaves like success", func(t *testing.T) {
		snapshot := []Utxo{makeUtxo(1, "NIGHT", 100, StateAvailable)}

		outcome := TransactionOutcome{
			Status:      StatusPartialSuccess,
			Created:     []Utxo{makeUtxo(10, "NIGHT", 60, StateAvailable)},
			Spent:       []UtxoRef{snapshot[0].Ref()},
			BlockHeight: 121,
		}

		change, err := PlanOutcome(snapshot, outcome)
		require.NoError(t, err)
		assert.Len(t, change.Transitions, 1)
		assert.Len(t, change.Insert, 1)
	})

	t.Run("spend of an unknown output underflows", func(t *testing.T) {
		outcome := TransactionOutcome{
			Status: StatusSuccess,
			Spent:  []UtxoRef{{IntentHash: "ghost", OutputIndex: 0}},
		}

		_, err := PlanOutcome(nil, outcome)
		assert.ErrorIs(t, err, ErrBalanceUnderflow)
	})

	t.Run("spend of an output spent by another transaction underflows", func(t *testing.T) {
		spent := makeUtxo(1, "NIGHT", 100, StateSpent)
		spent.SpentByTx = "tx-a"

		outcome := TransactionOutcome{
			TransactionHash: "tx-b",
			Status:          StatusSuccess,
			Spent:           []UtxoRef{spent.Ref()},
		}

		_, err := PlanOutcome([]Utxo{spent}, outcome)
		assert.ErrorIs(t, err, ErrBalanceUnderflow)
	})

	t.Run("redelivered spend by the same transaction is skipped", func(t *testing.T) {
		spent := makeUtxo(1, "NIGHT", 100, StateSpent)
		spent.SpentByTx = "tx-7"
		spent.SpentAtHeight = 120

		outcome := TransactionOutcome{
			TransactionHash: "tx-7",
			Status:          StatusSuccess,
			Spent:           []UtxoRef{spent.Ref()},
			BlockHeight:     120,
		}

		change, err := PlanOutcome([]Utxo{spent}, outcome)
		require.NoError(t, err)
		assert.Empty(t, change.Transitions, "an exact redelivery must not re-spend")
	})

	t.Run("redelivered outcome skips already stored outputs", func(t *testing.T) {
		existing := makeUtxo(10, "NIGHT", 300, StateAvailable)
		snapshot := []Utxo{existing}

		outcome := TransactionOutcome{
			Status:      StatusSuccess,
			Created:     []Utxo{existing},
			BlockHeight: 120,
		}

		change, err := PlanOutcome(snapshot, outcome)
		require.NoError(t, err)
		assert.Empty(t, change.Insert, "an already stored output must not be re-inserted")
	})

	t.Run("duplicate created refs are inserted once", func(t *testing.T) {
		created := makeUtxo(10, "NIGHT", 300, StateAvailable)

		outcome := TransactionOutcome{
			Status:      StatusSuccess,
			Created:     []Utxo{created, created},
			BlockHeight: 120,
		}

		change, err := PlanOutcome(nil, outcome)
		require.NoError(t, err)
		assert.Len(t, change.Insert, 1)
	})

	t.Run("failure releases pending inputs and creates nothing", func(t *testing.T) {
		snapshot := []Utxo{
			makeUtxo(1, "NIGHT", 100, StatePending),
			makeUtxo(2, "NIGHT", 200, StateAvailable),
		}

		outcome := TransactionOutcome{
			Status:      StatusFailure,
			Created:     []Utxo{makeUtxo(10, "NIGHT", 300, StateAvailable)},
			Spent:       []UtxoRef{snapshot[0].Ref(), snapshot[1].Ref(), {IntentHash: "ghost"}},
			BlockHeight: 122,
		}

		change, err := PlanOutcome(snapshot, outcome)
		require.NoError(t, err)

		assert.Empty(t, change.Insert, "outputs of a failed transaction never existed on-chain")

		require.Len(t, change.Transitions, 1, "only locally PENDING inputs are released")
		assert.Equal(t, snapshot[0].Ref(), change.Transitions[0].Ref)
		assert.Equal(t, StatePending, change.Transitions[0].From)
		assert.Equal(t, StateAvailable, change.Transitions[0].To)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		outcome := TransactionOutcome{Status: OutcomeStatus(99)}

		_, err := PlanOutcome(nil, outcome)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrBalanceUnderflow)
	})
}
