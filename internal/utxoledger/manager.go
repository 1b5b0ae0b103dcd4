// Package utxoledger owns the local UTXO set of each tracked address: it
// applies confirmed transaction outcomes, derives balances, performs atomic
// coin selection with locking, and rolls state back on chain
// reorganizations.
//
// All mutations flow through the Manager. The sync worker and the
// transaction builder both operate on the same UTXO set concurrently, so the
// Manager serializes every read-then-write sequence behind a single mutual
// exclusion domain; that rule, not any particular storage backend, is what
// makes select-and-lock safe. Storage keeps its own compare-and-set check as
// a second line of defense.
package utxoledger

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/utxosync/internal/coinselect"
	"github.com/gabapcia/utxosync/internal/pkg/logger"
)

// ChangeNotifier is called after every committed mutation of an owner's UTXO
// set. It powers the reactive balance stream: observers re-derive balances on
// each notification.
type ChangeNotifier func(ctx context.Context, owner string)

// Manager is the single owner of UTXO state.
type Manager interface {
	// ProcessUpdate applies one unit of sync work atomically. For a
	// TransactionUpdate it applies the outcome rules (see PlanOutcome) in a
	// single storage change and returns TransactionProcessed. For a
	// ProgressUpdate it mutates nothing and returns ProgressAdvanced.
	//
	// ErrBalanceUnderflow is returned, and nothing is applied, when the
	// outcome violates fund-accounting invariants.
	ProcessUpdate(ctx context.Context, owner string, update Update) (ProcessingResult, error)

	// SelectAndLockUtxos selects AVAILABLE outputs of the given token,
	// smallest first, to cover the required amount, and marks the selection
	// PENDING in the same logical operation. No concurrent caller can
	// select the same outputs.
	//
	// Insufficient funds is reported through the returned
	// coinselect.InsufficientFunds value, not an error.
	SelectAndLockUtxos(ctx context.Context, owner, tokenType string, required *big.Int) (coinselect.Result[Utxo], error)

	// UnlockUtxos releases PENDING outputs back to AVAILABLE. Callers must
	// invoke it on every failure path after SelectAndLockUtxos.
	UnlockUtxos(ctx context.Context, owner string, refs []UtxoRef) error

	// UnspentUtxos returns the owner's AVAILABLE outputs.
	UnspentUtxos(ctx context.Context, owner string) ([]Utxo, error)

	// Balances returns the owner's derived per-token balances.
	Balances(ctx context.Context, owner string) ([]TokenBalance, error)

	// BalanceMap returns the owner's derived balances keyed by token type.
	BalanceMap(ctx context.Context, owner string) (map[string]*big.Int, error)

	// RollbackToHeight discards all state derived from blocks above the
	// given height: outputs created above it are deleted and spends
	// recorded above it are reverted to AVAILABLE. Used for shallow reorgs.
	RollbackToHeight(ctx context.Context, owner string, height uint64) error

	// ReleaseExpiredLocks reverts to AVAILABLE every PENDING output whose
	// lock is older than maxAge, returning how many were released. It is
	// the safety net for transaction builds that crashed before unlocking.
	ReleaseExpiredLocks(ctx context.Context, owner string, maxAge time.Duration) (int, error)

	// ClearUtxos deletes all locally cached state for the owner. This is an
	// administrative reset, never part of normal sync.
	ClearUtxos(ctx context.Context, owner string) error
}

// manager is the internal implementation of Manager.
type manager struct {
	mu sync.Mutex // single mutual-exclusion domain for all read-then-write sequences

	storage  Storage
	notifier ChangeNotifier
	now      func() time.Time
}

// Compile-time check that *manager implements Manager.
var _ Manager = (*manager)(nil)

// config holds optional Manager settings.
type config struct {
	notifier ChangeNotifier
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*config)

// WithChangeNotifier installs a notifier invoked after every committed
// mutation. Default: no notification.
func WithChangeNotifier(n ChangeNotifier) Option {
	return func(c *config) {
		c.notifier = n
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New creates a Manager backed by the given storage.
func New(storage Storage, opts ...Option) *manager {
	cfg := config{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &manager{
		storage:  storage,
		notifier: cfg.notifier,
		now:      cfg.now,
	}
}

// SetChangeNotifier installs the notifier after construction. The sync
// orchestrator is built after the Manager it drives, so the notification hook
// is wired late.
func (m *manager) SetChangeNotifier(n ChangeNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifier = n
}

// notifyChange invokes the change notifier, if any, outside of any storage
// call but still within the caller's lock scope.
func (m *manager) notifyChange(ctx context.Context, owner string) {
	if m.notifier != nil {
		m.notifier(ctx, owner)
	}
}

// ProcessUpdate implements Manager.
func (m *manager) ProcessUpdate(ctx context.Context, owner string, update Update) (ProcessingResult, error) {
	switch u := update.(type) {
	case TransactionUpdate:
		return m.applyOutcome(ctx, owner, u.Outcome)

	case ProgressUpdate:
		return ProgressAdvanced{HighestTransactionID: u.HighestTransactionID}, nil

	default:
		return nil, fmt.Errorf("unknown update type %T", update)
	}
}

// applyOutcome loads the owner's snapshot, plans the outcome against it, and
// commits the plan as one atomic storage change.
func (m *manager) applyOutcome(ctx context.Context, owner string, outcome TransactionOutcome) (ProcessingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return nil, err
	}

	change, err := PlanOutcome(snapshot, outcome)
	if err != nil {
		return nil, err
	}

	if !change.IsEmpty() {
		if err := m.storage.ApplyChange(ctx, owner, change); err != nil {
			return nil, err
		}
		m.notifyChange(ctx, owner)
	}

	spentCount := 0
	for _, t := range change.Transitions {
		if t.To == StateSpent {
			spentCount++
		}
	}

	return TransactionProcessed{
		CreatedCount: len(change.Insert),
		SpentCount:   spentCount,
		Status:       outcome.Status,
	}, nil
}

// SelectAndLockUtxos implements Manager. The snapshot read, the selection,
// and the PENDING transition happen under the manager lock, so two
// concurrent builds can never select the same output.
func (m *manager) SelectAndLockUtxos(ctx context.Context, owner, tokenType string, required *big.Int) (coinselect.Result[Utxo], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return nil, err
	}

	available := make([]Utxo, 0, len(snapshot))
	for _, u := range snapshot {
		if u.State == StateAvailable && u.TokenType == tokenType {
			available = append(available, u)
		}
	}

	// The selector consumes the snapshot as ordered by the caller; ascending
	// value keeps selections small-output-first.
	slices.SortFunc(available, func(a, b Utxo) int {
		return a.Value.Cmp(b.Value)
	})

	result, err := coinselect.Select(available, func(u Utxo) *big.Int { return u.Value }, required)
	if err != nil {
		return nil, err
	}

	success, ok := result.(coinselect.Success[Utxo])
	if !ok {
		return result, nil
	}

	lockedAt := m.now()
	change := Change{Transitions: make([]StateTransition, 0, len(success.Selected))}
	for _, u := range success.Selected {
		change.Transitions = append(change.Transitions, StateTransition{
			Ref:      u.Ref(),
			From:     StateAvailable,
			To:       StatePending,
			LockedAt: &lockedAt,
		})
	}

	if err := m.storage.ApplyChange(ctx, owner, change); err != nil {
		return nil, err
	}
	m.notifyChange(ctx, owner)

	for i := range success.Selected {
		success.Selected[i].State = StatePending
		success.Selected[i].LockedAt = &lockedAt
	}

	return success, nil
}

// UnlockUtxos implements Manager. Refs that are no longer PENDING are
// skipped: the spend may have confirmed between the failure and the unlock.
func (m *manager) UnlockUtxos(ctx context.Context, owner string, refs []UtxoRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return err
	}

	pending := make(map[UtxoRef]struct{}, len(snapshot))
	for _, u := range snapshot {
		if u.State == StatePending {
			pending[u.Ref()] = struct{}{}
		}
	}

	var change Change
	for _, ref := range refs {
		if _, ok := pending[ref]; !ok {
			continue
		}

		change.Transitions = append(change.Transitions, StateTransition{
			Ref:  ref,
			From: StatePending,
			To:   StateAvailable,
		})
	}

	if change.IsEmpty() {
		return nil
	}

	if err := m.storage.ApplyChange(ctx, owner, change); err != nil {
		return err
	}
	m.notifyChange(ctx, owner)
	return nil
}

// UnspentUtxos implements Manager.
func (m *manager) UnspentUtxos(ctx context.Context, owner string) ([]Utxo, error) {
	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return nil, err
	}

	unspent := make([]Utxo, 0, len(snapshot))
	for _, u := range snapshot {
		if u.State == StateAvailable {
			unspent = append(unspent, u)
		}
	}

	return unspent, nil
}

// Balances implements Manager.
func (m *manager) Balances(ctx context.Context, owner string) ([]TokenBalance, error) {
	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return nil, err
	}

	return TokenBalances(snapshot), nil
}

// BalanceMap implements Manager.
func (m *manager) BalanceMap(ctx context.Context, owner string) (map[string]*big.Int, error) {
	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return nil, err
	}

	return BalanceMap(snapshot), nil
}

// RollbackToHeight implements Manager.
func (m *manager) RollbackToHeight(ctx context.Context, owner string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return err
	}

	var change Change
	for _, u := range snapshot {
		switch {
		case u.CreatedAtHeight > height:
			change.Delete = append(change.Delete, u.Ref())

		case u.State == StateSpent && u.SpentAtHeight > height:
			change.Transitions = append(change.Transitions, StateTransition{
				Ref:  u.Ref(),
				From: StateSpent,
				To:   StateAvailable,
			})
		}
	}

	if change.IsEmpty() {
		return nil
	}

	logger.Info(ctx, "rolling back utxo state",
		"owner", owner,
		"rollback.height", height,
		"rollback.deleted", len(change.Delete),
		"rollback.revived", len(change.Transitions),
	)

	if err := m.storage.ApplyChange(ctx, owner, change); err != nil {
		return err
	}
	m.notifyChange(ctx, owner)
	return nil
}

// ReleaseExpiredLocks implements Manager.
func (m *manager) ReleaseExpiredLocks(ctx context.Context, owner string, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.storage.ListUtxos(ctx, owner)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-maxAge)

	var change Change
	for _, u := range snapshot {
		if u.State != StatePending || u.LockedAt == nil || u.LockedAt.After(cutoff) {
			continue
		}

		change.Transitions = append(change.Transitions, StateTransition{
			Ref:  u.Ref(),
			From: StatePending,
			To:   StateAvailable,
		})
	}

	if change.IsEmpty() {
		return 0, nil
	}

	if err := m.storage.ApplyChange(ctx, owner, change); err != nil {
		return 0, err
	}
	m.notifyChange(ctx, owner)

	logger.Warn(ctx, "released expired utxo locks",
		"owner", owner,
		"locks.released", len(change.Transitions),
		"locks.max_age", maxAge,
	)

	return len(change.Transitions), nil
}

// ClearUtxos implements Manager.
func (m *manager) ClearUtxos(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.DeleteUtxos(ctx, owner); err != nil {
		return err
	}

	m.notifyChange(ctx, owner)
	return nil
}
