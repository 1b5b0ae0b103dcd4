package ledgersync

import (
	"context"
	"math/big"
	"sync"

	"github.com/gabapcia/utxosync/internal/pkg/x/chflow"
)

// observerBufferSize is the capacity of each observer channel. One slot is
// all conflation needs: SendLatest replaces the pending value, so a slow
// consumer always wakes up to the most recent emission.
const observerBufferSize = 1

// observers holds the per-address balance and sync-state subscriber
// channels. Emissions are conflating and never block the sync worker.
type observers struct {
	mu      sync.Mutex
	closed  bool
	balance map[string][]chan map[string]*big.Int
	state   map[string][]chan SyncState
}

func newObservers() *observers {
	return &observers{
		balance: make(map[string][]chan map[string]*big.Int),
		state:   make(map[string][]chan SyncState),
	}
}

// observeBalance registers a new balance observer for the address.
func (o *observers) observeBalance(address string) <-chan map[string]*big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan map[string]*big.Int, observerBufferSize)
	if o.closed {
		close(ch)
		return ch
	}

	o.balance[address] = append(o.balance[address], ch)
	return ch
}

// observeSyncState registers a new sync-state observer for the address.
func (o *observers) observeSyncState(address string) <-chan SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan SyncState, observerBufferSize)
	if o.closed {
		close(ch)
		return ch
	}

	o.state[address] = append(o.state[address], ch)
	return ch
}

// emitBalance delivers the balance map to every observer of the address,
// replacing any undelivered previous emission.
func (o *observers) emitBalance(ctx context.Context, address string, balances map[string]*big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	for _, ch := range o.balance[address] {
		chflow.SendLatest(ctx, ch, balances)
	}
}

// emitSyncState delivers the sync state to every observer of the address,
// replacing any undelivered previous emission.
func (o *observers) emitSyncState(ctx context.Context, address string, state SyncState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	for _, ch := range o.state[address] {
		chflow.SendLatest(ctx, ch, state)
	}
}

// closeAll closes every observer channel. Registered after closeAll, new
// observers receive an already-closed channel.
func (o *observers) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true

	for _, chs := range o.balance {
		for _, ch := range chs {
			close(ch)
		}
	}
	for _, chs := range o.state {
		for _, ch := range chs {
			close(ch)
		}
	}

	o.balance = make(map[string][]chan map[string]*big.Int)
	o.state = make(map[string][]chan SyncState)
}
