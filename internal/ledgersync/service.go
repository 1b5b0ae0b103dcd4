// Package ledgersync drives the event feed of the external indexing service
// through reorg detection, UTXO accounting, and balance derivation, exposing
// reactive sync-progress and balance streams per tracked address.
//
// One background worker processes the feed sequentially per address; event
// order is semantically significant (a spend must be applied after its
// creating transaction), so no parallel event application happens. Each
// worker owns its own raw-event cache and reorg detector: addresses backfill
// from independent checkpoints, and interleaving their headers into one
// window would misread the position gap as a reorganization. Starting a new
// subscription for an address cancels any in-flight one — latest wins —
// which guarantees stale data never overwrites current state.
package ledgersync

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/gabapcia/utxosync/internal/eventcache"
	"github.com/gabapcia/utxosync/internal/pkg/logger"
	"github.com/gabapcia/utxosync/internal/pkg/resilience/retry"
	"github.com/gabapcia/utxosync/internal/pkg/x/chflow"
	"github.com/gabapcia/utxosync/internal/reorgwatch"
	"github.com/gabapcia/utxosync/internal/utxoledger"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
//
// The service must be started only once per lifecycle.
var ErrServiceAlreadyStarted = errors.New("service already started")

// ErrServiceNotStarted is returned by SyncAddress before Start.
var ErrServiceNotStarted = errors.New("service not started")

// backfillBatchSize is how many raw events one GetEventsInRange call asks
// for while rebuilding the local cache and header window.
const backfillBatchSize = 500

// Service is the sync orchestration entrypoint.
type Service interface {
	// Start prepares the service for address subscriptions and launches the
	// expired-lock sweeper. Returns ErrServiceAlreadyStarted when called
	// twice. Call Close to shut down all background routines.
	Start(ctx context.Context) error

	// Close cancels every in-flight subscription and closes all observer
	// streams. It is safe to call Close even if the service was never
	// started.
	Close()

	// SyncAddress starts (or restarts) the sync worker for the address.
	// Any in-flight subscription for the same address is canceled first:
	// latest wins.
	SyncAddress(address string) error

	// StopSync cancels the sync worker for the address, if any.
	StopSync(address string)

	// ObserveBalance returns a conflating stream of the address's per-token
	// balances. A value is emitted after every committed mutation of the
	// address's UTXO set. The channel closes when the service closes.
	ObserveBalance(address string) <-chan map[string]*big.Int

	// ObserveSyncState returns a conflating stream of the address's sync
	// progress. The channel closes when the service closes.
	ObserveSyncState(address string) <-chan SyncState

	// NotifyLedgerChange re-derives and emits the owner's balances. It is
	// wired as the ledger Manager's change notifier so mutations performed
	// outside the sync loop (transaction builds, unlocks, administrative
	// clears) also reach balance observers.
	NotifyLedgerChange(ctx context.Context, owner string)
}

// closeFunc defines a cleanup routine to stop background goroutines and dependencies.
type closeFunc func()

// service is the internal implementation of the ledgersync Service.
type service struct {
	mu        sync.Mutex // protects lifecycle state
	isStarted bool
	closeFunc closeFunc
	runCtx    context.Context // parent of all subscription contexts

	feed        EventFeed
	ledger      utxoledger.Manager
	checkpoints CheckpointStorage
	retry       retry.Retry
	isTransient func(error) bool

	cacheSize         int
	windowSize        int
	finalityThreshold uint64

	lockTimeout   time.Duration
	sweepInterval time.Duration

	subMu sync.Mutex
	subs  map[string]context.CancelFunc

	observers *observers
}

// Compile-time check that *service implements Service.
var _ Service = (*service)(nil)

// config holds optional service settings.
type config struct {
	checkpoints       CheckpointStorage
	retry             retry.Retry
	isTransient       func(error) bool
	cacheSize         int
	windowSize        int
	finalityThreshold uint64
	lockTimeout       time.Duration
	sweepInterval     time.Duration
}

// Option configures the ledgersync service.
type Option func(*config)

// WithCheckpointStorage installs persistent checkpointing. Default: a no-op
// store, meaning every sync starts from genesis.
func WithCheckpointStorage(cs CheckpointStorage) Option {
	return func(c *config) {
		c.checkpoints = cs
	}
}

// WithRetry overrides the retry policy used for upstream feed calls.
// Default: retry.New() (3 attempts, exponential backoff).
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithTransientClassifier installs the predicate deciding whether a
// mid-stream feed failure is transient (session restarted) or permanent
// (session ends in the Error phase). Default: every failure is transient.
func WithTransientClassifier(f func(error) bool) Option {
	return func(c *config) {
		c.isTransient = f
	}
}

// WithEventCacheSize bounds each address's raw-event cache. Default:
// eventcache.DefaultMaxSize.
func WithEventCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// WithReorgWindow sets each address's header window size and finality
// threshold. Defaults: reorgwatch.DefaultWindowSize and
// reorgwatch.DefaultFinalityThreshold.
func WithReorgWindow(windowSize int, finalityThreshold uint64) Option {
	return func(c *config) {
		c.windowSize = windowSize
		c.finalityThreshold = finalityThreshold
	}
}

// WithPendingLockTimeout sets how long a PENDING UTXO may keep its lock
// before the sweeper reverts it to AVAILABLE, and how often the sweeper
// runs. Default: 10 minutes, swept every minute.
func WithPendingLockTimeout(timeout, sweepInterval time.Duration) Option {
	return func(c *config) {
		c.lockTimeout = timeout
		c.sweepInterval = sweepInterval
	}
}

// New creates the ledgersync service.
//
// The ledger Manager's change notifier should be pointed at the returned
// service's NotifyLedgerChange so balance observers see mutations performed
// outside the sync loop.
func New(feed EventFeed, ledger utxoledger.Manager, opts ...Option) *service {
	cfg := config{
		checkpoints:       nopCheckpoint{},
		retry:             retry.New(),
		cacheSize:         eventcache.DefaultMaxSize,
		windowSize:        reorgwatch.DefaultWindowSize,
		finalityThreshold: reorgwatch.DefaultFinalityThreshold,
		lockTimeout:       10 * time.Minute,
		sweepInterval:     time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		feed:              feed,
		ledger:            ledger,
		checkpoints:       cfg.checkpoints,
		retry:             cfg.retry,
		isTransient:       cfg.isTransient,
		cacheSize:         cfg.cacheSize,
		windowSize:        cfg.windowSize,
		finalityThreshold: cfg.finalityThreshold,
		lockTimeout:       cfg.lockTimeout,
		sweepInterval:     cfg.sweepInterval,
		subs:              make(map[string]context.CancelFunc),
		observers:         newObservers(),
	}
}

// Start implements Service.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.runCtx = ctx

	go s.sweepExpiredLocks(ctx)

	s.closeFunc = func() {
		cancel()
		s.observers.closeAll()
	}
	s.isStarted = true
	return nil
}

// Close implements Service.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	s.subMu.Lock()
	s.subs = make(map[string]context.CancelFunc)
	s.subMu.Unlock()

	s.closeFunc = nil
	s.isStarted = false
}

// SyncAddress implements Service.
func (s *service) SyncAddress(address string) error {
	s.mu.Lock()
	if !s.isStarted {
		s.mu.Unlock()
		return ErrServiceNotStarted
	}
	runCtx := s.runCtx
	s.mu.Unlock()

	s.subMu.Lock()
	if cancel, ok := s.subs[address]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(runCtx)
	s.subs[address] = cancel
	s.subMu.Unlock()

	detector := reorgwatch.New(
		reorgwatch.WithWindowSize(s.windowSize),
		reorgwatch.WithFinalityThreshold(s.finalityThreshold),
	)
	worker := &syncWorker{
		svc:      s,
		address:  address,
		cache:    eventcache.New(s.cacheSize),
		detector: detector,
	}

	go worker.run(ctx)
	return nil
}

// StopSync implements Service.
func (s *service) StopSync(address string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if cancel, ok := s.subs[address]; ok {
		cancel()
		delete(s.subs, address)
	}
}

// ObserveBalance implements Service.
func (s *service) ObserveBalance(address string) <-chan map[string]*big.Int {
	return s.observers.observeBalance(address)
}

// ObserveSyncState implements Service.
func (s *service) ObserveSyncState(address string) <-chan SyncState {
	return s.observers.observeSyncState(address)
}

// NotifyLedgerChange implements Service and utxoledger.ChangeNotifier.
func (s *service) NotifyLedgerChange(ctx context.Context, owner string) {
	balances, err := s.ledger.BalanceMap(ctx, owner)
	if err != nil {
		logger.Error(ctx, "failed to derive balances after ledger change",
			"owner", owner,
			"error", err,
		)
		return
	}

	s.observers.emitBalance(ctx, owner, balances)
}

// trackedAddresses snapshots the addresses with an active subscription.
func (s *service) trackedAddresses() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	addresses := make([]string, 0, len(s.subs))
	for address := range s.subs {
		addresses = append(addresses, address)
	}
	return addresses
}

// sweepExpiredLocks periodically reverts PENDING outputs whose lock outlived
// the configured timeout. A PENDING UTXO with no in-flight transaction build
// behind it would otherwise stay unspendable forever.
func (s *service) sweepExpiredLocks(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, address := range s.trackedAddresses() {
			if _, err := s.ledger.ReleaseExpiredLocks(ctx, address, s.lockTimeout); err != nil {
				logger.Error(ctx, "failed to release expired utxo locks",
					"owner", address,
					"error", err,
				)
			}
		}
	}
}

// sessionOutcome tells the worker loop what to do after a session ends.
type sessionOutcome int

const (
	sessionStop    sessionOutcome = iota // context canceled or permanent failure
	sessionRestart                       // reorg rollback or transient failure: resubscribe from checkpoint
)

// syncWorker is the per-address synchronization state. The raw-event cache
// and the reorg detector are owned by the worker, never shared: each address
// subscribes from its own checkpoint, and feeding headers from two different
// chain positions into one window would misclassify the gap as a deep
// reorganization.
type syncWorker struct {
	svc      *service
	address  string
	cache    *eventcache.Cache
	detector *reorgwatch.Detector
}

// run is the per-address sync loop. Each iteration is one subscription
// session; sessions are restarted after reorg rollbacks and transient feed
// failures, always resuming from the persisted checkpoint.
func (w *syncWorker) run(ctx context.Context) {
	for {
		outcome := w.syncSession(ctx)
		if outcome == sessionStop || ctx.Err() != nil {
			return
		}
	}
}

// loadCheckpoint returns the persisted resume position for the address, or
// zero when none exists.
func (w *syncWorker) loadCheckpoint(ctx context.Context) uint64 {
	id, err := w.svc.checkpoints.LoadLatestCheckpoint(ctx, w.address)
	if err != nil {
		if !errors.Is(err, ErrNoCheckpointFound) {
			logger.Error(ctx, "failed to load sync checkpoint",
				"owner", w.address,
				"error", err,
			)
		}
		return 0
	}
	return id
}

// syncSession runs one subscription session: backfill the raw-event cache
// and header window from the checkpoint, subscribe, and apply feed items
// until the context is canceled, the session fails, or a rollback demands a
// restart.
func (w *syncWorker) syncSession(ctx context.Context) sessionOutcome {
	w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseConnecting})

	fromID := w.loadCheckpoint(ctx)

	fromID, outcome, ok := w.backfill(ctx, fromID)
	if !ok {
		return outcome
	}

	var eventsCh <-chan FeedEvent
	err := w.svc.retry.Execute(ctx, func() error {
		ch, err := w.svc.feed.Subscribe(ctx, w.address, fromID)
		if err != nil {
			return err
		}
		eventsCh = ch
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to subscribe to event feed",
			"owner", w.address,
			"error", err,
		)
		w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: err})
		return sessionStop
	}

	progress := SyncState{Phase: PhaseSyncing, CurrentID: fromID}

	for {
		item, received := chflow.Receive(ctx, eventsCh)
		if !received {
			if ctx.Err() != nil {
				return sessionStop
			}
			// Feed ended on its own: resubscribe from the checkpoint.
			return sessionRestart
		}

		switch {
		case item.Err != nil:
			if w.svc.isTransient != nil && !w.svc.isTransient(item.Err) {
				logger.Error(ctx, "permanent event feed failure",
					"owner", w.address,
					"error", item.Err,
				)
				w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: item.Err})
				return sessionStop
			}

			logger.Warn(ctx, "transient event feed failure, reconnecting",
				"owner", w.address,
				"error", item.Err,
			)
			return sessionRestart

		case item.Event != nil:
			outcome, ok := w.applyRawEvent(ctx, *item.Event, &progress)
			if !ok {
				return outcome
			}

		case item.Outcome != nil:
			outcome, ok := w.applyTransactionOutcome(ctx, *item.Outcome, &progress)
			if !ok {
				return outcome
			}

		case item.Progress != nil:
			w.applyProgressMarker(ctx, *item.Progress, &progress)

		default:
			logger.Warn(ctx, "dropping malformed feed item with no payload",
				"owner", w.address,
			)
		}
	}
}

// backfill rebuilds the raw-event cache and the reorg header window from the
// checkpoint forward using ranged fetches, returning the id to subscribe
// from. The third return value is false when the session must end or
// restart with the returned sessionOutcome.
func (w *syncWorker) backfill(ctx context.Context, fromID uint64) (uint64, sessionOutcome, bool) {
	lastID := fromID

	for {
		var events []eventcache.RawEvent
		err := w.svc.retry.Execute(ctx, func() error {
			evs, err := w.svc.feed.GetEventsInRange(ctx, lastID+1, lastID+backfillBatchSize)
			if err != nil {
				return err
			}
			events = evs
			return nil
		})
		if err != nil {
			logger.Error(ctx, "failed to backfill events",
				"owner", w.address,
				"from_id", lastID+1,
				"error", err,
			)
			w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: err})
			return 0, sessionStop, false
		}

		if len(events) == 0 {
			return lastID, 0, true
		}

		for _, event := range events {
			w.cache.Put(event)

			if reorg := w.applyHeader(event); reorg != nil {
				outcome := w.handleReorg(ctx, *reorg)
				return 0, outcome, false
			}

			lastID = event.ID
		}

		if len(events) < backfillBatchSize {
			return lastID, 0, true
		}
	}
}

// applyHeader feeds the event's block header into the reorg detector,
// skipping events that belong to the block already at the tip.
func (w *syncWorker) applyHeader(event eventcache.RawEvent) *reorgwatch.ReorgEvent {
	if tip, ok := w.detector.Tip(); ok && tip.Hash == event.BlockHash {
		return nil
	}

	return w.detector.Apply(reorgwatch.Block{
		Height:     event.BlockHeight,
		Hash:       event.BlockHash,
		ParentHash: event.ParentHash,
	})
}

// applyRawEvent caches the event, runs reorg detection, persists the
// checkpoint, and advances the progress stream. The second return value is
// false when the session must end or restart.
func (w *syncWorker) applyRawEvent(ctx context.Context, event eventcache.RawEvent, progress *SyncState) (sessionOutcome, bool) {
	w.cache.Put(event)

	if reorg := w.applyHeader(event); reorg != nil {
		return w.handleReorg(ctx, *reorg), false
	}

	// Events that slid out of the header window can no longer participate
	// in a shallow rollback; drop them from the cache.
	if oldest, ok := w.detector.OldestRetainedHeight(); ok {
		w.cache.EvictBefore(oldest)
	}

	if err := w.svc.checkpoints.SaveCheckpoint(ctx, w.address, event.ID); err != nil {
		// Checkpoint failure must not stop event application; the worst
		// case is redundant replay after a restart.
		logger.Error(ctx, "failed to save sync checkpoint",
			"owner", w.address,
			"event.id", event.ID,
			"error", err,
		)
	}

	progress.Processed++
	progress.CurrentID = event.ID
	if event.MaxID > progress.HighestID {
		progress.HighestID = event.MaxID
	}

	w.emitProgress(ctx, progress)
	return 0, true
}

// applyTransactionOutcome routes a decoded outcome through the ledger
// Manager and emits the refreshed balances. The second return value is false
// when the session must end or restart.
func (w *syncWorker) applyTransactionOutcome(ctx context.Context, outcome utxoledger.TransactionOutcome, progress *SyncState) (sessionOutcome, bool) {
	result, err := w.svc.ledger.ProcessUpdate(ctx, w.address, utxoledger.TransactionUpdate{Outcome: outcome})
	if err != nil {
		if errors.Is(err, utxoledger.ErrBalanceUnderflow) {
			// Consistency violation: either a double-spend race or a missed
			// rollback. Fatal to this sync session; local balance data is
			// left intact for administrative inspection.
			logger.Error(ctx, "balance underflow while applying outcome",
				"owner", w.address,
				"transaction.hash", outcome.TransactionHash,
				"error", err,
			)
			w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: err})
			return sessionStop, false
		}

		logger.Error(ctx, "failed to apply transaction outcome",
			"owner", w.address,
			"transaction.hash", outcome.TransactionHash,
			"error", err,
		)
		return sessionRestart, false
	}

	if processed, ok := result.(utxoledger.TransactionProcessed); ok {
		logger.Debug(ctx, "transaction outcome applied",
			"owner", w.address,
			"transaction.hash", outcome.TransactionHash,
			"outcome.status", processed.Status.String(),
			"outcome.created", processed.CreatedCount,
			"outcome.spent", processed.SpentCount,
		)
	}

	w.svc.NotifyLedgerChange(ctx, w.address)
	w.emitProgress(ctx, progress)
	return 0, true
}

// applyProgressMarker advances the checkpoint and progress stream for a
// marker that carries no UTXO mutation.
func (w *syncWorker) applyProgressMarker(ctx context.Context, marker ProgressMarker, progress *SyncState) {
	if _, err := w.svc.ledger.ProcessUpdate(ctx, w.address, utxoledger.ProgressUpdate{HighestTransactionID: marker.HighestTransactionID}); err != nil {
		logger.Error(ctx, "failed to apply progress marker",
			"owner", w.address,
			"error", err,
		)
		return
	}

	if marker.HighestEventID > progress.CurrentID {
		progress.CurrentID = marker.HighestEventID

		if err := w.svc.checkpoints.SaveCheckpoint(ctx, w.address, marker.HighestEventID); err != nil {
			logger.Error(ctx, "failed to save sync checkpoint",
				"owner", w.address,
				"event.id", marker.HighestEventID,
				"error", err,
			)
		}
	}
	if marker.MaxEventID > progress.HighestID {
		progress.HighestID = marker.MaxEventID
	}

	w.emitProgress(ctx, progress)
}

// emitProgress publishes the session's progress, switching to the Synced
// phase once the local view has caught up with the upstream tip.
func (w *syncWorker) emitProgress(ctx context.Context, progress *SyncState) {
	state := *progress
	if state.HighestID > 0 && state.CurrentID >= state.HighestID {
		state.Phase = PhaseSynced
	}

	w.svc.observers.emitSyncState(ctx, w.address, state)
}

// handleReorg applies the rollback instruction of a detected reorganization.
//
// Shallow: discard cache entries and ledger state above the common ancestor,
// move the checkpoint back to the last event at or below the ancestor, and
// restart the session so replay proceeds from the ancestor forward.
//
// Deep: no local rollback can be proven correct past the finality horizon,
// so all cached state for the address is discarded and synchronization
// restarts from genesis.
func (w *syncWorker) handleReorg(ctx context.Context, reorg reorgwatch.ReorgEvent) sessionOutcome {
	logger.Warn(ctx, "chain reorganization detected",
		"owner", w.address,
		"reorg.kind", reorg.Kind.String(),
		"reorg.old_tip", reorg.OldTip.Height,
		"reorg.new_tip", reorg.NewTip.Height,
		"reorg.ancestor", reorg.CommonAncestorHeight,
	)

	switch reorg.Kind {
	case reorgwatch.ReorgShallow:
		if err := w.svc.ledger.RollbackToHeight(ctx, w.address, reorg.CommonAncestorHeight); err != nil {
			logger.Error(ctx, "failed to roll back utxo state",
				"owner", w.address,
				"reorg.ancestor", reorg.CommonAncestorHeight,
				"error", err,
			)
			w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: err})
			return sessionStop
		}

		w.cache.EvictAbove(reorg.CommonAncestorHeight)
		w.svc.NotifyLedgerChange(ctx, w.address)

		resumeFrom, found := w.cache.MaxIDAtOrBelow(reorg.CommonAncestorHeight)
		if !found {
			// The cache no longer holds any event at or below the ancestor,
			// so the only provably safe resume position is genesis. The
			// replay is redundant but never wrong: outcome application is
			// idempotent per transaction.
			logger.Warn(ctx, "no cached event at or below the reorg ancestor, replaying from genesis",
				"owner", w.address,
				"reorg.ancestor", reorg.CommonAncestorHeight,
			)
		}
		if err := w.svc.checkpoints.SaveCheckpoint(ctx, w.address, resumeFrom); err != nil {
			logger.Error(ctx, "failed to save rollback checkpoint",
				"owner", w.address,
				"event.id", resumeFrom,
				"error", err,
			)
		}

		return sessionRestart

	default: // reorgwatch.ReorgDeep
		if err := w.svc.ledger.ClearUtxos(ctx, w.address); err != nil {
			logger.Error(ctx, "failed to clear utxo state after deep reorg",
				"owner", w.address,
				"error", err,
			)
			w.svc.observers.emitSyncState(ctx, w.address, SyncState{Phase: PhaseError, Err: err})
			return sessionStop
		}

		w.cache.Purge()
		w.detector.Reset()
		w.svc.NotifyLedgerChange(ctx, w.address)

		if err := w.svc.checkpoints.SaveCheckpoint(ctx, w.address, 0); err != nil {
			logger.Error(ctx, "failed to reset checkpoint after deep reorg",
				"owner", w.address,
				"error", err,
			)
		}

		return sessionRestart
	}
}
