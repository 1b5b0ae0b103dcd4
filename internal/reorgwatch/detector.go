// Package reorgwatch tracks a sliding window of block headers and detects
// chain reorganizations by comparing incoming headers against the locally
// known chain.
//
// A reorg whose depth stays within the finality threshold is reported as
// shallow together with the common ancestor height, so consumers can discard
// exactly the state derived above the ancestor and replay forward. Anything
// deeper, including a reorg whose ancestor has already slid out of the
// window, is reported as deep and demands a full resync.
package reorgwatch

import (
	"fmt"
	"sync"
)

const (
	// DefaultWindowSize is the default number of recent block headers kept
	// for ancestor lookups.
	DefaultWindowSize = 100

	// DefaultFinalityThreshold is the default reorg depth, in blocks, up to
	// which a local rollback is considered safe.
	DefaultFinalityThreshold = 64
)

// Detector maintains the sliding header window and classifies incoming
// headers as chain extensions or reorganizations.
//
// The zero value is not usable; construct a Detector with New.
type Detector struct {
	mu     sync.Mutex
	window []Block // oldest first; len(window) <= windowSize

	windowSize        int
	finalityThreshold uint64
}

// config holds the tunable parameters of a Detector.
type config struct {
	windowSize        int
	finalityThreshold uint64
}

// Option configures a Detector.
type Option func(*config)

// WithWindowSize sets the number of headers retained for ancestor lookups.
// Default: DefaultWindowSize.
func WithWindowSize(n int) Option {
	return func(c *config) {
		c.windowSize = n
	}
}

// WithFinalityThreshold sets the maximum reorg depth classified as shallow.
// Default: DefaultFinalityThreshold.
func WithFinalityThreshold(n uint64) Option {
	return func(c *config) {
		c.finalityThreshold = n
	}
}

// New creates a Detector with an empty window.
func New(opts ...Option) *Detector {
	cfg := config{
		windowSize:        DefaultWindowSize,
		finalityThreshold: DefaultFinalityThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.windowSize <= 0 {
		cfg.windowSize = DefaultWindowSize
	}

	return &Detector{
		window:            make([]Block, 0, cfg.windowSize),
		windowSize:        cfg.windowSize,
		finalityThreshold: cfg.finalityThreshold,
	}
}

// Tip returns the most recently applied header and whether one exists.
func (d *Detector) Tip() (Block, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.window) == 0 {
		return Block{}, false
	}
	return d.window[len(d.window)-1], true
}

// Apply feeds the next observed header into the detector.
//
// On a consistent chain (the header's ParentHash matches the current tip) it
// appends the header, evicts the oldest entry once the window is full, and
// returns a nil event. On a mismatch it walks the window backward looking for
// the header's parent:
//
//   - Parent found and depth <= finality threshold: the window is truncated
//     back to the ancestor, the new header appended, and a shallow ReorgEvent
//     returned. Consumers must discard state above the ancestor and replay.
//   - Parent found but depth > finality threshold, or parent not found at
//     all: the window is reset to contain only the new header and a deep
//     ReorgEvent is returned. Consumers must discard all cached state and
//     resynchronize from a checkpoint.
//
// The first header ever applied seeds the window without producing an event.
func (d *Detector) Apply(header Block) *ReorgEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.window) == 0 {
		d.window = append(d.window, header)
		return nil
	}

	tip := d.window[len(d.window)-1]
	if header.ParentHash == tip.Hash {
		d.append(header)
		return nil
	}

	// Walk backward through the window for the new header's parent.
	for i := len(d.window) - 1; i >= 0; i-- {
		candidate := d.window[i]
		if candidate.Hash != header.ParentHash {
			continue
		}

		event := &ReorgEvent{
			CommonAncestorHeight: candidate.Height,
			HasCommonAncestor:    true,
			OldTip:               tip,
			NewTip:               header,
		}

		if depth := tip.Height - candidate.Height; depth <= d.finalityThreshold {
			event.Kind = ReorgShallow
			d.window = d.window[:i+1]
			d.append(header)
		} else {
			event.Kind = ReorgDeep
			d.window = d.window[:0]
			d.window = append(d.window, header)
		}

		return event
	}

	// Window exhausted without finding a common ancestor. A rollback target
	// is unknown locally, which forces a full resync.
	d.window = d.window[:0]
	d.window = append(d.window, header)

	return &ReorgEvent{
		Kind:   ReorgDeep,
		OldTip: tip,
		NewTip: header,
	}
}

// Reset clears the window. It is called after a deep reorg once the consumer
// has restarted synchronization from a checkpoint.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = d.window[:0]
}

// OldestRetainedHeight returns the height of the oldest header still in the
// window, letting callers evict event-cache entries that can no longer
// participate in a shallow rollback. The second return value is false when
// the window is empty.
func (d *Detector) OldestRetainedHeight() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.window) == 0 {
		return 0, false
	}
	return d.window[0].Height, true
}

// append adds the header to the window, evicting the oldest entry when the
// window would exceed its configured size.
func (d *Detector) append(header Block) {
	d.window = append(d.window, header)
	if len(d.window) > d.windowSize {
		d.window = d.window[1:]
	}
}

// String implements fmt.Stringer for debug logging.
func (d *Detector) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.window) == 0 {
		return "reorgwatch.Detector(empty)"
	}
	return fmt.Sprintf("reorgwatch.Detector(window=%d, tip=%d)", len(d.window), d.window[len(d.window)-1].Height)
}
