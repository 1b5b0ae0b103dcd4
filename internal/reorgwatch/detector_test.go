package reorgwatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// block builds a header on the canonical test chain, where the hash of the
// block at height h is "hash-h".
func block(height uint64) Block {
	return Block{
		Height:     height,
		Hash:       fmt.Sprintf("hash-%d", height),
		ParentHash: fmt.Sprintf("hash-%d", height-1),
	}
}

// forkBlock builds a header on a competing fork branching off the canonical
// chain right above forkPoint.
func forkBlock(height, forkPoint uint64) Block {
	parent := fmt.Sprintf("fork-%d", height-1)
	if height == forkPoint+1 {
		parent = fmt.Sprintf("hash-%d", forkPoint)
	}
	return Block{
		Height:     height,
		Hash:       fmt.Sprintf("fork-%d", height),
		ParentHash: parent,
	}
}

// extend applies a run of consecutive canonical headers, requiring that none
// of them triggers a reorg.
func extend(t *testing.T, d *Detector, from, to uint64) {
	t.Helper()
	for h := from; h <= to; h++ {
		require.Nil(t, d.Apply(block(h)), "header %d should extend the chain", h)
	}
}

func TestDetector_ConsistentChain(t *testing.T) {
	t.Run("first header seeds the window without an event", func(t *testing.T) {
		d := New()

		event := d.Apply(block(100))
		assert.Nil(t, event)

		tip, ok := d.Tip()
		require.True(t, ok)
		assert.Equal(t, uint64(100), tip.Height)
	})

	t.Run("consecutive headers extend the chain", func(t *testing.T) {
		d := New()
		extend(t, d, 100, 150)

		tip, ok := d.Tip()
		require.True(t, ok)
		assert.Equal(t, uint64(150), tip.Height)
	})

	t.Run("window stays bounded and slides forward", func(t *testing.T) {
		d := New(WithWindowSize(10))
		extend(t, d, 1, 25)

		oldest, ok := d.OldestRetainedHeight()
		require.True(t, ok)
		assert.Equal(t, uint64(16), oldest, "the window should retain only the most recent headers")
	})
}

func TestDetector_ShallowReorg(t *testing.T) {
	t.Run("fork within the finality threshold", func(t *testing.T) {
		d := New()
		extend(t, d, 100, 110)

		// A competing block at height 106 branching off height 105.
		event := d.Apply(forkBlock(106, 105))
		require.NotNil(t, event, "a competing header must produce a reorg event")

		assert.Equal(t, ReorgShallow, event.Kind)
		assert.True(t, event.HasCommonAncestor)
		assert.Equal(t, uint64(105), event.CommonAncestorHeight)
		assert.Equal(t, uint64(110), event.OldTip.Height)
		assert.Equal(t, uint64(106), event.NewTip.Height)

		tip, ok := d.Tip()
		require.True(t, ok)
		assert.Equal(t, "fork-106", tip.Hash, "the new branch becomes the local tip")
	})

	t.Run("window truncates to the ancestor and accepts the new branch", func(t *testing.T) {
		d := New()
		extend(t, d, 100, 110)

		require.NotNil(t, d.Apply(forkBlock(106, 105)))

		// The fork keeps growing; its headers must now read as extensions.
		assert.Nil(t, d.Apply(forkBlock(107, 105)))
		assert.Nil(t, d.Apply(forkBlock(108, 105)))

		tip, ok := d.Tip()
		require.True(t, ok)
		assert.Equal(t, "fork-108", tip.Hash)
	})

	t.Run("depth at exactly the finality threshold is still shallow", func(t *testing.T) {
		d := New(WithFinalityThreshold(5))
		extend(t, d, 100, 110)

		// Old tip 110, ancestor 105: depth 5 == threshold.
		event := d.Apply(forkBlock(106, 105))
		require.NotNil(t, event)
		assert.Equal(t, ReorgShallow, event.Kind)
	})
}

func TestDetector_DeepReorg(t *testing.T) {
	t.Run("depth beyond the finality threshold", func(t *testing.T) {
		d := New(WithFinalityThreshold(5))
		extend(t, d, 100, 120)

		// Ancestor 110, old tip 120: depth 10 > threshold 5.
		event := d.Apply(forkBlock(111, 110))
		require.NotNil(t, event)

		assert.Equal(t, ReorgDeep, event.Kind)
		assert.True(t, event.HasCommonAncestor)
		assert.Equal(t, uint64(110), event.CommonAncestorHeight)
	})

	t.Run("ancestor slid out of the window", func(t *testing.T) {
		d := New(WithWindowSize(5))
		extend(t, d, 100, 120)

		// Branch off height 105, which the 5-wide window no longer retains.
		event := d.Apply(forkBlock(106, 105))
		require.NotNil(t, event)

		assert.Equal(t, ReorgDeep, event.Kind)
		assert.False(t, event.HasCommonAncestor, "no rollback target is known locally")
	})

	t.Run("window resets to the new header", func(t *testing.T) {
		d := New(WithFinalityThreshold(5))
		extend(t, d, 100, 120)

		require.NotNil(t, d.Apply(forkBlock(111, 110)))

		oldest, ok := d.OldestRetainedHeight()
		require.True(t, ok)
		assert.Equal(t, uint64(111), oldest, "only the new header should remain after a deep reorg")
	})
}

func TestDetector_Reset(t *testing.T) {
	d := New()
	extend(t, d, 100, 110)

	d.Reset()

	_, ok := d.Tip()
	assert.False(t, ok, "Reset() should clear the window")

	// The next header seeds a fresh window without an event.
	assert.Nil(t, d.Apply(block(500)))
}
