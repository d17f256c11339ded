package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diff(u, final, prev int64) DiffEvent {
	return DiffEvent{FirstUpdateID: u, FinalUpdateID: final, PrevFinalUpdateID: prev}
}

// Scenario 1: happy bootstrap.
func TestBootstrapHappyPath(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(99, 100, 98)))
	require.NoError(t, b.Ingest(diff(101, 101, 100)))
	require.NoError(t, b.Ingest(diff(102, 102, 101)))

	err := b.Bootstrap(Snapshot{LastUpdateID: 100})
	require.NoError(t, err)

	view := b.View()
	assert.True(t, view.Initialized)
	assert.Equal(t, int64(102), view.LastU)
	assert.Equal(t, int64(100), view.LastUpdateID)
}

// Scenario 2: stale pruning.
func TestBootstrapPrunesStaleDiffs(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(94, 95, 93)))
	require.NoError(t, b.Ingest(diff(96, 97, 95)))
	require.NoError(t, b.Ingest(diff(98, 100, 97)))
	require.NoError(t, b.Ingest(diff(101, 101, 100)))

	err := b.Bootstrap(Snapshot{LastUpdateID: 100})
	require.NoError(t, err)

	view := b.View()
	assert.True(t, view.Initialized)
	assert.Equal(t, int64(101), view.LastU)
}

// Scenario 3: gap on first event — overlap check fails.
func TestBootstrapGapOnFirstEvent(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(110, 115, 109)))

	err := b.Bootstrap(Snapshot{LastUpdateID: 100})
	assert.ErrorIs(t, err, ErrBootstrapOverlap)
	assert.False(t, b.IsInitialized())
	assert.Equal(t, 1, b.RetryCount())

	// A fresher snapshot whose id falls inside the buffered event succeeds.
	err = b.Bootstrap(Snapshot{LastUpdateID: 112})
	require.NoError(t, err)
	assert.True(t, b.IsInitialized())
	assert.Equal(t, 0, b.RetryCount())
}

// Boundary: first buffered diff exactly meets U == snapshot_id.
func TestBootstrapBoundaryUEqualsSnapshot(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(100, 105, 99)))
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))
	assert.True(t, b.IsInitialized())
}

// Boundary: first buffered diff exactly meets u == snapshot_id.
func TestBootstrapBoundaryUuEqualsSnapshot(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(95, 100, 94)))
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))
	assert.True(t, b.IsInitialized())
}

// Empty-buffer bootstrap: next live diff must straddle snapshot id.
func TestBootstrapEmptyBufferThenFirstLiveDiff(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))
	view := b.View()
	assert.True(t, view.Initialized)
	assert.Equal(t, int64(100), view.LastU)

	// First live diff straddles snapshot id: accepted.
	require.NoError(t, b.Ingest(diff(98, 103, 97)))
	assert.Equal(t, int64(103), b.View().LastU)
}

func TestEmptyBufferFirstLiveDiffGap(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))

	err := b.Ingest(diff(105, 110, 104))
	assert.ErrorIs(t, err, ErrGap)
	assert.False(t, b.IsInitialized())
}

func TestEmptyBufferFirstLiveDiffStaleIgnored(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))

	require.NoError(t, b.Ingest(diff(90, 95, 89)))
	assert.True(t, b.IsInitialized())
	assert.Equal(t, int64(100), b.View().LastU)
}

// Scenario 4: mid-stream gap.
func TestMidStreamGapTriggersRebootstrap(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 499}))
	require.NoError(t, b.Ingest(diff(495, 500, 494))) // straddles the snapshot id
	assert.Equal(t, int64(500), b.View().LastU)

	err := b.Ingest(diff(499, 505, 498)) // pu=498, expected 500
	assert.ErrorIs(t, err, ErrGap)
	assert.False(t, b.IsInitialized())
}

// Duplicate diffs (same u) are rejected as a gap via the pu check.
func TestDuplicateDiffRejectedAsGap(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 100}))
	require.NoError(t, b.Ingest(diff(99, 105, 98))) // straddles the snapshot id
	assert.Equal(t, int64(105), b.View().LastU)

	err := b.Ingest(diff(99, 105, 98)) // same event replayed
	assert.ErrorIs(t, err, ErrGap)
}

// Scenario 5: zero-quantity deletion.
func TestZeroQuantityDeletesLevel(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{
		LastUpdateID: 100,
		Bids:         []PriceLevel{{Price: "10.25", Qty: "4.0"}},
	}))
	assert.Equal(t, "4.0", b.View().Bids["10.25"])

	e := diff(99, 101, 98) // straddles the snapshot id
	e.Bids = []PriceLevel{{Price: "10.25", Qty: "0"}}
	require.NoError(t, b.Ingest(e))

	_, exists := b.View().Bids["10.25"]
	assert.False(t, exists)
}

// No stored level ever carries a zero quantity, even straight out of a snapshot.
func TestSnapshotNeverStoresZeroQuantity(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{
		LastUpdateID: 1,
		Asks:         []PriceLevel{{Price: "5", Qty: "0"}, {Price: "6", Qty: "1"}},
	}))
	view := b.View()
	_, hasZero := view.Asks["5"]
	assert.False(t, hasZero)
	assert.Equal(t, "1", view.Asks["6"])
}

// Buffer compaction: a later buffered diff supersedes an earlier one
// whose final id precedes the later one's first id, so a snapshot that
// would only have matched the dropped diff's overlap now has to match
// the surviving one instead.
func TestBufferCompactionDropsSupersededDiffs(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Ingest(diff(50, 60, 49)))
	require.NoError(t, b.Ingest(diff(61, 70, 60))) // compaction drops the first diff: 60 < 61

	// A snapshot id that only the dropped diff would have covered now fails.
	err := b.Bootstrap(Snapshot{LastUpdateID: 55})
	assert.ErrorIs(t, err, ErrBootstrapOverlap)

	b2 := NewSymbolBook("BTCUSDT")
	require.NoError(t, b2.Ingest(diff(50, 60, 49)))
	require.NoError(t, b2.Ingest(diff(61, 70, 60)))
	require.NoError(t, b2.Bootstrap(Snapshot{LastUpdateID: 65}))
	assert.True(t, b2.IsInitialized())
	assert.Equal(t, int64(70), b2.View().LastU)
}

// ViewDepth keeps the best levels of each side: highest bids, lowest asks.
func TestViewDepthTruncatesToBestLevels(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{
		LastUpdateID: 100,
		Bids: []PriceLevel{
			{Price: "10.00", Qty: "1"},
			{Price: "10.25", Qty: "2"},
			{Price: "9.50", Qty: "3"},
		},
		Asks: []PriceLevel{
			{Price: "10.50", Qty: "4"},
			{Price: "11.00", Qty: "5"},
			{Price: "10.75", Qty: "6"},
		},
	}))

	v := b.ViewDepth(2)
	assert.Equal(t, map[string]string{"10.25": "2", "10.00": "1"}, v.Bids)
	assert.Equal(t, map[string]string{"10.50": "4", "10.75": "6"}, v.Asks)

	full := b.ViewDepth(0)
	assert.Len(t, full.Bids, 3)
	assert.Len(t, full.Asks, 3)
	assert.Equal(t, full, b.View())
}

// Monotonicity: last_u never decreases while initialized stays true.
func TestLastUMonotonicWhileInitialized(t *testing.T) {
	b := NewSymbolBook("BTCUSDT")
	require.NoError(t, b.Bootstrap(Snapshot{LastUpdateID: 10}))
	last := b.View().LastU
	for _, d := range []DiffEvent{diff(9, 15, 8), diff(16, 20, 15), diff(21, 30, 20)} {
		require.NoError(t, b.Ingest(d))
		next := b.View().LastU
		assert.GreaterOrEqual(t, next, last)
		last = next
	}
}

// Idempotence of re-bootstrap: replaying the same snapshot + diffs
// produces the identical state.
func TestRebootstrapIsIdempotent(t *testing.T) {
	snap := Snapshot{LastUpdateID: 100, Bids: []PriceLevel{{Price: "1", Qty: "2"}}}
	diffs := []DiffEvent{diff(99, 105, 98), diff(106, 110, 105)}

	build := func() View {
		b := NewSymbolBook("BTCUSDT")
		require.NoError(t, b.Bootstrap(snap))
		for _, d := range diffs {
			require.NoError(t, b.Ingest(d))
		}
		return b.View()
	}

	v1 := build()
	v2 := build()
	assert.Equal(t, v1, v2)
}
