package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkTracksRuns(t *testing.T) {
	var h History
	require.Equal(t, 0, h.ConsecutiveTrue())
	require.Equal(t, 0, h.ConsecutiveFalse())

	h.Mark(1, true)
	h.Mark(2, true)
	assert.Equal(t, 2, h.ConsecutiveTrue())
	assert.Equal(t, 0, h.ConsecutiveFalse())

	h.Mark(3, false)
	assert.Equal(t, 0, h.ConsecutiveTrue())
	assert.Equal(t, 1, h.ConsecutiveFalse())

	h.Mark(4, false)
	h.Mark(5, false)
	assert.Equal(t, 3, h.ConsecutiveFalse())

	h.Mark(6, true)
	assert.Equal(t, 1, h.ConsecutiveTrue())
	assert.Equal(t, 0, h.ConsecutiveFalse())
}

func TestMarkSameTickIsOred(t *testing.T) {
	var h History
	h.Mark(1, false)
	h.Mark(2, false)
	h.Mark(3, true)
	h.Mark(3, false)
	assert.Equal(t, 1, h.ConsecutiveTrue())

	h.Mark(4, false)
	h.Mark(4, true)
	assert.Equal(t, 2, h.ConsecutiveTrue())
	assert.Equal(t, 0, h.ConsecutiveFalse())

	changed, ok := h.At(4)
	require.True(t, ok)
	assert.True(t, changed)
}

func TestMarkGapCountsAsUnchanged(t *testing.T) {
	var h History
	h.Mark(10, true)
	h.Mark(14, false)
	assert.Equal(t, 0, h.ConsecutiveTrue())
	assert.Equal(t, 4, h.ConsecutiveFalse())

	for seq := uint64(11); seq <= 13; seq++ {
		changed, ok := h.At(seq)
		require.True(t, ok, "seq %d", seq)
		assert.False(t, changed, "seq %d", seq)
	}

	h.Mark(100, true)
	assert.Equal(t, 1, h.ConsecutiveTrue())
	changed, ok := h.At(99)
	require.True(t, ok)
	assert.False(t, changed)
}

func TestMarkOlderTickLeavesRuns(t *testing.T) {
	var h History
	h.Mark(5, false)
	h.Mark(6, false)
	h.Mark(7, false)

	h.Mark(6, true)
	assert.Equal(t, 3, h.ConsecutiveFalse())
	changed, ok := h.At(6)
	require.True(t, ok)
	assert.True(t, changed)

	h.Mark(7+Capacity, false)
	h.Mark(7, true)
	changed, ok = h.At(7)
	assert.False(t, ok, "seq 7 fell out of the ring")
	assert.True(t, changed)
}

func TestRingOverwrite(t *testing.T) {
	var h History
	h.Mark(3, true)
	h.Mark(3+Capacity, false)

	changed, ok := h.At(3 + Capacity)
	require.True(t, ok)
	assert.False(t, changed)

	_, ok = h.At(3)
	assert.False(t, ok)
}

func TestAtUnknown(t *testing.T) {
	var h History
	changed, ok := h.At(1)
	assert.False(t, ok)
	assert.True(t, changed)

	h.Mark(40, false)
	_, ok = h.At(39)
	assert.False(t, ok, "never written")
	_, ok = h.At(41)
	assert.False(t, ok, "future")
}

func TestRunsAtCountsTrailingTicks(t *testing.T) {
	var h History
	h.Mark(5, true)

	tr, fa := h.RunsAt(5)
	assert.Equal(t, 1, tr)
	assert.Equal(t, 0, fa)

	tr, fa = h.RunsAt(7)
	assert.Equal(t, 0, tr)
	assert.Equal(t, 2, fa)

	h.Mark(8, false)
	tr, fa = h.RunsAt(9)
	assert.Equal(t, 0, tr)
	assert.Equal(t, 4, fa)
}

func TestNilHistory(t *testing.T) {
	var h *History
	h.Mark(1, true)
	assert.Equal(t, 0, h.ConsecutiveTrue())
	assert.Equal(t, 0, h.ConsecutiveFalse())
	_, ok := h.Newest()
	assert.False(t, ok)
}
