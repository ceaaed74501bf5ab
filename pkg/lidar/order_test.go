package lidar

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderFrame(t *testing.T) {
	t.Parallel()

	t.Run("sorts samples into non-decreasing angle order", func(t *testing.T) {
		t.Parallel()
		frame := Frame{
			{AngleQ14: 9000, DistQ2: 400},
			{AngleQ14: 100, DistQ2: 800},
			{AngleQ14: 16000, DistQ2: 1200},
			{AngleQ14: 4500, DistQ2: 1600},
		}

		ordered := OrderFrame(frame)
		require.Len(t, ordered, len(frame))
		assert.True(t, Ascending(ordered))
	})

	t.Run("preserves every sample", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(1))
		frame := make(Frame, 500)
		for i := range frame {
			frame[i] = Sample{
				AngleQ14: uint16(rng.Intn(16384)),
				DistQ2:   uint32(rng.Intn(40000)),
				Quality:  uint8(rng.Intn(64)),
			}
		}

		ordered := OrderFrame(frame)
		require.Len(t, ordered, len(frame))

		counts := map[Sample]int{}
		for _, s := range frame {
			counts[s]++
		}
		for _, s := range ordered {
			counts[s]--
		}
		for s, n := range counts {
			assert.Zero(t, n, "sample %+v count changed", s)
		}
	})

	t.Run("does not mutate the input frame", func(t *testing.T) {
		t.Parallel()
		frame := Frame{
			{AngleQ14: 300},
			{AngleQ14: 100},
			{AngleQ14: 200},
		}
		snapshot := make(Frame, len(frame))
		copy(snapshot, frame)

		_ = OrderFrame(frame)
		assert.Equal(t, snapshot, frame)
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()
		frame := Frame{
			{AngleQ14: 700, Quality: 1},
			{AngleQ14: 50, Quality: 2},
			{AngleQ14: 700, Quality: 3},
			{AngleQ14: 50, Quality: 4},
		}

		once := OrderFrame(frame)
		twice := OrderFrame(once)
		assert.Equal(t, once, twice)
	})

	t.Run("keeps delivery order for equal angles", func(t *testing.T) {
		t.Parallel()
		// The sync-flagged sample arrives first and must stay ahead of the
		// equal-angle sample that followed it.
		frame := Frame{
			{AngleQ14: 8000, Quality: 9},
			{AngleQ14: 0, Sync: true, Quality: 1},
			{AngleQ14: 0, Quality: 2},
		}

		ordered := OrderFrame(frame)
		require.Len(t, ordered, 3)
		assert.True(t, ordered[0].Sync)
		assert.Equal(t, uint8(1), ordered[0].Quality)
		assert.Equal(t, uint8(2), ordered[1].Quality)
		assert.Equal(t, uint8(9), ordered[2].Quality)
	})

	t.Run("handles empty and single-sample frames", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, OrderFrame(Frame{}))
		assert.Empty(t, OrderFrame(nil))

		one := Frame{{AngleQ14: 42, DistQ2: 7}}
		assert.Equal(t, one, OrderFrame(one))
	})

	t.Run("already sorted frame is unchanged", func(t *testing.T) {
		t.Parallel()
		frame := Frame{
			{AngleQ14: 10},
			{AngleQ14: 20},
			{AngleQ14: 20},
			{AngleQ14: 30},
		}
		assert.Equal(t, frame, OrderFrame(frame))
	})
}

func TestAscending(t *testing.T) {
	t.Parallel()

	assert.True(t, Ascending(nil))
	assert.True(t, Ascending(Frame{{AngleQ14: 5}}))
	assert.True(t, Ascending(Frame{{AngleQ14: 1}, {AngleQ14: 1}, {AngleQ14: 2}}))
	assert.False(t, Ascending(Frame{{AngleQ14: 2}, {AngleQ14: 1}}))
}
