package sink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidar-service/pkg/lidar"
)

func TestCSVSinkWriteFrame(t *testing.T) {
	t.Parallel()

	t.Run("writes the header once and one row per sample", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewCSVSink(buf)

		// 90 degrees, one metre, sync start of revolution.
		require.NoError(t, s.WriteFrame(lidar.Frame{
			{AngleQ14: 16384, DistQ2: 4000, Quality: 47, Sync: true},
			{AngleQ14: 32768, DistQ2: 10000, Quality: 12},
		}))
		require.NoError(t, s.WriteFrame(lidar.Frame{
			{AngleQ14: 0, DistQ2: 0, Quality: 0},
		}))
		require.NoError(t, s.Close())

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "theta,dist,q,flag", lines[0])
		assert.Equal(t, "90,1,47,S", lines[1])
		assert.Equal(t, "180,2.5,12,", lines[2])
		assert.Equal(t, "0,0,0,", lines[3])
		assert.True(t, buf.closed)
	})

	t.Run("empty frames still produce the header", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewCSVSink(buf)

		require.NoError(t, s.WriteFrame(lidar.Frame{}))
		require.NoError(t, s.Close())
		assert.Equal(t, "theta,dist,q,flag\n", buf.String())
	})

	t.Run("no header before the first frame", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewCSVSink(buf)

		require.NoError(t, s.Close())
		assert.Empty(t, buf.String())
	})
}
