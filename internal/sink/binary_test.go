package sink

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidar-service/pkg/lidar"
)

// writeBuffer adapts a bytes.Buffer to io.WriteCloser.
type writeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *writeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestBinarySinkWriteFrame(t *testing.T) {
	t.Parallel()

	t.Run("writes the count header and fixed-size records", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewBinarySink(buf)

		frame := lidar.Frame{
			{AngleQ14: 0x1234, DistQ2: 0x00ABCDEF, Quality: 47, Sync: true},
			{AngleQ14: 0x4321, DistQ2: 0x00000010, Quality: 3, Sync: false},
		}
		require.NoError(t, s.WriteFrame(frame))
		require.NoError(t, s.Close())

		data := buf.Bytes()
		require.Len(t, data, 8+2*sampleRecordSize)
		assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(data[:8]))

		assert.Equal(t, uint16(0x1234), binary.LittleEndian.Uint16(data[8:10]))
		assert.Equal(t, uint32(0x00ABCDEF), binary.LittleEndian.Uint32(data[10:14]))
		assert.Equal(t, byte(47), data[14])
		assert.Equal(t, byte(1), data[15])

		assert.Equal(t, uint16(0x4321), binary.LittleEndian.Uint16(data[16:18]))
		assert.Equal(t, byte(3), data[22])
		assert.Equal(t, byte(0), data[23])
		assert.True(t, buf.closed)
	})

	t.Run("empty frame is a bare header", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewBinarySink(buf)

		require.NoError(t, s.WriteFrame(lidar.Frame{}))
		require.NoError(t, s.Close())

		require.Len(t, buf.Bytes(), 8)
		assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(buf.Bytes()))
	})

	t.Run("frames are concatenated without separators", func(t *testing.T) {
		t.Parallel()
		buf := &writeBuffer{}
		s := NewBinarySink(buf)

		require.NoError(t, s.WriteFrame(lidar.Frame{{AngleQ14: 1}}))
		require.NoError(t, s.WriteFrame(lidar.Frame{{AngleQ14: 2}, {AngleQ14: 3}}))
		require.NoError(t, s.Close())

		assert.Len(t, buf.Bytes(), (8+sampleRecordSize)+(8+2*sampleRecordSize))
	})
}

func TestFrameRecordRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("decode reverses encode", func(t *testing.T) {
		t.Parallel()
		frame := lidar.Frame{
			{AngleQ14: 0, DistQ2: 0, Quality: 0, Sync: true},
			{AngleQ14: 16384, DistQ2: 4000, Quality: 47},
			{AngleQ14: 65535, DistQ2: 0xFFFFFFFF, Quality: 255},
		}

		decoded, err := DecodeFrame(EncodeFrame(frame))
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)
	})

	t.Run("encode matches the sink wire form", func(t *testing.T) {
		t.Parallel()
		frame := lidar.Frame{{AngleQ14: 7, DistQ2: 9, Quality: 1, Sync: true}}

		buf := &writeBuffer{}
		s := NewBinarySink(buf)
		require.NoError(t, s.WriteFrame(frame))
		require.NoError(t, s.Close())

		assert.Equal(t, buf.Bytes(), EncodeFrame(frame))
	})

	t.Run("empty frame round trip", func(t *testing.T) {
		t.Parallel()
		decoded, err := DecodeFrame(EncodeFrame(lidar.Frame{}))
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("rejects truncated records", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeFrame([]byte{1, 2, 3})
		assert.Error(t, err)

		record := EncodeFrame(lidar.Frame{{AngleQ14: 7}})
		_, err = DecodeFrame(record[:len(record)-1])
		assert.Error(t, err)
	})
}
