// internal/sink/binary.go
package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"lidar-service/pkg/lidar"
)

// sampleRecordSize is the wire size of one encoded sample: q14 angle (2),
// q2 distance (4), quality (1), sync flag (1).
const sampleRecordSize = 8

// BinarySink writes one record per ordered frame: an unsigned little-endian
// 64-bit sample count followed by that many fixed-size samples. There are no
// separators beyond the embedded count.
type BinarySink struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewBinarySink creates a sink over an arbitrary writer.
func NewBinarySink(w io.WriteCloser) *BinarySink {
	return &BinarySink{
		w:      bufio.NewWriter(w),
		closer: w,
	}
}

// NewBinaryFileSink creates the file and a sink over it.
func NewBinaryFileSink(path string) (*BinarySink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create binary sink file: %w", err)
	}
	return NewBinarySink(f), nil
}

// WriteFrame appends one frame record.
func (s *BinarySink) WriteFrame(frame lidar.Frame) error {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(frame)))
	if _, err := s.w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}

	var rec [sampleRecordSize]byte
	for _, sample := range frame {
		binary.LittleEndian.PutUint16(rec[0:2], sample.AngleQ14)
		binary.LittleEndian.PutUint32(rec[2:6], sample.DistQ2)
		rec[6] = sample.Quality
		rec[7] = 0
		if sample.Sync {
			rec[7] = 1
		}
		if _, err := s.w.Write(rec[:]); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}
	return nil
}

// Close flushes buffered records and closes the underlying writer.
func (s *BinarySink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.closer.Close()
		return fmt.Errorf("failed to flush binary sink: %w", err)
	}
	return s.closer.Close()
}

// EncodeFrame returns the stand-alone record encoding of a frame, as written
// by WriteFrame. Used by the scan archive to store frames as blobs.
func EncodeFrame(frame lidar.Frame) []byte {
	out := make([]byte, 8+len(frame)*sampleRecordSize)
	binary.LittleEndian.PutUint64(out[:8], uint64(len(frame)))

	off := 8
	for _, sample := range frame {
		binary.LittleEndian.PutUint16(out[off:off+2], sample.AngleQ14)
		binary.LittleEndian.PutUint32(out[off+2:off+6], sample.DistQ2)
		out[off+6] = sample.Quality
		out[off+7] = 0
		if sample.Sync {
			out[off+7] = 1
		}
		off += sampleRecordSize
	}
	return out
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(data []byte) (lidar.Frame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("frame record too short: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint64(data[:8])
	want := 8 + int(count)*sampleRecordSize
	if len(data) != want {
		return nil, fmt.Errorf("frame record is %d bytes, want %d for %d samples",
			len(data), want, count)
	}

	frame := make(lidar.Frame, count)
	off := 8
	for i := range frame {
		frame[i] = lidar.Sample{
			AngleQ14: binary.LittleEndian.Uint16(data[off : off+2]),
			DistQ2:   binary.LittleEndian.Uint32(data[off+2 : off+6]),
			Quality:  data[off+6],
			Sync:     data[off+7] != 0,
		}
		off += sampleRecordSize
	}
	return frame, nil
}
