// internal/sink/csv.go
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"lidar-service/pkg/lidar"
)

// CSVSink writes one row per sample: angle in degrees, distance in metres,
// quality, and "S" on revolution-sync samples. The header row is written on
// the first frame.
type CSVSink struct {
	w           *bufio.Writer
	closer      io.Closer
	wroteHeader bool
}

// NewCSVSink creates a sink over an arbitrary writer.
func NewCSVSink(w io.WriteCloser) *CSVSink {
	return &CSVSink{
		w:      bufio.NewWriter(w),
		closer: w,
	}
}

// NewCSVFileSink creates the file and a sink over it.
func NewCSVFileSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv sink file: %w", err)
	}
	return NewCSVSink(f), nil
}

// WriteFrame appends one row per sample of the frame.
func (s *CSVSink) WriteFrame(frame lidar.Frame) error {
	if !s.wroteHeader {
		if _, err := s.w.WriteString("theta,dist,q,flag\n"); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		s.wroteHeader = true
	}

	for _, sample := range frame {
		flag := ""
		if sample.Sync {
			flag = "S"
		}
		_, err := fmt.Fprintf(s.w, "%g,%g,%d,%s\n",
			sample.Angle(), sample.Distance(), sample.Quality, flag)
		if err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	return nil
}

// Close flushes pending rows and closes the underlying writer.
func (s *CSVSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.closer.Close()
		return fmt.Errorf("failed to flush csv sink: %w", err)
	}
	return s.closer.Close()
}
