// internal/protocol/channel.go
package protocol

import (
	"context"
	"time"
)

// Channel is a byte-stream transport to the device. Any non-responsive or
// malformed-stream condition surfaces here as a channel-level failure; the
// driver layers its request/response protocol on top.
type Channel interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data transfer. Read returns as soon as any bytes are available, or an
	// empty slice once the port's read timeout elapses.
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	// Flush discards any bytes buffered on the input side.
	Flush() error
}

// LineController is implemented by channels that expose modem control lines.
// PWM-only lidar units start and stop their motor via DTR.
type LineController interface {
	SetDTR(on bool) error
}

// SerialConfig represents serial channel configuration.
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// ChannelStats provides channel-level statistics.
type ChannelStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	IsConnected  bool      `json:"is_connected"`
}
