// internal/protocol/serial_channel.go
package protocol

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// defaultReadTimeout bounds a single port read so a pending acquisition can
// observe cancellation at a short interval.
const defaultReadTimeout = 50 * time.Millisecond

// SerialChannel implements Channel over a serial port.
type SerialChannel struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex

	// statsMutex guards stats on its own: Read and Write run concurrently
	// under the port read-lock and still need to mutate the counters.
	statsMutex sync.Mutex
	stats      ChannelStats

	isOpen bool
}

// NewSerialChannel creates a new serial channel.
func NewSerialChannel(config *SerialConfig, logger *zap.Logger) *SerialChannel {
	return &SerialChannel{
		config: config,
		logger: logger.With(
			zap.String("channel", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Open opens the serial port.
func (sc *SerialChannel) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
	)

	mode := &serial.Mode{
		BaudRate: sc.config.BaudRate,
		DataBits: sc.config.DataBits,
		StopBits: serial.StopBits(sc.config.StopBits),
	}

	switch sc.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(sc.config.Port, mode)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", sc.config.Port, err)
	}

	readTimeout := sc.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	sc.port = port
	sc.isOpen = true
	sc.statsMutex.Lock()
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()
	sc.statsMutex.Unlock()

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port.
func (sc *SerialChannel) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	if err := sc.port.Close(); err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.port = nil
	sc.isOpen = false
	sc.statsMutex.Lock()
	sc.stats.IsConnected = false
	sc.statsMutex.Unlock()

	sc.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the channel is open.
func (sc *SerialChannel) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port.
func (sc *SerialChannel) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := sc.port.Write(data)
	if err != nil {
		sc.recordError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.statsMutex.Lock()
	sc.stats.BytesWritten += int64(len(data))
	sc.stats.LastActivity = time.Now()
	sc.statsMutex.Unlock()
	return nil
}

// Read reads up to maxBytes from the serial port. The port's read timeout
// bounds the wait; an expired wait yields an empty slice, not an error, so
// callers can poll for cancellation.
func (sc *SerialChannel) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return nil, fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	buffer := make([]byte, maxBytes)
	n, err := sc.port.Read(buffer)
	if err != nil && err != io.EOF {
		sc.recordError()
		return nil, fmt.Errorf("failed to read from serial port: %w", err)
	}

	if n > 0 {
		sc.statsMutex.Lock()
		sc.stats.BytesRead += int64(n)
		sc.stats.LastActivity = time.Now()
		sc.statsMutex.Unlock()
	}
	return buffer[:n], nil
}

// Flush discards buffered input bytes.
func (sc *SerialChannel) Flush() error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}
	return sc.port.ResetInputBuffer()
}

// SetDTR drives the DTR line. PWM-only units gate their motor on it.
func (sc *SerialChannel) SetDTR(on bool) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}
	return sc.port.SetDTR(on)
}

// Stats returns a snapshot of channel statistics.
func (sc *SerialChannel) Stats() ChannelStats {
	sc.statsMutex.Lock()
	defer sc.statsMutex.Unlock()
	return sc.stats
}

func (sc *SerialChannel) recordError() {
	sc.statsMutex.Lock()
	sc.stats.ErrorCount++
	sc.statsMutex.Unlock()
}

// ListPorts enumerates serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}
