// pkg/lidar/interfaces.go
package lidar

import "context"

// Driver is the contract every lidar hardware driver must implement. All
// blocking calls take a context and observe the driver's bounded internal
// timeouts; cancellation unblocks a pending call promptly.
type Driver interface {
	// Connection lifecycle
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Capability queries. Idempotent reads; the session layer calls each at
	// most once per session.
	DeviceInfo(ctx context.Context) (*DeviceInfo, error)
	Health(ctx context.Context) (*HealthStatus, error)
	MotorInfo(ctx context.Context) (*MotorInfo, error)
	ScanModes(ctx context.Context) ([]ScanMode, error)
	TypicalScanMode(ctx context.Context) (uint16, error)

	// Motor control. A no-op when the device reports MotorCtrlNone.
	SetMotorSpeed(ctx context.Context, rpm uint16) error

	// Scanning. StartScan puts the device into continuous emission; GrabFrame
	// fills buf with up to len(buf) samples, blocking until at least one is
	// available, the bounded wait expires, or the stream ends.
	StartScan(ctx context.Context, mode *ScanMode) error
	GrabFrame(ctx context.Context, buf []Sample) (int, error)
	Stop(ctx context.Context) error

	// Reset puts the device back into its power-on state. Never invoked
	// automatically; recovering from an Error health status is a caller
	// decision.
	Reset(ctx context.Context) error
}

// Sink records ordered frames, one record per acquisition cycle, in
// acquisition order. A failed acquisition must produce no partial record.
type Sink interface {
	WriteFrame(frame Frame) error
	Close() error
}
