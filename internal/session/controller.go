// internal/session/controller.go
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lidar-service/pkg/lidar"
)

// State is a session lifecycle state.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateConnected     State = "CONNECTED"
	StateIdentified    State = "IDENTIFIED"
	StateHealthChecked State = "HEALTH_CHECKED"
	StateIdle          State = "IDLE"
	StateScanning      State = "SCANNING"
	StateStopped       State = "STOPPED"
)

// Controller drives one device session through
// connect -> identify -> health check -> optional setup -> scan -> stop.
// A controller exclusively owns its driver and channel; at most one scan runs
// per channel at a time.
type Controller struct {
	driver lidar.Driver
	logger *zap.Logger

	mutex    sync.Mutex
	state    State
	identity *lidar.DeviceInfo
	health   *lidar.HealthStatus
	motor    *lidar.MotorInfo
	modes    []lidar.ScanMode
	typical  *lidar.ScanMode
	active   *lidar.ScanMode
	selected *lidar.ScanMode

	// One reusable frame buffer per session, refilled by each acquisition.
	// Frames handed out alias it and are only valid until the next call.
	frameBuf []lidar.Sample
}

// New creates a controller around a driver with the given frame capacity.
func New(driver lidar.Driver, frameCapacity int, logger *zap.Logger) *Controller {
	if frameCapacity <= 0 {
		frameCapacity = lidar.DefaultFrameCapacity
	}
	return &Controller{
		driver:   driver,
		logger:   logger.With(zap.String("component", "session")),
		state:    StateDisconnected,
		frameBuf: make([]lidar.Sample, frameCapacity),
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Identity returns the device identity fetched by Identify, or nil.
func (c *Controller) Identity() *lidar.DeviceInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.identity
}

// Health returns the last health report, or nil.
func (c *Controller) Health() *lidar.HealthStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.health
}

// Motor returns the motor capability fetched by FetchCapabilities, or nil.
func (c *Controller) Motor() *lidar.MotorInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.motor
}

// ScanModes returns the scan-mode catalog fetched by FetchCapabilities.
func (c *Controller) ScanModes() []lidar.ScanMode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.modes
}

// TypicalMode returns the firmware's preferred catalog mode, resolved by
// FetchCapabilities, or nil.
func (c *Controller) TypicalMode() *lidar.ScanMode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.typical
}

// SelectedMode returns the mode chosen for the next scan, or nil when the
// device's default full-range mode is in effect.
func (c *Controller) SelectedMode() *lidar.ScanMode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.selected
}

// ActiveMode returns the mode of the running or last scan, or nil. It is
// populated by StartScan; before the scan starts SelectedMode holds the choice.
func (c *Controller) ActiveMode() *lidar.ScanMode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active
}

// Connect binds the channel and probes the device.
func (c *Controller) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("connect", StateDisconnected); err != nil {
		return err
	}
	if err := c.driver.Connect(ctx); err != nil {
		return err
	}

	c.state = StateConnected
	c.logger.Info("Session connected")
	return nil
}

// Identify fetches the device identity, exactly once per session.
func (c *Controller) Identify(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("identify", StateConnected); err != nil {
		return err
	}

	identity, err := c.driver.DeviceInfo(ctx)
	if err != nil {
		return err
	}

	c.identity = identity
	c.state = StateIdentified
	c.logger.Info("Device identified",
		zap.String("serial", identity.SerialNumberString()),
		zap.String("firmware", identity.FirmwareString()),
		zap.Uint8("hardware", identity.HardwareVersion),
	)
	return nil
}

// CheckHealth gates the session on device health. An Error status is fatal
// for the session: the device needs a manual out-of-band reset and the
// controller refuses to proceed to scanning.
func (c *Controller) CheckHealth(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("check health", StateIdentified); err != nil {
		return err
	}

	health, err := c.driver.Health(ctx)
	if err != nil {
		return err
	}
	c.health = health

	if !health.OK() {
		c.logger.Error("Device reports internal error, reboot required",
			zap.Uint16("code", health.Code),
		)
		return lidar.NewOpError("check health",
			fmt.Errorf("%w: status %s code %d", lidar.ErrUnhealthy, health.State, health.Code))
	}

	c.state = StateHealthChecked
	c.logger.Info("Device health verified", zap.String("status", health.State.String()))
	return nil
}

// FetchCapabilities loads the motor capability and scan-mode catalog, once
// per session. Requires the health gate to have passed.
func (c *Controller) FetchCapabilities(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("fetch capabilities", StateHealthChecked, StateIdle); err != nil {
		return err
	}
	if c.modes != nil {
		return nil
	}

	motor, err := c.driver.MotorInfo(ctx)
	if err != nil {
		return err
	}
	modes, err := c.driver.ScanModes(ctx)
	if err != nil {
		return err
	}
	typicalID, err := c.driver.TypicalScanMode(ctx)
	if err != nil {
		return err
	}

	c.motor = motor
	c.modes = modes
	for i := range c.modes {
		if c.modes[i].ID == typicalID {
			c.typical = &c.modes[i]
			break
		}
	}
	c.logger.Info("Capabilities fetched",
		zap.String("motor_ctrl", motor.Support.String()),
		zap.Int("scan_modes", len(modes)),
		zap.Uint16("typical_mode", typicalID),
	)
	return nil
}

// ConfigureMotor validates and applies a motor speed. With no motor control
// on the device the call is fully inert regardless of the value. Out-of-range
// speeds are rejected before any device interaction.
func (c *Controller) ConfigureMotor(ctx context.Context, speed uint16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("configure motor", StateHealthChecked, StateIdle); err != nil {
		return err
	}
	if c.motor == nil {
		return lidar.NewOpError("configure motor",
			fmt.Errorf("%w: capabilities not fetched", lidar.ErrState))
	}

	if c.motor.Support == lidar.MotorCtrlNone {
		c.logger.Debug("Motor control unsupported, request ignored")
		return nil
	}
	if speed < c.motor.MinSpeed || speed > c.motor.MaxSpeed {
		return lidar.NewOpError("configure motor",
			fmt.Errorf("%w: speed %d outside [%d, %d]",
				lidar.ErrConfig, speed, c.motor.MinSpeed, c.motor.MaxSpeed))
	}

	return c.driver.SetMotorSpeed(ctx, speed)
}

// SelectScanMode picks a catalog mode for the next scan. Unknown ids are
// rejected with the session state unchanged.
func (c *Controller) SelectScanMode(id uint16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("select scan mode", StateHealthChecked, StateIdle); err != nil {
		return err
	}

	for i := range c.modes {
		if c.modes[i].ID == id {
			c.selected = &c.modes[i]
			c.logger.Info("Scan mode selected",
				zap.Uint16("mode_id", id),
				zap.String("mode", c.modes[i].Name),
			)
			return nil
		}
	}
	return lidar.NewOpError("select scan mode",
		fmt.Errorf("%w: scan mode %d not in catalog", lidar.ErrConfig, id))
}

// SelectTypicalScanMode picks the firmware's preferred mode for the next
// scan. Fails with a config error when the reported typical id is not in the
// fetched catalog.
func (c *Controller) SelectTypicalScanMode() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("select scan mode", StateHealthChecked, StateIdle); err != nil {
		return err
	}
	if c.typical == nil {
		return lidar.NewOpError("select scan mode",
			fmt.Errorf("%w: typical mode not in catalog", lidar.ErrConfig))
	}

	c.selected = c.typical
	c.logger.Info("Typical scan mode selected",
		zap.Uint16("mode_id", c.typical.ID),
		zap.String("mode", c.typical.Name),
	)
	return nil
}

// SelectDefaultScanMode clears any mode selection; the next scan uses the
// device's default full-range mode.
func (c *Controller) SelectDefaultScanMode() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("select scan mode", StateHealthChecked, StateIdle); err != nil {
		return err
	}
	c.selected = nil
	return nil
}

// StartScan issues the start command for the selected (or default) mode and
// enters Scanning. The device then emits continuously at its own pace.
func (c *Controller) StartScan(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("start scan", StateHealthChecked, StateIdle); err != nil {
		return err
	}

	if err := c.driver.StartScan(ctx, c.selected); err != nil {
		return err
	}

	c.active = c.selected
	c.state = StateScanning
	return nil
}

// AcquireFrame pulls one bounded batch of samples. Only valid while
// Scanning; in any other state it fails before any device I/O. Timeouts are
// left to caller policy; unrecoverable stream failures transition the
// session to Stopped before propagating.
//
// The returned frame aliases the session's reusable buffer and is valid only
// until the next AcquireFrame call.
func (c *Controller) AcquireFrame(ctx context.Context) (lidar.Frame, error) {
	c.mutex.Lock()
	if c.state != StateScanning {
		state := c.state
		c.mutex.Unlock()
		return nil, lidar.NewOpError("acquire frame",
			fmt.Errorf("%w: state %s, want %s", lidar.ErrState, state, StateScanning))
	}
	buf := c.frameBuf
	c.mutex.Unlock()

	n, err := c.driver.GrabFrame(ctx, buf)
	if err != nil {
		if lidar.IsFatal(err) {
			c.logger.Error("Scan stream failed, stopping session", zap.Error(err))
			c.stopInternal(ctx)
		}
		return nil, err
	}
	return lidar.Frame(buf[:n]), nil
}

// EndScan stops the current scan but keeps the session alive in Idle, so a
// fresh scan (possibly in another mode) can be started on the same session.
func (c *Controller) EndScan(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.requireState("end scan", StateScanning); err != nil {
		return err
	}
	if err := c.driver.Stop(ctx); err != nil {
		return err
	}

	c.active = nil
	c.state = StateIdle
	return nil
}

// Stop ends the session. Valid in any state beyond Connected. Idempotent:
// stopping a stopped session has no second side effect and no error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateStopped {
		return nil
	}
	if c.state == StateDisconnected || c.state == StateConnected {
		return lidar.NewOpError("stop",
			fmt.Errorf("%w: state %s has nothing to stop", lidar.ErrState, c.state))
	}
	return c.stopLocked(ctx)
}

// stopInternal transitions to Stopped from an unrecoverable acquisition
// failure, taking the lock itself.
func (c *Controller) stopInternal(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == StateStopped {
		return
	}
	if err := c.stopLocked(ctx); err != nil {
		c.logger.Warn("Stop after stream failure reported error", zap.Error(err))
	}
}

func (c *Controller) stopLocked(ctx context.Context) error {
	err := c.driver.Stop(ctx)
	c.state = StateStopped
	c.logger.Info("Session stopped")
	return err
}

// requireState fails with a state-precondition error unless the current
// state is one of the allowed states.
func (c *Controller) requireState(op string, allowed ...State) error {
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return lidar.NewOpError(op,
		fmt.Errorf("%w: state %s not in %v", lidar.ErrState, c.state, allowed))
}
