// internal/driver/slamtec/driver.go
package slamtec

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lidar-service/internal/protocol"
	"lidar-service/pkg/lidar"
)

// Config holds driver timing and buffering parameters.
type Config struct {
	ConnectTimeout time.Duration `json:"connect_timeout"`
	CommandTimeout time.Duration `json:"command_timeout"`
	GrabTimeout    time.Duration `json:"grab_timeout"`
	PollInterval   time.Duration `json:"poll_interval"`
	CacheCapacity  int           `json:"cache_capacity"`
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 2 * time.Second,
		CommandTimeout: time.Second,
		GrabTimeout:    time.Second,
		PollInterval:   20 * time.Millisecond,
		CacheCapacity:  2 * lidar.DefaultFrameCapacity,
	}
}

// Driver implements lidar.Driver for SLAMTEC-style rotating lidar units
// speaking the A5-framed request/response protocol over a byte channel.
type Driver struct {
	channel     protocol.Channel
	config      *Config
	logger      *zap.Logger
	mutex       sync.Mutex
	isConnected bool
	motorInfo   *lidar.MotorInfo
	pump        *scanPump
}

// New creates a driver bound to a channel. The channel is opened by Connect.
func New(channel protocol.Channel, config *Config, logger *zap.Logger) *Driver {
	if config == nil {
		config = DefaultConfig()
	}
	return &Driver{
		channel: channel,
		config:  config,
		logger:  logger.With(zap.String("driver", "slamtec")),
	}
}

// Connect opens the channel and probes the device for liveness. Both the
// open and the probe failures are channel-level: the session cannot proceed
// and the caller must re-open.
func (d *Driver) Connect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isConnected {
		return nil
	}

	if err := d.channel.Open(ctx); err != nil {
		return lidar.NewOpError("connect", fmt.Errorf("%w: %v", lidar.ErrChannel, err))
	}
	if err := d.channel.Flush(); err != nil {
		d.channel.Close()
		return lidar.NewOpError("connect", fmt.Errorf("%w: %v", lidar.ErrChannel, err))
	}

	// Liveness probe: any well-formed health reply within the connect
	// timeout proves the device is talking.
	if _, err := d.queryHealth(ctx, d.config.ConnectTimeout); err != nil {
		d.channel.Close()
		return lidar.NewOpError("connect",
			fmt.Errorf("%w: liveness probe failed: %v", lidar.ErrChannel, err))
	}

	d.isConnected = true
	d.logger.Info("Lidar connected")
	return nil
}

// Disconnect closes the channel. Safe to call when already disconnected.
func (d *Driver) Disconnect() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	d.stopPumpLocked()
	if err := d.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	d.isConnected = false
	d.logger.Info("Lidar disconnected")
	return nil
}

// IsConnected returns the connection status.
func (d *Driver) IsConnected() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.isConnected && d.channel.IsOpen()
}

// DeviceInfo fetches the device identity.
func (d *Driver) DeviceInfo(ctx context.Context) (*lidar.DeviceInfo, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	body, err := d.singleQuery(ctx, "device info", buildCommand(cmdGetInfo),
		infoResponseLength, ansTypeDevInfo, d.config.CommandTimeout)
	if err != nil {
		return nil, lidar.NewOpError("device info", err)
	}

	info, err := parseDeviceInfo(body)
	if err != nil {
		return nil, lidar.NewOpError("device info", err)
	}
	return info, nil
}

// Health fetches the device health report.
func (d *Driver) Health(ctx context.Context) (*lidar.HealthStatus, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	health, err := d.queryHealth(ctx, d.config.CommandTimeout)
	if err != nil {
		return nil, lidar.NewOpError("health", err)
	}
	return health, nil
}

// MotorInfo fetches motor-control capability and the allowed speed range.
func (d *Driver) MotorInfo(ctx context.Context) (*lidar.MotorInfo, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.motorInfoLocked(ctx)
}

func (d *Driver) motorInfoLocked(ctx context.Context) (*lidar.MotorInfo, error) {
	if d.motorInfo != nil {
		return d.motorInfo, nil
	}

	support, err := d.confUint8(ctx, confMotorCtrlSupport, nil)
	if err != nil {
		return nil, lidar.NewOpError("motor info", err)
	}

	info := &lidar.MotorInfo{Support: lidar.MotorCtrl(support)}
	if info.Support != lidar.MotorCtrlNone {
		if info.MinSpeed, err = d.confUint16(ctx, confMotorMinSpeed, nil); err != nil {
			return nil, lidar.NewOpError("motor info", err)
		}
		if info.MaxSpeed, err = d.confUint16(ctx, confMotorMaxSpeed, nil); err != nil {
			return nil, lidar.NewOpError("motor info", err)
		}
		if info.DesiredSpeed, err = d.confUint16(ctx, confMotorDesiredSpeed, nil); err != nil {
			return nil, lidar.NewOpError("motor info", err)
		}
	}

	d.motorInfo = info
	return info, nil
}

// ScanModes fetches the scan-mode catalog, one configuration round-trip per
// field per mode.
func (d *Driver) ScanModes(ctx context.Context) ([]lidar.ScanMode, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	count, err := d.confUint16(ctx, confScanModeCount, nil)
	if err != nil {
		return nil, lidar.NewOpError("scan modes", err)
	}

	modes := make([]lidar.ScanMode, 0, count)
	for id := uint16(0); id < count; id++ {
		mode := lidar.ScanMode{ID: id}
		modeID := id

		usQ8, err := d.confUint32(ctx, confScanModeUsPerSample, &modeID)
		if err != nil {
			return nil, lidar.NewOpError("scan modes", err)
		}
		mode.UsPerSample = float64(usQ8) / 256.0

		distQ8, err := d.confUint32(ctx, confScanModeMaxDistance, &modeID)
		if err != nil {
			return nil, lidar.NewOpError("scan modes", err)
		}
		mode.MaxDistanceM = float64(distQ8) / 256.0

		if mode.AnswerType, err = d.confUint8(ctx, confScanModeAnsType, &modeID); err != nil {
			return nil, lidar.NewOpError("scan modes", err)
		}
		if mode.Name, err = d.confString(ctx, confScanModeName, &modeID); err != nil {
			return nil, lidar.NewOpError("scan modes", err)
		}

		modes = append(modes, mode)
	}
	return modes, nil
}

// TypicalScanMode fetches the id of the firmware's preferred mode.
func (d *Driver) TypicalScanMode(ctx context.Context) (uint16, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	id, err := d.confUint16(ctx, confScanModeTypical, nil)
	if err != nil {
		return 0, lidar.NewOpError("typical scan mode", err)
	}
	return id, nil
}

// SetMotorSpeed adjusts the spin motor. On units without motor control the
// call is fully inert: there is no capability range to validate against.
func (d *Driver) SetMotorSpeed(ctx context.Context, rpm uint16) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	info, err := d.motorInfoLocked(ctx)
	if err != nil {
		return err
	}

	switch info.Support {
	case lidar.MotorCtrlNone:
		d.logger.Debug("Motor control not supported, ignoring speed request")
		return nil

	case lidar.MotorCtrlPWM:
		// PWM units gate the motor on DTR and take a duty-cycle payload.
		if lc, ok := d.channel.(protocol.LineController); ok {
			if err := lc.SetDTR(rpm == 0); err != nil {
				return lidar.NewOpError("set motor speed",
					fmt.Errorf("%w: %v", lidar.ErrChannel, err))
			}
		}
		duty := rpm
		if duty > maxMotorPWM {
			duty = maxMotorPWM
		}
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, duty)
		if err := d.writeRequest(ctx, buildPayloadCommand(cmdSetMotorPWM, payload)); err != nil {
			return lidar.NewOpError("set motor speed", err)
		}

	case lidar.MotorCtrlRPM:
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, rpm)
		if err := d.writeRequest(ctx, buildPayloadCommand(cmdSetMotorRPM, payload)); err != nil {
			return lidar.NewOpError("set motor speed", err)
		}
	}

	d.logger.Info("Motor speed set", zap.Uint16("rpm", rpm))
	return nil
}

// StartScan puts the device into continuous emission and starts the node
// pump. A nil mode requests the device's default full-range scan.
func (d *Driver) StartScan(ctx context.Context, mode *lidar.ScanMode) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return lidar.NewOpError("start scan", fmt.Errorf("%w: not connected", lidar.ErrChannel))
	}
	if d.pump != nil {
		return lidar.NewOpError("start scan", fmt.Errorf("%w: scan already running", lidar.ErrState))
	}

	if err := d.channel.Flush(); err != nil {
		return lidar.NewOpError("start scan", fmt.Errorf("%w: %v", lidar.ErrChannel, err))
	}

	var req []byte
	if mode == nil || mode.ID == 0 {
		req = buildCommand(cmdScan)
	} else {
		payload := []byte{byte(mode.ID), 0, 0, 0, 0}
		req = buildPayloadCommand(cmdExpressScan, payload)
	}

	if err := d.writeRequest(ctx, req); err != nil {
		return lidar.NewOpError("start scan", err)
	}

	desc, err := d.readDescriptor(ctx, d.config.CommandTimeout)
	if err != nil {
		return lidar.NewOpError("start scan", err)
	}
	if !desc.multi {
		return lidar.NewOpError("start scan",
			fmt.Errorf("%w: expected continuous response mode", lidar.ErrProtocol))
	}

	var parse func([]byte) (lidar.Sample, error)
	switch desc.answerType {
	case ansTypeScan:
		if desc.length != legacyNodeLength {
			return lidar.NewOpError("start scan",
				fmt.Errorf("%w: node length %d, want %d", lidar.ErrProtocol, desc.length, legacyNodeLength))
		}
		parse = parseLegacyNode
	case ansTypeScanDense:
		if desc.length != denseNodeLength {
			return lidar.NewOpError("start scan",
				fmt.Errorf("%w: node length %d, want %d", lidar.ErrProtocol, desc.length, denseNodeLength))
		}
		parse = parseDenseNode
	default:
		return lidar.NewOpError("start scan",
			fmt.Errorf("%w: unexpected scan answer type %02x", lidar.ErrProtocol, desc.answerType))
	}

	d.pump = newScanPump(d.channel, desc.length, parse, d.config.CacheCapacity, d.logger)
	go d.pump.run()

	d.logger.Info("Scan started",
		zap.Uint8("answer_type", desc.answerType),
		zap.Int("node_length", desc.length),
	)
	return nil
}

// GrabFrame copies up to len(buf) cached samples into buf, blocking until at
// least one sample is available, the grab timeout expires, or the stream
// ends. The wait polls at a short interval so cancellation takes effect
// promptly.
func (d *Driver) GrabFrame(ctx context.Context, buf []lidar.Sample) (int, error) {
	d.mutex.Lock()
	pump := d.pump
	d.mutex.Unlock()

	if pump == nil {
		return 0, lidar.NewOpError("grab frame", fmt.Errorf("%w: no scan running", lidar.ErrState))
	}

	deadline := time.NewTimer(d.config.GrabTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(d.config.PollInterval)
	defer poll.Stop()

	for {
		n, err := pump.take(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, lidar.NewOpError("grab frame", err)
		}

		select {
		case <-ctx.Done():
			return 0, lidar.NewOpError("grab frame", ctx.Err())
		case <-deadline.C:
			return 0, lidar.NewOpError("grab frame", lidar.ErrTimeout)
		case <-poll.C:
		}
	}
}

// Stop ends the current scan. Idempotent: stopping an already stopped device
// is a no-op.
func (d *Driver) Stop(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	d.stopPumpLocked()
	if err := d.writeRequest(ctx, buildCommand(cmdStop)); err != nil {
		return lidar.NewOpError("stop", err)
	}

	// The device keeps emitting briefly after the stop command lands.
	time.Sleep(2 * time.Millisecond)
	if err := d.channel.Flush(); err != nil {
		return lidar.NewOpError("stop", fmt.Errorf("%w: %v", lidar.ErrChannel, err))
	}

	d.logger.Info("Scan stopped")
	return nil
}

// Reset puts the device back into its power-on state.
func (d *Driver) Reset(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return lidar.NewOpError("reset", fmt.Errorf("%w: not connected", lidar.ErrChannel))
	}

	d.stopPumpLocked()
	if err := d.writeRequest(ctx, buildCommand(cmdReset)); err != nil {
		return lidar.NewOpError("reset", err)
	}
	time.Sleep(2 * time.Millisecond)
	d.motorInfo = nil
	return d.channel.Flush()
}

// stopPumpLocked tears down the node pump if one is running.
func (d *Driver) stopPumpLocked() {
	if d.pump != nil {
		d.pump.stop()
		d.pump = nil
	}
}

// writeRequest sends raw request bytes, classifying failures as channel
// errors.
func (d *Driver) writeRequest(ctx context.Context, req []byte) error {
	if err := d.channel.Write(ctx, req); err != nil {
		return fmt.Errorf("%w: %v", lidar.ErrChannel, err)
	}
	return nil
}

// queryHealth performs the health exchange without the public wrapper.
func (d *Driver) queryHealth(ctx context.Context, timeout time.Duration) (*lidar.HealthStatus, error) {
	body, err := d.singleQuery(ctx, "health", buildCommand(cmdGetHealth),
		healthResponseLength, ansTypeDevHealth, timeout)
	if err != nil {
		return nil, err
	}
	return parseHealth(body)
}

// singleQuery performs one request/single-response exchange: write, read the
// descriptor, validate it, read the body.
func (d *Driver) singleQuery(ctx context.Context, op string, req []byte,
	wantLen int, wantAns byte, timeout time.Duration) ([]byte, error) {

	if d.pump != nil {
		return nil, fmt.Errorf("%w: device is scanning", lidar.ErrState)
	}
	if err := d.writeRequest(ctx, req); err != nil {
		return nil, err
	}

	desc, err := d.readDescriptor(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if err := desc.expect(op, wantLen, false, wantAns); err != nil {
		return nil, err
	}

	return d.readFull(ctx, desc.length, timeout)
}

// readDescriptor reads and decodes the 7-byte response descriptor.
func (d *Driver) readDescriptor(ctx context.Context, timeout time.Duration) (*descriptor, error) {
	raw, err := d.readFull(ctx, descriptorLength, timeout)
	if err != nil {
		return nil, err
	}
	return parseDescriptor(raw)
}

// readFull accumulates exactly n bytes from the channel within timeout.
func (d *Driver) readFull(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, n)
	deadline := time.Now().Add(timeout)

	for len(buf) < n {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", lidar.ErrTimeout, len(buf), n)
		}

		chunk, err := d.channel.Read(ctx, n-len(buf))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", lidar.ErrChannel, err)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// conf query helpers

func (d *Driver) confBody(ctx context.Context, confType uint32, modeID *uint16) ([]byte, error) {
	if d.pump != nil {
		return nil, fmt.Errorf("%w: device is scanning", lidar.ErrState)
	}
	if err := d.writeRequest(ctx, buildConfRequest(confType, modeID)); err != nil {
		return nil, err
	}

	desc, err := d.readDescriptor(ctx, d.config.CommandTimeout)
	if err != nil {
		return nil, err
	}
	if err := desc.expect("lidar conf", 0, false, ansTypeLidarConf); err != nil {
		return nil, err
	}

	body, err := d.readFull(ctx, desc.length, d.config.CommandTimeout)
	if err != nil {
		return nil, err
	}
	return parseConfBody(confType, body)
}

func (d *Driver) confUint8(ctx context.Context, confType uint32, modeID *uint16) (uint8, error) {
	data, err := d.confBody(ctx, confType, modeID)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: conf %02x data is %d bytes, want 1", lidar.ErrProtocol, confType, len(data))
	}
	return data[0], nil
}

func (d *Driver) confUint16(ctx context.Context, confType uint32, modeID *uint16) (uint16, error) {
	data, err := d.confBody(ctx, confType, modeID)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: conf %02x data is %d bytes, want 2", lidar.ErrProtocol, confType, len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (d *Driver) confUint32(ctx context.Context, confType uint32, modeID *uint16) (uint32, error) {
	data, err := d.confBody(ctx, confType, modeID)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: conf %02x data is %d bytes, want 4", lidar.ErrProtocol, confType, len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (d *Driver) confString(ctx context.Context, confType uint32, modeID *uint16) (string, error) {
	data, err := d.confBody(ctx, confType, modeID)
	if err != nil {
		return "", err
	}
	for i, b := range data {
		if b == 0 {
			data = data[:i]
			break
		}
	}
	return string(data), nil
}
