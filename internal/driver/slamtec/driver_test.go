package slamtec

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lidar-service/pkg/lidar"
)

// fakeChannel is a scripted byte channel: queued replies are served to reads
// in order, writes are recorded. An empty queue behaves like a serial port
// read timeout and yields no bytes.
type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	openErr error
	reads   []byte
	writes  [][]byte
	dtr     []bool
}

func (c *fakeChannel) Open(ctx context.Context) error {
	if c.openErr != nil {
		return c.openErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	c.mu.Lock()
	if len(c.reads) == 0 {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return nil, nil
	}

	n := maxBytes
	if n > len(c.reads) {
		n = len(c.reads)
	}
	chunk := append([]byte(nil), c.reads[:n]...)
	c.reads = c.reads[n:]
	c.mu.Unlock()
	return chunk, nil
}

func (c *fakeChannel) Flush() error { return nil }

func (c *fakeChannel) SetDTR(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dtr = append(c.dtr, on)
	return nil
}

func (c *fakeChannel) queueBytes(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, data...)
}

// queueReply scripts one descriptor-plus-body exchange.
func (c *fakeChannel) queueReply(length int, multi bool, ans byte, body []byte) {
	desc := make([]byte, descriptorLength)
	desc[0] = syncByte
	desc[1] = syncByte2
	sizeMode := uint32(length)
	if multi {
		sizeMode |= 1 << 30
	}
	binary.LittleEndian.PutUint32(desc[2:6], sizeMode)
	desc[6] = ans

	c.queueBytes(desc)
	c.queueBytes(body)
}

// queueConf scripts one configuration reply, echo included.
func (c *fakeChannel) queueConf(confType uint32, data []byte) {
	body := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(body, confType)
	copy(body[4:], data)
	c.queueReply(len(body), false, ansTypeLidarConf, body)
}

func (c *fakeChannel) queueHealth(state uint8, code uint16) {
	body := []byte{state, byte(code), byte(code >> 8)}
	c.queueReply(healthResponseLength, false, ansTypeDevHealth, body)
}

func (c *fakeChannel) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func testConfig() *Config {
	return &Config{
		ConnectTimeout: 100 * time.Millisecond,
		CommandTimeout: 100 * time.Millisecond,
		GrabTimeout:    50 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
		CacheCapacity:  256,
	}
}

// connected returns a driver that has completed its liveness probe.
func connected(t *testing.T) (*Driver, *fakeChannel) {
	t.Helper()
	channel := &fakeChannel{}
	driver := New(channel, testConfig(), zap.NewNop())

	channel.queueHealth(0, 0)
	require.NoError(t, driver.Connect(context.Background()))
	return driver, channel
}

func TestDriverConnect(t *testing.T) {
	t.Parallel()

	t.Run("probes health on connect", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)

		assert.True(t, driver.IsConnected())
		assert.Equal(t, buildCommand(cmdGetHealth), channel.lastWrite())
	})

	t.Run("connect twice is a no-op", func(t *testing.T) {
		t.Parallel()
		driver, _ := connected(t)
		assert.NoError(t, driver.Connect(context.Background()))
	})

	t.Run("open failure is a channel error", func(t *testing.T) {
		t.Parallel()
		channel := &fakeChannel{openErr: errors.New("no such port")}
		driver := New(channel, testConfig(), zap.NewNop())

		err := driver.Connect(context.Background())
		assert.ErrorIs(t, err, lidar.ErrChannel)
		assert.False(t, driver.IsConnected())
	})

	t.Run("silent device fails the liveness probe", func(t *testing.T) {
		t.Parallel()
		channel := &fakeChannel{}
		driver := New(channel, testConfig(), zap.NewNop())

		err := driver.Connect(context.Background())
		assert.ErrorIs(t, err, lidar.ErrChannel)
		assert.False(t, channel.IsOpen())
	})

	t.Run("disconnect closes the channel", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)

		require.NoError(t, driver.Disconnect())
		assert.False(t, driver.IsConnected())
		assert.False(t, channel.IsOpen())
		assert.NoError(t, driver.Disconnect())
	})
}

func TestDriverDeviceInfo(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)

	body := make([]byte, infoResponseLength)
	body[0] = 0x18
	body[1] = 0x29
	body[2] = 0x01
	body[3] = 0x07
	channel.queueReply(infoResponseLength, false, ansTypeDevInfo, body)

	info, err := driver.DeviceInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, buildCommand(cmdGetInfo), channel.lastWrite())
	assert.Equal(t, uint8(0x18), info.Model)
	assert.Equal(t, "1.41", info.FirmwareString())
	assert.Equal(t, uint8(0x07), info.HardwareVersion)
}

func TestDriverHealth(t *testing.T) {
	t.Parallel()

	t.Run("reports a warning status", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueHealth(1, 0x0203)

		health, err := driver.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, lidar.HealthWarning, health.State)
		assert.Equal(t, uint16(0x0203), health.Code)
	})

	t.Run("wrong answer type is a protocol error", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueReply(healthResponseLength, false, ansTypeDevInfo, []byte{0, 0, 0})

		_, err := driver.Health(context.Background())
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})

	t.Run("silent device times out", func(t *testing.T) {
		t.Parallel()
		driver, _ := connected(t)

		_, err := driver.Health(context.Background())
		assert.ErrorIs(t, err, lidar.ErrTimeout)
	})
}

func TestDriverMotorInfo(t *testing.T) {
	t.Parallel()

	t.Run("no motor control skips the range queries", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueConf(confMotorCtrlSupport, []byte{0})

		info, err := driver.MotorInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, lidar.MotorCtrlNone, info.Support)
		assert.Zero(t, info.MinSpeed)
		assert.Zero(t, info.MaxSpeed)
	})

	t.Run("rpm control fetches the speed range", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueConf(confMotorCtrlSupport, []byte{2})
		channel.queueConf(confMotorMinSpeed, u16(200))
		channel.queueConf(confMotorMaxSpeed, u16(1010))
		channel.queueConf(confMotorDesiredSpeed, u16(600))

		info, err := driver.MotorInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, lidar.MotorCtrlRPM, info.Support)
		assert.Equal(t, uint16(200), info.MinSpeed)
		assert.Equal(t, uint16(1010), info.MaxSpeed)
		assert.Equal(t, uint16(600), info.DesiredSpeed)

		// Second call is served from the cache with no extra exchange.
		again, err := driver.MotorInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, info, again)
	})
}

func TestDriverScanModes(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)
	channel.queueConf(confScanModeCount, u16(2))

	// Mode 0: 500 us/sample, 12 m, legacy nodes.
	channel.queueConf(confScanModeUsPerSample, u32(500*256))
	channel.queueConf(confScanModeMaxDistance, u32(12*256))
	channel.queueConf(confScanModeAnsType, []byte{ansTypeScan})
	channel.queueConf(confScanModeName, []byte("Standard\x00"))

	// Mode 1: 125 us/sample, 16 m, dense nodes.
	channel.queueConf(confScanModeUsPerSample, u32(125*256))
	channel.queueConf(confScanModeMaxDistance, u32(16*256))
	channel.queueConf(confScanModeAnsType, []byte{ansTypeScanDense})
	channel.queueConf(confScanModeName, []byte("DenseBoost\x00"))

	modes, err := driver.ScanModes(context.Background())
	require.NoError(t, err)
	require.Len(t, modes, 2)

	assert.Equal(t, uint16(0), modes[0].ID)
	assert.Equal(t, "Standard", modes[0].Name)
	assert.Equal(t, 500.0, modes[0].UsPerSample)
	assert.Equal(t, 12.0, modes[0].MaxDistanceM)
	assert.Equal(t, ansTypeScan, modes[0].AnswerType)

	assert.Equal(t, uint16(1), modes[1].ID)
	assert.Equal(t, "DenseBoost", modes[1].Name)
	assert.Equal(t, 125.0, modes[1].UsPerSample)
	assert.Equal(t, 16.0, modes[1].MaxDistanceM)
	assert.Equal(t, ansTypeScanDense, modes[1].AnswerType)
}

func TestDriverTypicalScanMode(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)
	channel.queueConf(confScanModeTypical, u16(1))

	id, err := driver.TypicalScanMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}

func TestDriverSetMotorSpeed(t *testing.T) {
	t.Parallel()

	t.Run("inert without motor control", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueConf(confMotorCtrlSupport, []byte{0})

		require.NoError(t, driver.SetMotorSpeed(context.Background(), 600))
		// The conf request stays the last write: no motor command was sent.
		assert.Equal(t, byte(cmdGetLidarConf), channel.lastWrite()[1])
	})

	t.Run("rpm control sends the speed payload", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueConf(confMotorCtrlSupport, []byte{2})
		channel.queueConf(confMotorMinSpeed, u16(200))
		channel.queueConf(confMotorMaxSpeed, u16(1010))
		channel.queueConf(confMotorDesiredSpeed, u16(600))

		require.NoError(t, driver.SetMotorSpeed(context.Background(), 660))
		assert.Equal(t, buildPayloadCommand(cmdSetMotorRPM, u16(660)), channel.lastWrite())
	})

	t.Run("pwm control clamps the duty cycle and drives dtr", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueConf(confMotorCtrlSupport, []byte{1})
		channel.queueConf(confMotorMinSpeed, u16(0))
		channel.queueConf(confMotorMaxSpeed, u16(1023))
		channel.queueConf(confMotorDesiredSpeed, u16(660))

		require.NoError(t, driver.SetMotorSpeed(context.Background(), 5000))
		assert.Equal(t, buildPayloadCommand(cmdSetMotorPWM, u16(maxMotorPWM)), channel.lastWrite())
		require.Len(t, channel.dtr, 1)
		assert.False(t, channel.dtr[0])

		require.NoError(t, driver.SetMotorSpeed(context.Background(), 0))
		require.Len(t, channel.dtr, 2)
		assert.True(t, channel.dtr[1])
	})
}

func TestDriverScanLifecycle(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)

	channel.queueReply(legacyNodeLength, true, ansTypeScan, nil)
	channel.queueBytes(legacyNode(true, 40, 0, 1200))
	channel.queueBytes(legacyNode(false, 41, 90*64, 2400))
	channel.queueBytes(legacyNode(false, 42, 180*64, 3600))

	require.NoError(t, driver.StartScan(context.Background(), nil))
	assert.Equal(t, buildCommand(cmdScan), channel.writes[1])

	buf := make([]lidar.Sample, 16)
	total := 0
	for total < 3 {
		n, err := driver.GrabFrame(context.Background(), buf[total:])
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 3, total)
	assert.True(t, buf[0].Sync)
	assert.Equal(t, uint8(40), buf[0].Quality)
	assert.Equal(t, uint16(16384), buf[1].AngleQ14)
	assert.Equal(t, 0.9, buf[2].Distance())

	// Single-response queries are rejected while the scan runs.
	_, err := driver.DeviceInfo(context.Background())
	assert.ErrorIs(t, err, lidar.ErrState)

	require.NoError(t, driver.Stop(context.Background()))
	assert.Equal(t, buildCommand(cmdStop), channel.lastWrite())

	_, err = driver.GrabFrame(context.Background(), buf)
	assert.ErrorIs(t, err, lidar.ErrState)
}

func TestDriverStartScanExpressMode(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)

	channel.queueReply(denseNodeLength, true, ansTypeScanDense, nil)
	channel.queueBytes([]byte{0x01, 50, 0x00, 0x20, 0xA0, 0x0F, 0x00, 0x00})

	mode := &lidar.ScanMode{ID: 1, Name: "DenseBoost", AnswerType: ansTypeScanDense}
	require.NoError(t, driver.StartScan(context.Background(), mode))
	assert.Equal(t, buildPayloadCommand(cmdExpressScan, []byte{1, 0, 0, 0, 0}), channel.writes[1])

	buf := make([]lidar.Sample, 4)
	n, err := driver.GrabFrame(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint16(0x2000), buf[0].AngleQ14)
	assert.Equal(t, uint32(4000), buf[0].DistQ2)

	require.NoError(t, driver.Stop(context.Background()))
}

func TestDriverStartScanErrors(t *testing.T) {
	t.Parallel()

	t.Run("rejects a single-response descriptor", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueReply(legacyNodeLength, false, ansTypeScan, nil)

		err := driver.StartScan(context.Background(), nil)
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})

	t.Run("rejects an unexpected answer type", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueReply(legacyNodeLength, true, ansTypeDevInfo, nil)

		err := driver.StartScan(context.Background(), nil)
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})

	t.Run("rejects a mismatched node length", func(t *testing.T) {
		t.Parallel()
		driver, channel := connected(t)
		channel.queueReply(denseNodeLength, true, ansTypeScan, nil)

		err := driver.StartScan(context.Background(), nil)
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})

	t.Run("rejects starting when disconnected", func(t *testing.T) {
		t.Parallel()
		driver := New(&fakeChannel{}, testConfig(), zap.NewNop())
		err := driver.StartScan(context.Background(), nil)
		assert.ErrorIs(t, err, lidar.ErrChannel)
	})
}

func TestDriverGrabFrameTimeout(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)
	channel.queueReply(legacyNodeLength, true, ansTypeScan, nil)
	require.NoError(t, driver.StartScan(context.Background(), nil))
	defer driver.Stop(context.Background())

	buf := make([]lidar.Sample, 8)
	_, err := driver.GrabFrame(context.Background(), buf)
	assert.ErrorIs(t, err, lidar.ErrTimeout)
}

func TestDriverGrabFrameCorruptedStream(t *testing.T) {
	t.Parallel()

	driver, channel := connected(t)
	channel.queueReply(legacyNodeLength, true, ansTypeScan, nil)

	// Both sync bits set: the node fails its framing check.
	bad := legacyNode(true, 1, 100, 100)
	bad[0] |= 0x02
	channel.queueBytes(bad)

	require.NoError(t, driver.StartScan(context.Background(), nil))

	buf := make([]lidar.Sample, 8)
	_, err := driver.GrabFrame(context.Background(), buf)
	assert.ErrorIs(t, err, lidar.ErrCorrupted)
}
