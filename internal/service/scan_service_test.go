package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lidar-service/internal/config"
	"lidar-service/internal/model"
	"lidar-service/internal/session"
	"lidar-service/pkg/lidar"
)

// stubDriver answers every capability query with fixed values.
type stubDriver struct{}

func (d *stubDriver) Connect(ctx context.Context) error { return nil }
func (d *stubDriver) Disconnect() error                 { return nil }
func (d *stubDriver) IsConnected() bool                 { return true }

func (d *stubDriver) DeviceInfo(ctx context.Context) (*lidar.DeviceInfo, error) {
	info := &lidar.DeviceInfo{Model: 0x18, FirmwareMajor: 1, FirmwareMinor: 29, HardwareVersion: 7}
	copy(info.SerialNumber[:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	return info, nil
}

func (d *stubDriver) Health(ctx context.Context) (*lidar.HealthStatus, error) {
	return &lidar.HealthStatus{State: lidar.HealthGood}, nil
}

func (d *stubDriver) MotorInfo(ctx context.Context) (*lidar.MotorInfo, error) {
	return &lidar.MotorInfo{Support: lidar.MotorCtrlRPM, MinSpeed: 200, MaxSpeed: 1010, DesiredSpeed: 600}, nil
}

func (d *stubDriver) ScanModes(ctx context.Context) ([]lidar.ScanMode, error) {
	return []lidar.ScanMode{
		{ID: 0, Name: "Standard"},
		{ID: 1, Name: "DenseBoost"},
	}, nil
}

func (d *stubDriver) TypicalScanMode(ctx context.Context) (uint16, error) { return 1, nil }

func (d *stubDriver) SetMotorSpeed(ctx context.Context, rpm uint16) error { return nil }

func (d *stubDriver) StartScan(ctx context.Context, mode *lidar.ScanMode) error { return nil }

func (d *stubDriver) GrabFrame(ctx context.Context, buf []lidar.Sample) (int, error) {
	return 0, lidar.ErrTimeout
}

func (d *stubDriver) Stop(ctx context.Context) error  { return nil }
func (d *stubDriver) Reset(ctx context.Context) error { return nil }

func newTestService() *ScanService {
	cfg := &config.Config{}
	cfg.Lidar.Port = "/dev/ttyUSB0"
	return NewScanService(nil, cfg, zap.NewNop())
}

func TestBringUp(t *testing.T) {
	t.Parallel()

	t.Run("records identity and the explicitly selected mode", func(t *testing.T) {
		t.Parallel()
		ss := newTestService()
		ctrl := session.New(&stubDriver{}, 64, zap.NewNop())
		record := &model.ScanSession{}

		modeID := uint16(0)
		err := ss.bringUp(context.Background(), ctrl, record, &StartSessionRequest{ModeID: &modeID})
		require.NoError(t, err)

		assert.Equal(t, "1.29", record.FirmwareVersion)
		assert.Equal(t, 7, record.HardwareVersion)
		assert.NotEmpty(t, record.SerialNumber)

		require.NotNil(t, record.ModeID)
		assert.Equal(t, 0, *record.ModeID)
		assert.Equal(t, "Standard", record.ModeName)
	})

	t.Run("defaults to the typical mode and records it", func(t *testing.T) {
		t.Parallel()
		ss := newTestService()
		ctrl := session.New(&stubDriver{}, 64, zap.NewNop())
		record := &model.ScanSession{}

		err := ss.bringUp(context.Background(), ctrl, record, &StartSessionRequest{})
		require.NoError(t, err)

		require.NotNil(t, record.ModeID)
		assert.Equal(t, 1, *record.ModeID)
		assert.Equal(t, "DenseBoost", record.ModeName)
	})
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	ctrl := session.New(&stubDriver{}, 64, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))
	require.NoError(t, ctrl.Identify(ctx))
	require.NoError(t, ctrl.CheckHealth(ctx))
	require.NoError(t, ctrl.FetchCapabilities(ctx))

	snap := snapshot(ctrl)
	require.NotNil(t, snap.Info)
	require.NotNil(t, snap.Health)
	require.NotNil(t, snap.Motor)
	assert.Len(t, snap.ScanModes, 2)

	require.NotNil(t, snap.TypicalMode)
	assert.Equal(t, uint16(1), *snap.TypicalMode)
}
