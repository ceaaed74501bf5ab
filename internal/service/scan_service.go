// internal/service/scan_service.go
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lidar-service/internal/config"
	"lidar-service/internal/driver/slamtec"
	"lidar-service/internal/model"
	"lidar-service/internal/protocol"
	"lidar-service/internal/repository"
	"lidar-service/internal/session"
	"lidar-service/internal/sink"
	"lidar-service/internal/utils"
	"lidar-service/pkg/lidar"
)

// EventPublisher receives session lifecycle and frame events for fan-out
// to connected clients.
type EventPublisher interface {
	PublishSessionEvent(sessionID string, event string, data map[string]interface{})
	PublishFrame(sessionID string, seq int64, frame lidar.Frame)
}

// StartSessionRequest carries the parameters for starting a scan session
type StartSessionRequest struct {
	ModeID     *uint16 `json:"mode_id,omitempty"`
	MotorSpeed *uint16 `json:"motor_speed,omitempty"`
	Format     string  `json:"format,omitempty"` // "binary" or "csv"
}

// DeviceSnapshot aggregates the negotiated device capabilities
type DeviceSnapshot struct {
	Info        *lidar.DeviceInfo   `json:"info"`
	Health      *lidar.HealthStatus `json:"health"`
	Motor       *lidar.MotorInfo    `json:"motor"`
	ScanModes   []lidar.ScanMode    `json:"scan_modes"`
	TypicalMode *uint16             `json:"typical_mode,omitempty"`
}

// liveSession holds the in-flight device session alongside its archive record
type liveSession struct {
	record     *model.ScanSession
	controller *session.Controller
	channel    *protocol.SerialChannel
	driver     *slamtec.Driver
	output     lidar.Sink
	cancel     context.CancelFunc
	done       chan struct{}
}

// ScanService handles scan session business logic
type ScanService struct {
	repo      repository.ScanRepository
	config    *config.Config
	logger    *utils.ServiceLogger
	publisher EventPublisher

	mutex   sync.Mutex
	current *liveSession
}

// NewScanService creates a new scan service instance
func NewScanService(repo repository.ScanRepository, cfg *config.Config, logger *zap.Logger) *ScanService {
	return &ScanService{
		repo:   repo,
		config: cfg,
		logger: utils.NewServiceLogger(logger, "scan-service"),
	}
}

// SetPublisher registers the event publisher. Must be called before sessions start.
func (ss *ScanService) SetPublisher(publisher EventPublisher) {
	ss.publisher = publisher
}

// newController builds the channel, driver, and controller for the configured port
func (ss *ScanService) newController() (*session.Controller, *protocol.SerialChannel, *slamtec.Driver) {
	lc := &ss.config.Lidar

	channel := protocol.NewSerialChannel(&protocol.SerialConfig{
		Port:     lc.Port,
		BaudRate: lc.BaudRate,
		DataBits: lc.DataBits,
		StopBits: lc.StopBits,
		Parity:   lc.Parity,
	}, ss.logger.Logger)

	driverConfig := slamtec.DefaultConfig()
	driverConfig.ConnectTimeout = lc.ConnectTimeout
	driverConfig.CommandTimeout = lc.CommandTimeout
	driverConfig.GrabTimeout = lc.GrabTimeout
	driverConfig.PollInterval = lc.PollInterval

	drv := slamtec.New(channel, driverConfig, ss.logger.Logger)
	ctrl := session.New(drv, lc.FrameCapacity, ss.logger.Logger)
	return ctrl, channel, drv
}

// Probe connects to the device, negotiates capabilities, and disconnects.
// Fails while a scan session is active because the device channel is exclusive.
func (ss *ScanService) Probe(ctx context.Context) (*DeviceSnapshot, error) {
	ss.mutex.Lock()
	if ss.current != nil {
		// Serve the snapshot from the live session instead of touching the port
		snap := snapshot(ss.current.controller)
		ss.mutex.Unlock()
		return snap, nil
	}
	ss.mutex.Unlock()

	ctrl, channel, drv := ss.newController()
	defer func() {
		drv.Disconnect()
		channel.Close()
	}()

	if err := ctrl.Connect(ctx); err != nil {
		return nil, fmt.Errorf("probe connect failed: %w", err)
	}
	if err := ctrl.Identify(ctx); err != nil {
		return nil, fmt.Errorf("probe identify failed: %w", err)
	}
	if err := ctrl.CheckHealth(ctx); err != nil {
		// Health snapshot is still available even when the device reports Error
		return &DeviceSnapshot{
			Info:   ctrl.Identity(),
			Health: ctrl.Health(),
		}, err
	}
	if err := ctrl.FetchCapabilities(ctx); err != nil {
		return nil, fmt.Errorf("probe capabilities failed: %w", err)
	}

	return snapshot(ctrl), nil
}

// snapshot assembles the capability view from a controller that has finished
// its bring-up queries.
func snapshot(ctrl *session.Controller) *DeviceSnapshot {
	snap := &DeviceSnapshot{
		Info:      ctrl.Identity(),
		Health:    ctrl.Health(),
		Motor:     ctrl.Motor(),
		ScanModes: ctrl.ScanModes(),
	}
	if typical := ctrl.TypicalMode(); typical != nil {
		id := typical.ID
		snap.TypicalMode = &id
	}
	return snap
}

// StartSession walks the device through its lifecycle and starts acquisition.
// Only one session can be live at a time.
func (ss *ScanService) StartSession(ctx context.Context, req *StartSessionRequest) (*model.ScanSession, error) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.current != nil {
		return nil, fmt.Errorf("a scan session is already active: %s", ss.current.record.ID)
	}

	ctrl, channel, drv := ss.newController()

	record := &model.ScanSession{
		ID:        uuid.New(),
		Port:      ss.config.Lidar.Port,
		State:     model.SessionStateConnecting,
		StartedAt: time.Now(),
	}

	cleanup := func() {
		drv.Disconnect()
		channel.Close()
	}

	if err := ss.bringUp(ctx, ctrl, record, req); err != nil {
		cleanup()
		return nil, err
	}

	if err := ss.repo.CreateSession(ctx, record); err != nil {
		ctrl.Stop(context.WithoutCancel(ctx))
		cleanup()
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	output, err := ss.openOutput(record, req)
	if err != nil {
		ctrl.Stop(context.WithoutCancel(ctx))
		cleanup()
		ss.repo.MarkSessionStopped(context.WithoutCancel(ctx), record.ID, model.SessionStateFailed, err.Error(), time.Now())
		return nil, err
	}

	if err := ctrl.StartScan(ctx); err != nil {
		output.Close()
		ctrl.Stop(context.WithoutCancel(ctx))
		cleanup()
		ss.repo.MarkSessionStopped(context.WithoutCancel(ctx), record.ID, model.SessionStateFailed, err.Error(), time.Now())
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}

	record.State = model.SessionStateScanning
	if err := ss.repo.UpdateSessionState(ctx, record.ID, record.State, ""); err != nil {
		ss.logger.Error("Failed to update session state", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	live := &liveSession{
		record:     record,
		controller: ctrl,
		channel:    channel,
		driver:     drv,
		output:     output,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	ss.current = live

	go ss.runSession(runCtx, live)

	ss.publishSessionEvent(record.ID.String(), "started", map[string]interface{}{
		"port":      record.Port,
		"mode_id":   record.ModeID,
		"mode_name": record.ModeName,
	})

	ss.logger.Info("Scan session started",
		zap.String("session_id", record.ID.String()),
		zap.String("mode", record.ModeName),
	)

	return record, nil
}

// bringUp drives the controller from disconnected to ready-to-scan and fills
// in the session record with the negotiated identity and mode.
func (ss *ScanService) bringUp(ctx context.Context, ctrl *session.Controller, record *model.ScanSession, req *StartSessionRequest) error {
	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	if err := ctrl.Identify(ctx); err != nil {
		return fmt.Errorf("identify failed: %w", err)
	}

	info := ctrl.Identity()
	record.SerialNumber = info.SerialNumberString()
	record.FirmwareVersion = info.FirmwareString()
	record.HardwareVersion = int(info.HardwareVersion)

	if err := ctrl.CheckHealth(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := ctrl.FetchCapabilities(ctx); err != nil {
		return fmt.Errorf("capability fetch failed: %w", err)
	}

	motorSpeed := uint16(ss.config.Lidar.MotorSpeed)
	if req.MotorSpeed != nil {
		motorSpeed = *req.MotorSpeed
	}
	if motorSpeed > 0 {
		if err := ctrl.ConfigureMotor(ctx, motorSpeed); err != nil {
			return fmt.Errorf("motor configuration failed: %w", err)
		}
	}

	if req.ModeID != nil {
		if err := ctrl.SelectScanMode(*req.ModeID); err != nil {
			return fmt.Errorf("scan mode selection failed: %w", err)
		}
	} else {
		if err := ctrl.SelectTypicalScanMode(); err != nil {
			return fmt.Errorf("typical scan mode selection failed: %w", err)
		}
	}

	if mode := ctrl.SelectedMode(); mode != nil {
		modeID := int(mode.ID)
		record.ModeID = &modeID
		record.ModeName = mode.Name
	}

	return nil
}

// openOutput creates the per-session sink under the configured output directory
func (ss *ScanService) openOutput(record *model.ScanSession, req *StartSessionRequest) (lidar.Sink, error) {
	dir := ss.config.Lidar.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	switch req.Format {
	case "", "binary":
		path := filepath.Join(dir, record.ID.String()+".scan")
		return sink.NewBinaryFileSink(path)
	case "csv":
		path := filepath.Join(dir, record.ID.String()+".csv")
		return sink.NewCSVFileSink(path)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", req.Format)
	}
}

// runSession owns the acquisition loop goroutine for a live session
func (ss *ScanService) runSession(ctx context.Context, live *liveSession) {
	defer close(live.done)

	record := live.record
	sessionID := record.ID.String()

	// Frame archiving runs off the acquisition path so a slow database
	// write cannot stall the device cache.
	archive := make(chan *model.FrameRecord, 64)
	archiveDone := make(chan struct{})
	go ss.archiveFrames(archive, archiveDone)

	runner := session.NewRunner(live.controller, live.output, ss.logger.Logger)
	runner.OnFrame(func(seq int64, frame lidar.Frame) {
		frameRecord := &model.FrameRecord{
			SessionID:   record.ID,
			Seq:         seq,
			SampleCount: len(frame),
			Payload:     sink.EncodeFrame(frame),
		}
		select {
		case archive <- frameRecord:
		default:
			ss.logger.Warn("Frame archive queue full, dropping frame",
				zap.String("session_id", sessionID),
				zap.Int64("seq", seq),
			)
		}

		ss.publishFrame(sessionID, seq, frame)
	})

	runErr := runner.Run(ctx)

	close(archive)
	<-archiveDone

	if err := live.output.Close(); err != nil {
		ss.logger.Error("Failed to close session output", zap.Error(err))
	}
	live.driver.Disconnect()
	live.channel.Close()

	finalState := model.SessionStateStopped
	failureReason := ""
	if runErr != nil {
		finalState = model.SessionStateFailed
		failureReason = runErr.Error()
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ss.repo.MarkSessionStopped(persistCtx, record.ID, finalState, failureReason, time.Now()); err != nil {
		ss.logger.Error("Failed to persist session final state", zap.Error(err))
	}

	ss.publishSessionEvent(sessionID, "stopped", map[string]interface{}{
		"state":          string(finalState),
		"failure_reason": failureReason,
	})

	ss.mutex.Lock()
	if ss.current == live {
		ss.current = nil
	}
	ss.mutex.Unlock()

	if runErr != nil {
		ss.logger.Error("Scan session failed",
			zap.String("session_id", sessionID),
			zap.Error(runErr),
		)
	} else {
		ss.logger.Info("Scan session finished", zap.String("session_id", sessionID))
	}
}

// archiveFrames drains the archive queue into the repository
func (ss *ScanService) archiveFrames(frames <-chan *model.FrameRecord, done chan<- struct{}) {
	defer close(done)

	for frame := range frames {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ss.repo.AppendFrame(ctx, frame); err != nil {
			ss.logger.Error("Failed to archive frame",
				zap.String("session_id", frame.SessionID.String()),
				zap.Int64("seq", frame.Seq),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// StopSession stops the live session identified by id
func (ss *ScanService) StopSession(ctx context.Context, id uuid.UUID) (*model.ScanSession, error) {
	ss.mutex.Lock()
	live := ss.current
	ss.mutex.Unlock()

	if live == nil || live.record.ID != id {
		return nil, fmt.Errorf("no active session with id: %s", id)
	}

	live.cancel()

	select {
	case <-live.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for session to stop: %w", ctx.Err())
	}

	return ss.repo.GetSession(ctx, id)
}

// CurrentSession returns the live session record, or nil when idle
func (ss *ScanService) CurrentSession() *model.ScanSession {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.current == nil {
		return nil
	}
	return ss.current.record
}

// GetSession retrieves a session from the archive
func (ss *ScanService) GetSession(ctx context.Context, id uuid.UUID) (*model.ScanSession, error) {
	return ss.repo.GetSession(ctx, id)
}

// ListSessions retrieves archived sessions with filtering
func (ss *ScanService) ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.ScanSession, int, error) {
	return ss.repo.ListSessions(ctx, filter)
}

// GetSessionFrames retrieves archived frames for a session
func (ss *ScanService) GetSessionFrames(ctx context.Context, id uuid.UUID, afterSeq int64, limit int) ([]*model.FrameRecord, error) {
	return ss.repo.ListFrames(ctx, id, afterSeq, limit)
}

// GetSessionStats retrieves frame and sample totals for a session
func (ss *ScanService) GetSessionStats(ctx context.Context, id uuid.UUID) (*model.SessionStats, error) {
	return ss.repo.GetSessionStats(ctx, id)
}

// Shutdown stops any live session and waits for it to finish
func (ss *ScanService) Shutdown(ctx context.Context) error {
	ss.mutex.Lock()
	live := ss.current
	ss.mutex.Unlock()

	if live == nil {
		return nil
	}

	live.cancel()
	select {
	case <-live.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for session shutdown: %w", ctx.Err())
	}
}

func (ss *ScanService) publishSessionEvent(sessionID, event string, data map[string]interface{}) {
	if ss.publisher != nil {
		ss.publisher.PublishSessionEvent(sessionID, event, data)
	}
}

func (ss *ScanService) publishFrame(sessionID string, seq int64, frame lidar.Frame) {
	if ss.publisher != nil {
		ss.publisher.PublishFrame(sessionID, seq, frame)
	}
}
