// cmd/modesweep/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"lidar-service/internal/config"
	"lidar-service/internal/driver/slamtec"
	"lidar-service/internal/protocol"
	"lidar-service/internal/session"
	"lidar-service/internal/sink"
	"lidar-service/internal/utils"
	"lidar-service/pkg/lidar"
)

func main() {
	var (
		port     = flag.String("port", "/dev/ttyUSB0", "serial port of the device")
		baudRate = flag.Int("baud", 115200, "serial baud rate")
		frames   = flag.Int("frames", 5, "frames to capture per scan mode")
		outDir   = flag.String("out", ".", "output directory for per-mode CSV files")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(&config.LoggingConfig{
		Level:  level,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.CloseLogger(logger)

	if err := run(*port, *baudRate, *frames, *outDir, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(port string, baudRate, frames int, outDir string, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel := protocol.NewSerialChannel(&protocol.SerialConfig{
		Port:     port,
		BaudRate: baudRate,
	}, logger)

	drv := slamtec.New(channel, slamtec.DefaultConfig(), logger)
	defer func() {
		drv.Disconnect()
		channel.Close()
	}()

	ctrl := session.New(drv, lidar.DefaultFrameCapacity, logger)

	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := ctrl.Identify(ctx); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if err := ctrl.CheckHealth(ctx); err != nil {
		return fmt.Errorf("device reports an unrecoverable error, reboot the device to retry: %w", err)
	}
	if err := ctrl.FetchCapabilities(ctx); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}

	for _, mode := range ctrl.ScanModes() {
		if ctx.Err() != nil {
			break
		}
		if err := sweepMode(ctx, ctrl, mode, frames, outDir); err != nil {
			return fmt.Errorf("mode %d (%s): %w", mode.ID, mode.Name, err)
		}
	}

	return ctrl.Stop(ctx)
}

// sweepMode captures a fixed number of frames in one scan mode and writes
// them to a per-mode CSV file.
func sweepMode(ctx context.Context, ctrl *session.Controller, mode lidar.ScanMode, frames int, outDir string) error {
	if err := ctrl.SelectScanMode(mode.ID); err != nil {
		return err
	}

	name := strings.ReplaceAll(strings.ToLower(mode.Name), " ", "_")
	path := filepath.Join(outDir, fmt.Sprintf("%d_%s_data.csv", mode.ID, name))

	output, err := sink.NewCSVFileSink(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "mode %d (%s): capturing %d frames to %s\n", mode.ID, mode.Name, frames, path)

	if err := ctrl.StartScan(ctx); err != nil {
		output.Close()
		return err
	}

	var captureErr error
	for i := 0; i < frames; i++ {
		frame, err := ctrl.AcquireFrame(ctx)
		if err != nil {
			captureErr = err
			break
		}
		if err := output.WriteFrame(lidar.OrderFrame(frame)); err != nil {
			captureErr = err
			break
		}
	}

	if closeErr := output.Close(); captureErr == nil {
		captureErr = closeErr
	}
	if captureErr != nil {
		ctrl.Stop(context.WithoutCancel(ctx))
		return captureErr
	}

	// Back to idle so the next mode can start on the same session
	return ctrl.EndScan(ctx)
}
