// cmd/capture/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
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
		modeID   = flag.Int("mode", -1, "scan mode id, -1 selects the device's typical mode")
		frames   = flag.Int("frames", 0, "number of frames to capture, 0 runs until interrupted")
		motor    = flag.Int("motor", 0, "desired motor speed, 0 keeps the device default")
		out      = flag.String("out", "capture.scan", "output file path")
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

	if err := run(*port, *baudRate, *modeID, *frames, *motor, *out, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(port string, baudRate, modeID, frames, motor int, out string, logger *zap.Logger) error {
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

	if motor > 0 {
		if err := ctrl.ConfigureMotor(ctx, uint16(motor)); err != nil {
			return fmt.Errorf("motor: %w", err)
		}
	}

	if modeID >= 0 {
		if err := ctrl.SelectScanMode(uint16(modeID)); err != nil {
			return fmt.Errorf("scan mode: %w", err)
		}
	} else {
		if err := ctrl.SelectTypicalScanMode(); err != nil {
			return fmt.Errorf("scan mode: %w", err)
		}
	}

	output, err := sink.NewBinaryFileSink(out)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	defer output.Close()

	mode := ctrl.SelectedMode()
	fmt.Fprintf(os.Stderr, "capturing in mode %d (%s) to %s\n", mode.ID, mode.Name, out)

	if err := ctrl.StartScan(ctx); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	runner := session.NewRunner(ctrl, output, logger)
	runner.OnFrame(func(seq int64, frame lidar.Frame) {
		fmt.Fprintf(os.Stderr, "frame %d: %d samples\n", seq, len(frame))
		if frames > 0 && seq+1 >= int64(frames) {
			stop()
		}
	})

	if err := runner.Run(runCtx); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	return nil
}
