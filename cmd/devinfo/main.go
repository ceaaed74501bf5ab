// cmd/devinfo/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"lidar-service/internal/config"
	"lidar-service/internal/driver/slamtec"
	"lidar-service/internal/protocol"
	"lidar-service/internal/session"
	"lidar-service/internal/utils"
	"lidar-service/pkg/lidar"
)

func main() {
	var (
		port     = flag.String("port", "/dev/ttyUSB0", "serial port of the device")
		baudRate = flag.Int("baud", 115200, "serial baud rate")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := "warn"
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

	if err := run(*port, *baudRate, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(port string, baudRate int, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

	info := ctrl.Identity()
	fmt.Printf("Model:     %d\n", info.Model)
	fmt.Printf("Firmware:  %s\n", info.FirmwareString())
	fmt.Printf("Hardware:  %d\n", info.HardwareVersion)
	fmt.Printf("Serial:    %s\n", info.SerialNumberString())

	healthErr := ctrl.CheckHealth(ctx)
	health := ctrl.Health()
	if health != nil {
		fmt.Printf("Health:    %s (code %d)\n", health.State, health.Code)
	}
	if healthErr != nil {
		return fmt.Errorf("device reports an unrecoverable error, reboot the device to retry: %w", healthErr)
	}

	if err := ctrl.FetchCapabilities(ctx); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}

	motor := ctrl.Motor()
	fmt.Printf("Motor:     %s", motor.Support)
	if motor.Support != lidar.MotorCtrlNone {
		fmt.Printf(" (speed %d of [%d, %d])", motor.DesiredSpeed, motor.MinSpeed, motor.MaxSpeed)
	}
	fmt.Println()

	fmt.Println("\nScan modes:")
	for _, mode := range ctrl.ScanModes() {
		fmt.Printf("  %2d  %-16s  %6.0f us/sample  max %5.1f m\n",
			mode.ID, mode.Name, mode.UsPerSample, mode.MaxDistanceM)
	}

	return ctrl.Stop(ctx)
}
