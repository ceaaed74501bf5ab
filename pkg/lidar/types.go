// pkg/lidar/types.go
package lidar

import (
	"encoding/hex"
	"fmt"
)

// DefaultFrameCapacity is the number of samples a reusable frame buffer holds.
// A full revolution arrives in a burst, so the cap is sized to absorb several
// revolutions of jitter without growing.
const DefaultFrameCapacity = 8192

// DeviceInfo contains the device identity, fetched once per session.
type DeviceInfo struct {
	Model           uint8    `json:"model"`
	FirmwareMajor   uint8    `json:"firmware_major"`
	FirmwareMinor   uint8    `json:"firmware_minor"`
	HardwareVersion uint8    `json:"hardware_version"`
	SerialNumber    [16]byte `json:"-"`
}

// SerialNumberString returns the serial number as lowercase hex.
func (di *DeviceInfo) SerialNumberString() string {
	return hex.EncodeToString(di.SerialNumber[:])
}

// FirmwareString returns the firmware version as "major.minor".
func (di *DeviceInfo) FirmwareString() string {
	return fmt.Sprintf("%d.%02d", di.FirmwareMajor, di.FirmwareMinor)
}

// HealthState classifies the device-reported health status.
type HealthState uint8

const (
	HealthGood    HealthState = 0
	HealthWarning HealthState = 1
	HealthError   HealthState = 2
)

// String returns the human-readable health state.
func (s HealthState) String() string {
	switch s {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// HealthStatus is the device health report. Error is a hard stop condition;
// Good and Warning both permit scanning.
type HealthStatus struct {
	State HealthState `json:"state"`
	Code  uint16      `json:"code"`
}

// OK reports whether scanning may proceed.
func (h *HealthStatus) OK() bool {
	return h.State != HealthError
}

// MotorCtrl describes how, if at all, the spin motor can be controlled.
type MotorCtrl uint8

const (
	MotorCtrlNone MotorCtrl = 0
	MotorCtrlPWM  MotorCtrl = 1
	MotorCtrlRPM  MotorCtrl = 2
)

// String returns the human-readable motor control mode.
func (m MotorCtrl) String() string {
	switch m {
	case MotorCtrlNone:
		return "None"
	case MotorCtrlPWM:
		return "PWM"
	case MotorCtrlRPM:
		return "RPM"
	default:
		return fmt.Sprintf("Other(%d)", uint8(m))
	}
}

// MotorInfo describes motor-control capability and the allowed speed range.
// DesiredSpeed is the firmware's recommended operating speed and always lies
// within [MinSpeed, MaxSpeed].
type MotorInfo struct {
	Support      MotorCtrl `json:"support"`
	MinSpeed     uint16    `json:"min_speed"`
	MaxSpeed     uint16    `json:"max_speed"`
	DesiredSpeed uint16    `json:"desired_speed"`
}

// ScanMode is one entry of the device's scan-mode catalog. IDs are unique
// within one catalog but not necessarily contiguous.
type ScanMode struct {
	ID           uint16  `json:"id"`
	Name         string  `json:"name"`
	AnswerType   byte    `json:"answer_type"`
	UsPerSample  float64 `json:"us_per_sample"`
	MaxDistanceM float64 `json:"max_distance_m"`
}

// Sample is one ranging measurement in the device's native fixed-point
// representation: angle in q14 of a quarter turn, distance in quarter
// millimetres. Sync marks the first sample of a new revolution.
type Sample struct {
	AngleQ14 uint16
	DistQ2   uint32
	Quality  uint8
	Sync     bool
}

// Angle returns the sample angle in degrees within [0, 360).
func (s Sample) Angle() float64 {
	return float64(s.AngleQ14) * 90.0 / 16384.0
}

// Distance returns the measured distance in metres; 0 means no return.
func (s Sample) Distance() float64 {
	return float64(s.DistQ2) / 4.0 / 1000.0
}

// Valid reports whether the sample carries an actual return.
func (s Sample) Valid() bool {
	return s.DistQ2 != 0
}

// Frame is one bounded batch of samples retrieved by a single acquisition
// call. A frame may span into, but does not necessarily align with, one full
// revolution.
type Frame []Sample
