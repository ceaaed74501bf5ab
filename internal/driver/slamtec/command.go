// internal/driver/slamtec/command.go
package slamtec

import (
	"encoding/binary"
	"fmt"

	"lidar-service/pkg/lidar"
)

// Request framing: every command starts with the sync byte; payload-bearing
// commands append a length, the payload, and an XOR checksum over the whole
// preceding frame.
const (
	syncByte  byte = 0xA5
	syncByte2 byte = 0x5A

	cmdScan         byte = 0x20
	cmdStop         byte = 0x25
	cmdReset        byte = 0x40
	cmdGetInfo      byte = 0x50
	cmdGetHealth    byte = 0x52
	cmdExpressScan  byte = 0x82
	cmdGetLidarConf byte = 0x84
	cmdSetMotorRPM  byte = 0xA8
	cmdSetMotorPWM  byte = 0xF0
)

// Response descriptor and answer types.
const (
	descriptorLength = 7

	ansTypeDevInfo   byte = 0x04
	ansTypeDevHealth byte = 0x06
	ansTypeLidarConf byte = 0x20
	ansTypeScan      byte = 0x81
	ansTypeScanDense byte = 0x84

	infoResponseLength   = 20
	healthResponseLength = 3
	legacyNodeLength     = 5
	denseNodeLength      = 8
)

// Configuration entry types served by cmdGetLidarConf.
const (
	confScanModeCount       uint32 = 0x70
	confScanModeUsPerSample uint32 = 0x71
	confScanModeMaxDistance uint32 = 0x74
	confScanModeAnsType     uint32 = 0x75
	confMotorDesiredSpeed   uint32 = 0x79
	confMotorCtrlSupport    uint32 = 0x7B
	confScanModeTypical     uint32 = 0x7C
	confMotorMinSpeed       uint32 = 0x7D
	confMotorMaxSpeed       uint32 = 0x7E
	confScanModeName        uint32 = 0x7F
)

// maxMotorPWM is the duty-cycle ceiling for PWM-controlled units.
const maxMotorPWM uint16 = 1023

// buildCommand returns the wire form of a bare one-op command.
func buildCommand(op byte) []byte {
	return []byte{syncByte, op}
}

// buildPayloadCommand returns the wire form of a payload-bearing command,
// checksum included.
func buildPayloadCommand(op byte, payload []byte) []byte {
	req := make([]byte, 0, 4+len(payload))
	req = append(req, syncByte, op, byte(len(payload)))
	req = append(req, payload...)

	checksum := byte(0)
	for _, b := range req {
		checksum ^= b
	}
	return append(req, checksum)
}

// buildConfRequest returns the wire form of a configuration query: the
// 32-bit little-endian entry type, optionally followed by a 16-bit mode id.
func buildConfRequest(confType uint32, modeID *uint16) []byte {
	payload := make([]byte, 4, 6)
	binary.LittleEndian.PutUint32(payload, confType)
	if modeID != nil {
		payload = append(payload, 0, 0)
		binary.LittleEndian.PutUint16(payload[4:], *modeID)
	}
	return buildPayloadCommand(cmdGetLidarConf, payload)
}

// descriptor announces one response: its body length, whether more than one
// body follows, and the answer type selecting the body format.
type descriptor struct {
	length     int
	multi      bool
	answerType byte
}

// parseDescriptor decodes the 7-byte response descriptor.
func parseDescriptor(data []byte) (*descriptor, error) {
	if len(data) != descriptorLength {
		return nil, fmt.Errorf("%w: descriptor is %d bytes, want %d",
			lidar.ErrProtocol, len(data), descriptorLength)
	}
	if data[0] != syncByte || data[1] != syncByte2 {
		return nil, fmt.Errorf("%w: bad descriptor sync bytes %02x %02x",
			lidar.ErrProtocol, data[0], data[1])
	}

	sizeMode := binary.LittleEndian.Uint32(data[2:6])
	return &descriptor{
		length:     int(sizeMode & 0x3FFFFFFF),
		multi:      (sizeMode >> 30) == 1,
		answerType: data[6],
	}, nil
}

// expect validates a descriptor against the reply shape a query demands.
func (d *descriptor) expect(op string, length int, multi bool, answerType byte) error {
	if d.answerType != answerType {
		return fmt.Errorf("%w: %s answer type %02x, want %02x",
			lidar.ErrProtocol, op, d.answerType, answerType)
	}
	if length > 0 && d.length != length {
		return fmt.Errorf("%w: %s response length %d, want %d",
			lidar.ErrProtocol, op, d.length, length)
	}
	if d.multi != multi {
		return fmt.Errorf("%w: %s response mode mismatch", lidar.ErrProtocol, op)
	}
	return nil
}
