// internal/driver/slamtec/parse.go
package slamtec

import (
	"encoding/binary"
	"fmt"

	"lidar-service/pkg/lidar"
)

// parseDeviceInfo decodes the 20-byte device info body: model, firmware
// minor/major, hardware revision, 16-byte serial.
func parseDeviceInfo(data []byte) (*lidar.DeviceInfo, error) {
	if len(data) != infoResponseLength {
		return nil, fmt.Errorf("%w: device info body is %d bytes, want %d",
			lidar.ErrProtocol, len(data), infoResponseLength)
	}

	info := &lidar.DeviceInfo{
		Model:           data[0],
		FirmwareMinor:   data[1],
		FirmwareMajor:   data[2],
		HardwareVersion: data[3],
	}
	copy(info.SerialNumber[:], data[4:20])
	return info, nil
}

// parseHealth decodes the 3-byte health body: status, 16-bit error code.
func parseHealth(data []byte) (*lidar.HealthStatus, error) {
	if len(data) != healthResponseLength {
		return nil, fmt.Errorf("%w: health body is %d bytes, want %d",
			lidar.ErrProtocol, len(data), healthResponseLength)
	}
	if data[0] > uint8(lidar.HealthError) {
		return nil, fmt.Errorf("%w: unknown health status %d", lidar.ErrProtocol, data[0])
	}

	return &lidar.HealthStatus{
		State: lidar.HealthState(data[0]),
		Code:  binary.LittleEndian.Uint16(data[1:3]),
	}, nil
}

// parseConfBody strips and verifies the echoed entry type, returning the
// configuration data that follows it.
func parseConfBody(confType uint32, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: conf body is %d bytes", lidar.ErrProtocol, len(data))
	}
	if echoed := binary.LittleEndian.Uint32(data[:4]); echoed != confType {
		return nil, fmt.Errorf("%w: conf echo %08x, want %08x",
			lidar.ErrProtocol, echoed, confType)
	}
	return data[4:], nil
}

// parseLegacyNode decodes one 5-byte standard-scan node. Byte 0 carries the
// quality and a sync/inverted-sync bit pair; byte 1 bit 0 is a fixed check
// bit. Angle is q6 degrees, distance is q2 millimetres.
func parseLegacyNode(data []byte) (lidar.Sample, error) {
	if len(data) != legacyNodeLength {
		return lidar.Sample{}, fmt.Errorf("%w: node is %d bytes, want %d",
			lidar.ErrCorrupted, len(data), legacyNodeLength)
	}

	sync := data[0]&0x01 != 0
	invSync := data[0]&0x02 != 0
	if sync == invSync {
		return lidar.Sample{}, fmt.Errorf("%w: sync bit pair check failed", lidar.ErrCorrupted)
	}
	if data[1]&0x01 != 1 {
		return lidar.Sample{}, fmt.Errorf("%w: node check bit not set", lidar.ErrCorrupted)
	}

	angleQ6 := uint32(data[1])>>1 | uint32(data[2])<<7
	distQ2 := uint32(data[3]) | uint32(data[4])<<8

	return lidar.Sample{
		// q6 degrees -> q14 of a quarter turn: deg*16384/90 == q6*16384/(64*90)
		AngleQ14: uint16(uint64(angleQ6) * 16384 / (64 * 90)),
		DistQ2:   distQ2,
		Quality:  data[0] >> 2,
		Sync:     sync,
	}, nil
}

// parseDenseNode decodes one 8-byte dense-scan node: flag, quality, q14
// angle, q2 distance. Flag bit 0 is the revolution sync; bit 1 must be its
// inversion.
func parseDenseNode(data []byte) (lidar.Sample, error) {
	if len(data) != denseNodeLength {
		return lidar.Sample{}, fmt.Errorf("%w: node is %d bytes, want %d",
			lidar.ErrCorrupted, len(data), denseNodeLength)
	}

	sync := data[0]&0x01 != 0
	invSync := data[0]&0x02 != 0
	if sync == invSync {
		return lidar.Sample{}, fmt.Errorf("%w: sync bit pair check failed", lidar.ErrCorrupted)
	}

	return lidar.Sample{
		AngleQ14: binary.LittleEndian.Uint16(data[2:4]),
		DistQ2:   binary.LittleEndian.Uint32(data[4:8]),
		Quality:  data[1],
		Sync:     sync,
	}, nil
}
