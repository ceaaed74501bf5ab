package slamtec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidar-service/pkg/lidar"
)

func TestBuildCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0xA5, 0x20}, buildCommand(cmdScan))
	assert.Equal(t, []byte{0xA5, 0x25}, buildCommand(cmdStop))
	assert.Equal(t, []byte{0xA5, 0x50}, buildCommand(cmdGetInfo))
	assert.Equal(t, []byte{0xA5, 0x52}, buildCommand(cmdGetHealth))
}

func TestBuildPayloadCommand(t *testing.T) {
	t.Parallel()

	t.Run("appends length, payload and xor checksum", func(t *testing.T) {
		t.Parallel()
		req := buildPayloadCommand(cmdExpressScan, []byte{0x02, 0x00, 0x00, 0x00, 0x00})

		want := []byte{0xA5, 0x82, 0x05, 0x02, 0x00, 0x00, 0x00, 0x00}
		checksum := byte(0)
		for _, b := range want {
			checksum ^= b
		}
		assert.Equal(t, append(want, checksum), req)
	})

	t.Run("checksum covers sync, op and length bytes", func(t *testing.T) {
		t.Parallel()
		req := buildPayloadCommand(cmdSetMotorRPM, []byte{0x58, 0x02})

		require.Len(t, req, 6)
		assert.Equal(t, byte(0xA5^0xA8^0x02^0x58^0x02), req[5])
	})
}

func TestBuildConfRequest(t *testing.T) {
	t.Parallel()

	t.Run("global entry carries only the entry type", func(t *testing.T) {
		t.Parallel()
		req := buildConfRequest(confScanModeCount, nil)

		require.Len(t, req, 8)
		assert.Equal(t, []byte{0xA5, 0x84, 0x04}, req[:3])
		assert.Equal(t, []byte{0x70, 0x00, 0x00, 0x00}, req[3:7])
	})

	t.Run("per-mode entry appends the 16-bit mode id", func(t *testing.T) {
		t.Parallel()
		modeID := uint16(0x0103)
		req := buildConfRequest(confScanModeUsPerSample, &modeID)

		require.Len(t, req, 10)
		assert.Equal(t, []byte{0xA5, 0x84, 0x06}, req[:3])
		assert.Equal(t, []byte{0x71, 0x00, 0x00, 0x00}, req[3:7])
		assert.Equal(t, []byte{0x03, 0x01}, req[7:9])
	})
}

func TestParseDescriptor(t *testing.T) {
	t.Parallel()

	t.Run("decodes a single-response descriptor", func(t *testing.T) {
		t.Parallel()
		desc, err := parseDescriptor([]byte{0xA5, 0x5A, 0x14, 0x00, 0x00, 0x00, 0x04})
		require.NoError(t, err)

		assert.Equal(t, 20, desc.length)
		assert.False(t, desc.multi)
		assert.Equal(t, ansTypeDevInfo, desc.answerType)
	})

	t.Run("decodes the continuous-response bit", func(t *testing.T) {
		t.Parallel()
		desc, err := parseDescriptor([]byte{0xA5, 0x5A, 0x05, 0x00, 0x00, 0x40, 0x81})
		require.NoError(t, err)

		assert.Equal(t, 5, desc.length)
		assert.True(t, desc.multi)
		assert.Equal(t, ansTypeScan, desc.answerType)
	})

	t.Run("rejects bad sync bytes", func(t *testing.T) {
		t.Parallel()
		_, err := parseDescriptor([]byte{0xA5, 0xA5, 0x05, 0x00, 0x00, 0x00, 0x81})
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})

	t.Run("rejects short input", func(t *testing.T) {
		t.Parallel()
		_, err := parseDescriptor([]byte{0xA5, 0x5A, 0x05})
		assert.ErrorIs(t, err, lidar.ErrProtocol)
	})
}

func TestDescriptorExpect(t *testing.T) {
	t.Parallel()

	desc := &descriptor{length: 3, multi: false, answerType: ansTypeDevHealth}

	assert.NoError(t, desc.expect("health", 3, false, ansTypeDevHealth))
	assert.ErrorIs(t, desc.expect("health", 3, false, ansTypeDevInfo), lidar.ErrProtocol)
	assert.ErrorIs(t, desc.expect("health", 20, false, ansTypeDevHealth), lidar.ErrProtocol)
	assert.ErrorIs(t, desc.expect("health", 3, true, ansTypeDevHealth), lidar.ErrProtocol)

	// A zero expected length skips the length check, used by variable-size
	// configuration replies.
	variable := &descriptor{length: 12, answerType: ansTypeLidarConf}
	assert.NoError(t, variable.expect("lidar conf", 0, false, ansTypeLidarConf))
}
