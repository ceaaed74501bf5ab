// internal/model/session.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState mirrors the controller lifecycle for persistence and the API.
type SessionState string

const (
	SessionStateConnecting SessionState = "CONNECTING"
	SessionStateScanning   SessionState = "SCANNING"
	SessionStateStopped    SessionState = "STOPPED"
	SessionStateFailed     SessionState = "FAILED"
)

// ScanSession is one connect-to-stop device lifecycle as stored in the scan
// archive.
type ScanSession struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	Port            string       `json:"port" db:"port"`
	SerialNumber    string       `json:"serial_number" db:"serial_number"`
	FirmwareVersion string       `json:"firmware_version" db:"firmware_version"`
	HardwareVersion int          `json:"hardware_version" db:"hardware_version"`
	ModeID          *int         `json:"mode_id,omitempty" db:"mode_id"`
	ModeName        string       `json:"mode_name,omitempty" db:"mode_name"`
	State           SessionState `json:"state" db:"state"`
	FailureReason   string       `json:"failure_reason,omitempty" db:"failure_reason"`
	StartedAt       time.Time    `json:"started_at" db:"started_at"`
	StoppedAt       *time.Time   `json:"stopped_at,omitempty" db:"stopped_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// FrameRecord is one ordered frame persisted for a session. Seq counts
// frames from zero in acquisition order; Payload is the encoded frame record
// (count-prefixed fixed-size samples).
type FrameRecord struct {
	ID          int64     `json:"id" db:"id"`
	SessionID   uuid.UUID `json:"session_id" db:"session_id"`
	Seq         int64     `json:"seq" db:"seq"`
	SampleCount int       `json:"sample_count" db:"sample_count"`
	Payload     []byte    `json:"-" db:"payload"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SessionStats summarises the archived output of one session.
type SessionStats struct {
	Frames  int64 `json:"frames"`
	Samples int64 `json:"samples"`
}
