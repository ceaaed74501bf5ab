// pkg/lidar/errors.go
package lidar

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Every driver and session operation wraps one of these
// sentinels so callers can classify without string matching.
var (
	// ErrChannel marks a broken or unreachable transport. The session cannot
	// proceed; the caller must re-open the channel.
	ErrChannel = errors.New("channel failure")

	// ErrProtocol marks a malformed or absent response to a query.
	ErrProtocol = errors.New("protocol failure")

	// ErrUnhealthy is returned when the device reports an internal hardware
	// error. It requires an out-of-band reset and is never retried here.
	ErrUnhealthy = errors.New("device unhealthy")

	// ErrConfig marks an invalid caller-supplied parameter, rejected before
	// any device interaction.
	ErrConfig = errors.New("invalid configuration")

	// ErrTimeout means no response arrived within the bounded wait.
	ErrTimeout = errors.New("operation timed out")

	// ErrCorrupted marks a framing or check-bit mismatch in the scan stream.
	// The current scan cannot be resumed.
	ErrCorrupted = errors.New("scan stream corrupted")

	// ErrStopped means the device reported the scan has ended.
	ErrStopped = errors.New("scan stopped by device")

	// ErrState marks an operation attempted in a session state that does not
	// permit it.
	ErrState = errors.New("invalid session state")
)

// OpError carries the failing operation name alongside the underlying cause.
type OpError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps err with the operation name. A nil err returns nil.
func NewOpError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// IsFatal reports whether err ends the current session. Timeouts are left to
// caller policy and config rejections leave the session untouched; everything
// else in the taxonomy is session-fatal.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrConfig), errors.Is(err, ErrTimeout), errors.Is(err, ErrState):
		return false
	case err == nil:
		return false
	}
	return true
}
