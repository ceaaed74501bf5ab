// internal/session/runner.go
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lidar-service/pkg/lidar"
)

// maxConsecutiveTimeouts bounds the retry budget for frame acquisition:
// after this many timeouts in a row the session is stopped and the timeout
// propagates to the caller.
const maxConsecutiveTimeouts = 3

// FrameFunc observes each ordered frame as it is produced, after the sink
// has recorded it. seq counts frames from zero within the run.
type FrameFunc func(seq int64, frame lidar.Frame)

// Runner executes the acquire -> order -> sink loop for a scanning session.
// The loop is strictly sequential; frame order delivered to the sink is the
// acquisition order.
type Runner struct {
	controller *Controller
	sink       lidar.Sink
	logger     *zap.Logger
	onFrame    FrameFunc
}

// NewRunner creates a runner over a controller that is already in Scanning.
func NewRunner(controller *Controller, sink lidar.Sink, logger *zap.Logger) *Runner {
	return &Runner{
		controller: controller,
		sink:       sink,
		logger:     logger.With(zap.String("component", "runner")),
	}
}

// OnFrame registers an observer for produced frames. Must be set before Run.
func (r *Runner) OnFrame(fn FrameFunc) {
	r.onFrame = fn
}

// Run loops until the context is cancelled or the session fails. On
// cancellation it stops the session cleanly and returns nil. A failed
// acquisition never reaches the sink.
func (r *Runner) Run(ctx context.Context) error {
	timeouts := 0
	var seq int64

	for {
		if ctx.Err() != nil {
			return r.controller.Stop(context.WithoutCancel(ctx))
		}

		frame, err := r.controller.AcquireFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return r.controller.Stop(context.WithoutCancel(ctx))
			}
			if errors.Is(err, lidar.ErrTimeout) {
				timeouts++
				r.logger.Warn("Frame acquisition timed out",
					zap.Int("consecutive", timeouts),
				)
				if timeouts < maxConsecutiveTimeouts {
					continue
				}
				// Retry budget exhausted: stop once and surface the timeout.
				if stopErr := r.controller.Stop(ctx); stopErr != nil {
					r.logger.Warn("Stop after timeout budget reported error", zap.Error(stopErr))
				}
				return err
			}
			// Unrecoverable: AcquireFrame already transitioned to Stopped.
			return err
		}
		timeouts = 0

		ordered := lidar.OrderFrame(frame)
		if err := r.sink.WriteFrame(ordered); err != nil {
			if stopErr := r.controller.Stop(ctx); stopErr != nil {
				r.logger.Warn("Stop after sink failure reported error", zap.Error(stopErr))
			}
			return fmt.Errorf("sink write failed: %w", err)
		}

		if r.onFrame != nil {
			r.onFrame(seq, ordered)
		}
		seq++
	}
}
