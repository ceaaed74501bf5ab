// pkg/lidar/order.go
package lidar

import "sort"

// OrderFrame returns a copy of frame reordered into non-decreasing angle
// order.
//
// The device delivers samples in rotation-timing order, which may interleave
// the tail of one revolution with the head of the next; a stable sort by the
// fixed-point angle folds both onto a single 0..360 sweep. At the 360->0
// wraparound, where angles from adjacent revolutions collide, stability keeps
// delivery order so the sync-flagged sample stays ahead of equal-angle
// samples that followed it.
//
// The operation is pure: it never drops, duplicates, or mutates samples.
func OrderFrame(frame Frame) Frame {
	out := make(Frame, len(frame))
	copy(out, frame)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AngleQ14 < out[j].AngleQ14
	})
	return out
}

// Ascending reports whether the frame is already in non-decreasing angle
// order.
func Ascending(frame Frame) bool {
	return sort.SliceIsSorted(frame, func(i, j int) bool {
		return frame[i].AngleQ14 < frame[j].AngleQ14
	})
}
