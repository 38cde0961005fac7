package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrInvalidFrame is returned for frames that are empty or not 3 channel
// BGR images
var ErrInvalidFrame = errors.New("invalid frame")

// CheckFrame validates a frame is a non-empty 3 channel image
func CheckFrame(frame gocv.Mat) error {

	if frame.Empty() {
		return fmt.Errorf("%w: empty", ErrInvalidFrame)
	}

	if frame.Channels() != 3 {
		return fmt.Errorf("%w: expected 3 channels, got %d", ErrInvalidFrame,
			frame.Channels())
	}

	return nil
}

// ClampRect restricts a rectangle to the bounds of the frame
func ClampRect(frame gocv.Mat, r image.Rectangle) image.Rectangle {
	return r.Canon().Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
}

// Crop returns the region of the frame inside r after clamping to the frame
// bounds.  The returned Mat shares memory with the frame and must be closed
// by the caller.  ok is false when the clamped region is smaller than minW x
// minH, in which case no Mat is allocated
func Crop(frame gocv.Mat, r image.Rectangle, minW, minH int) (roi gocv.Mat, bounds image.Rectangle, ok bool) {

	bounds = ClampRect(frame, r)

	if bounds.Empty() || bounds.Dx() < minW || bounds.Dy() < minH {
		return gocv.Mat{}, bounds, false
	}

	return frame.Region(bounds), bounds, true
}

// clampInt restricts the value to be within the range min and max
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
