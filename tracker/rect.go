package tracker

import (
	"image"
	"math"
)

// Xyah (center x, center y, aspect ratio, height) is the measurement space
// used by the Kalman filter
type Xyah [4]float64

// BBox is an axis aligned bounding box in integer pixel coordinates with
// (X1, Y1) the top left corner and (X2, Y2) the bottom right corner
type BBox struct {
	X1, Y1, X2, Y2 int
}

// NewBBox creates a new BBox from its corner coordinates
func NewBBox(x1, y1, x2, y2 int) BBox {
	return BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// BBoxFromRect converts an image.Rectangle into a BBox
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Width returns the width of the box
func (b BBox) Width() int {
	return b.X2 - b.X1
}

// Height returns the height of the box
func (b BBox) Height() int {
	return b.Y2 - b.Y1
}

// Area returns the area of the box, zero for degenerate boxes
func (b BBox) Area() int {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the box has no area
func (b BBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Center returns the integer center point of the box
func (b BBox) Center() image.Point {
	return image.Pt((b.X1+b.X2)/2, (b.Y1+b.Y2)/2)
}

// Rect returns the box as an image.Rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Clamp limits the box to an image of the given width and height
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// IoU calculates the Intersection over Union with another box
func (b BBox) IoU(other BBox) float64 {

	iw := math.Min(float64(b.X2), float64(other.X2)) -
		math.Max(float64(b.X1), float64(other.X1))

	if iw <= 0 {
		return 0
	}

	ih := math.Min(float64(b.Y2), float64(other.Y2)) -
		math.Max(float64(b.Y1), float64(other.Y1))

	if ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := float64(b.Area()) + float64(other.Area()) - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// Xyah converts the box to (center x, center y, aspect ratio, height) format
func (b BBox) Xyah() Xyah {
	w := float64(b.Width())
	h := float64(b.Height())

	aspect := 0.0
	if h > 0 {
		aspect = w / h
	}

	return Xyah{
		float64(b.X1) + w/2,
		float64(b.Y1) + h/2,
		aspect,
		h,
	}
}

// BBoxFromXyah creates a BBox from (center x, center y, aspect ratio, height)
// format, rounding each corner to the nearest pixel
func BBoxFromXyah(m Xyah) BBox {
	w := m[2] * m[3]

	return BBox{
		X1: int(math.Round(m[0] - w/2)),
		Y1: int(math.Round(m[1] - m[3]/2)),
		X2: int(math.Round(m[0] + w/2)),
		Y2: int(math.Round(m[1] + m[3]/2)),
	}
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
