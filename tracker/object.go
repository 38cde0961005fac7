package tracker

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is a single person detection passed to a tracking engine
type Detection struct {
	// BBox is the detected bounding box
	BBox BBox
	// Confidence is the detector score in the range [0, 1]
	Confidence float64
	// ClassID is the detector class, zero for person
	ClassID int
}

// EngineTrack is a raw track emitted by a tracking engine before smoothing
type EngineTrack struct {
	ID         int
	BBox       BBox
	Confidence float64
}

// Engine is a multi object tracking engine that associates detections
// across frames and assigns each a raw track ID
type Engine interface {
	// Update feeds the detections for the current frame and returns the
	// confirmed tracks
	Update(dets []Detection, frame gocv.Mat) ([]EngineTrack, error)
	// Reset clears all tracking state
	Reset()
}

// Track is a smoothed, stabilized track for a single person
type Track struct {
	// ID is the track ID, rewritten to the canonical identity once the
	// re-identification layer has resolved it
	ID int
	// BBox is the EMA smoothed bounding box
	BBox BBox
	// Confidence is the engine confidence, or a fixed low value for
	// predicted tracks
	Confidence float64
	// Selected is true when the track is marked for feature extraction
	Selected bool
	// Label is an optional display label
	Label string
	// Predicted is true when the track was synthesized by the stability
	// filter rather than observed in the current frame
	Predicted bool
}

// Center returns the center point of the tracks bounding box
func (t Track) Center() image.Point {
	return t.BBox.Center()
}
