package idtrack

import (
	"time"

	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/registry"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// FrameData is a captured frame with its sequence number and capture time
type FrameData struct {
	Frame     gocv.Mat
	Index     int
	Timestamp time.Time
}

// Width of the frame in pixels
func (f FrameData) Width() int {
	return f.Frame.Cols()
}

// Height of the frame in pixels
func (f FrameData) Height() int {
	return f.Frame.Rows()
}

// DetectionResult holds the person detections for one frame
type DetectionResult struct {
	// FrameIndex and Timestamp are of the frame the detector ran on
	FrameIndex int
	Timestamp  time.Time
	Detections []tracker.Detection
	// Duration is the time the detector took
	Duration time.Duration
}

// Count returns the number of detections
func (d DetectionResult) Count() int {
	return len(d.Detections)
}

// Detector finds people in a frame.  Implementations return the person class
// only
type Detector interface {
	Detect(frame gocv.Mat, frameIndex int, ts time.Time) (DetectionResult, error)
}

// StudentState is the per frame state of a monitored identity
type StudentState struct {
	ID                int
	BBox              tracker.BBox
	Label             string
	Predicted         bool
	Neighbors         []int
	NeighborDistances map[int]float64
	// Mesh is nil when no face could be extracted this frame
	Mesh *facemesh.Mesh
	// Pose is valid when HasPose is set
	Pose    facemesh.HeadPose
	HasPose bool
	// Spatial holds the paper zones and risk ranges of the neighbors
	Spatial registry.SpatialContext
	// Risk is the risk range the head is turned towards, valid when AtRisk is
	// set
	Risk   registry.RiskRange
	AtRisk bool
	// LookingAt is the neighbor whose paper zone the gaze lands in, valid
	// when HasTarget is set
	LookingAt int
	HasTarget bool
	// Locked is true once the identity has passed enough consecutive face
	// revalidations
	Locked bool
	// Embeddings is the number of appearance embeddings blended so far
	Embeddings int
}

// Timing records the time spent in each stage of processing a frame
type Timing struct {
	Detection  time.Duration
	Tracking   time.Duration
	ReID       time.Duration
	Registry   time.Duration
	Neighbors  time.Duration
	Extraction time.Duration
	Total      time.Duration
}

// PipelineFrame is the result of processing one frame
type PipelineFrame struct {
	// Session identifies the Pipeline that produced the frame
	Session    string
	Frame      gocv.Mat
	FrameIndex int
	Timestamp  time.Time
	// Detection is the detection result used for this frame, nil when none
	// has been produced yet
	Detection *DetectionResult
	// FreshDetection is true when Detection arrived since the previous frame
	FreshDetection bool
	Tracks         []tracker.Track
	// StudentStates holds the monitored identities sorted by ID
	StudentStates []StudentState
	Timing        Timing
}

// TrackedCount returns the number of tracks in the frame
func (p PipelineFrame) TrackedCount() int {
	return len(p.Tracks)
}

// SelectedCount returns the number of monitored tracks in the frame
func (p PipelineFrame) SelectedCount() int {

	n := 0

	for _, t := range p.Tracks {
		if t.Selected {
			n++
		}
	}

	return n
}
