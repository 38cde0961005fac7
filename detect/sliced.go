package detect

import (
	"fmt"
	"sort"
	"time"

	idtrack "github.com/thaqib/go-idtrack"
	"github.com/thaqib/go-idtrack/preprocess"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// Sliced runs a Detector over overlapping tiles of the frame so people far
// from the camera are large enough for the model input.  Tile results are
// mapped back to frame coordinates and merged
type Sliced struct {
	inner idtrack.Detector
	// SliceSize is the tile side, normally the model input size
	SliceSize int
	// Overlap is the fraction of SliceSize neighbouring tiles share
	Overlap float64
	// IoUThreshold groups boxes from different tiles as the same person
	IoUThreshold float64
	// SmallBoxOverlap is the fraction of a smaller box that must be covered
	// by a larger one for it to be treated as a partial view cut by a tile
	// edge
	SmallBoxOverlap float64
	// Full also runs the detector on the whole frame to catch people larger
	// than a tile
	Full bool
}

// NewSliced returns a Sliced detector with a full frame pass enabled
func NewSliced(inner idtrack.Detector, sliceSize int, overlap, iouThreshold float64) *Sliced {
	return &Sliced{
		inner:           inner,
		SliceSize:       sliceSize,
		Overlap:         overlap,
		IoUThreshold:    iouThreshold,
		SmallBoxOverlap: 0.7,
		Full:            true,
	}
}

// Detect implements idtrack.Detector
func (s *Sliced) Detect(frame gocv.Mat, frameIndex int, ts time.Time) (idtrack.DetectionResult, error) {

	res := idtrack.DetectionResult{FrameIndex: frameIndex, Timestamp: ts}

	if err := preprocess.CheckFrame(frame); err != nil {
		return res, err
	}

	start := time.Now()

	var dets []tracker.Detection

	if s.Full {
		full, err := s.inner.Detect(frame, frameIndex, ts)

		if err != nil {
			return res, err
		}

		dets = append(dets, full.Detections...)
	}

	for _, tile := range preprocess.Tiles(frame.Cols(), frame.Rows(), s.SliceSize, s.Overlap) {

		region := frame.Region(tile)
		part, err := s.inner.Detect(region, frameIndex, ts)
		region.Close()

		if err != nil {
			return res, fmt.Errorf("tile %v: %w", tile, err)
		}

		// remap to frame coordinates
		for _, d := range part.Detections {
			d.BBox = tracker.NewBBox(d.BBox.X1+tile.Min.X, d.BBox.Y1+tile.Min.Y,
				d.BBox.X2+tile.Min.X, d.BBox.Y2+tile.Min.Y)
			dets = append(dets, d)
		}
	}

	res.Detections = mergeClusters(dets, s.IoUThreshold, s.SmallBoxOverlap)
	res.Duration = time.Since(start)

	return res, nil
}

// mergeClusters groups overlapping boxes and keeps the largest box of each
// group, ties going to the higher confidence.  A box joins a group when its
// IoU with the group's first box exceeds iouThreshold or when more than
// smallOverlap of the smaller of the two lies inside the other
func mergeClusters(dets []tracker.Detection, iouThreshold, smallOverlap float64) []tracker.Detection {

	if len(dets) == 0 {
		return nil
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	suppressed := make([]bool, len(dets))
	keep := make([]tracker.Detection, 0, len(dets))

	for i, base := range dets {

		if suppressed[i] {
			continue
		}

		suppressed[i] = true
		best := base

		for j := i + 1; j < len(dets); j++ {

			if suppressed[j] {
				continue
			}

			other := dets[j]

			if base.BBox.IoU(other.BBox) <= iouThreshold &&
				coverage(base.BBox, other.BBox) <= smallOverlap {
				continue
			}

			suppressed[j] = true

			a, b := other.BBox.Area(), best.BBox.Area()

			if a > b || (a == b && other.Confidence > best.Confidence) {
				best = other
			}
		}

		keep = append(keep, best)
	}

	return keep
}

// coverage returns the fraction of the smaller box's area shared with the
// other box
func coverage(a, b tracker.BBox) float64 {

	area := min(a.Area(), b.Area())

	if area == 0 {
		return 0
	}

	inter := a.Rect().Intersect(b.Rect())

	return float64(inter.Dx()*inter.Dy()) / float64(area)
}
