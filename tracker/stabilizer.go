package tracker

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/thaqib/go-idtrack/preprocess"
	"gocv.io/x/gocv"
)

// DefaultSmoothingAlpha is the weight given to the previous smoothed box
const DefaultSmoothingAlpha = 0.7

// Stabilizer wraps a tracking Engine and emits Tracks with EMA smoothed
// boxes, selection flags and display labels
type Stabilizer struct {
	engine Engine
	// alpha is the weight of the previous smoothed box, 1-alpha is given to
	// the raw engine box
	alpha float64
	log   *slog.Logger

	mu sync.RWMutex
	// smoothed holds the unrounded smoothed corners per track ID
	smoothed map[int][4]float64
	selected map[int]struct{}
	labels   map[int]string
}

// NewStabilizer returns a Stabilizer around the given engine.  An alpha
// outside (0, 1) uses DefaultSmoothingAlpha
func NewStabilizer(engine Engine, alpha float64, logger *slog.Logger) *Stabilizer {

	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultSmoothingAlpha
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Stabilizer{
		engine:   engine,
		alpha:    alpha,
		log:      logger.With("component", "stabilizer"),
		smoothed: make(map[int][4]float64),
		selected: make(map[int]struct{}),
		labels:   make(map[int]string),
	}
}

// Update runs the engine on the detections for the frame and returns the
// smoothed tracks.  An invalid frame or engine failure returns no tracks
func (s *Stabilizer) Update(dets []Detection, frame gocv.Mat) ([]Track, error) {

	if err := preprocess.CheckFrame(frame); err != nil {
		return nil, err
	}

	raw, err := s.engine.Update(dets, frame)

	if err != nil {
		return nil, fmt.Errorf("tracking engine update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]Track, 0, len(raw))

	for _, et := range raw {

		if et.BBox.Empty() {
			s.log.Debug("dropping degenerate engine box", "id", et.ID, "bbox", et.BBox)
			continue
		}

		cur := [4]float64{
			float64(et.BBox.X1), float64(et.BBox.Y1),
			float64(et.BBox.X2), float64(et.BBox.Y2),
		}

		if prev, ok := s.smoothed[et.ID]; ok {
			for i := range cur {
				cur[i] = s.alpha*prev[i] + (1-s.alpha)*cur[i]
			}
		}

		s.smoothed[et.ID] = cur

		_, selected := s.selected[et.ID]

		tracks = append(tracks, Track{
			ID:         et.ID,
			BBox:       roundBox(cur),
			Confidence: et.Confidence,
			Selected:   selected,
			Label:      s.labels[et.ID],
		})
	}

	return tracks, nil
}

// PredictedBBox returns the last smoothed box for a track ID
func (s *Stabilizer) PredictedBBox(id int) (BBox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.smoothed[id]

	if !ok {
		return BBox{}, false
	}

	return roundBox(cur), true
}

// Forget drops the smoothing state of a track ID.  Selection and labels are
// kept
func (s *Stabilizer) Forget(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.smoothed, id)
}

// Select marks track IDs for feature extraction
func (s *Stabilizer) Select(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.selected[id] = struct{}{}
	}
}

// Deselect removes track IDs from the selection
func (s *Stabilizer) Deselect(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.selected, id)
	}
}

// ClearSelection deselects all tracks
func (s *Stabilizer) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = make(map[int]struct{})
}

// IsSelected reports whether a track ID is selected
func (s *Stabilizer) IsSelected(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.selected[id]
	return ok
}

// Selected returns the selected track IDs in ascending order
func (s *Stabilizer) Selected() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.selected))

	for id := range s.selected {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// SetLabel sets the display label for a track ID, an empty label clears it
func (s *Stabilizer) SetLabel(id int, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label == "" {
		delete(s.labels, id)
		return
	}

	s.labels[id] = label
}

// Label returns the display label for a track ID
func (s *Stabilizer) Label(id int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.labels[id]
}

// Reset clears the engine and all smoothing, selection and label state
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Reset()
	s.smoothed = make(map[int][4]float64)
	s.selected = make(map[int]struct{})
	s.labels = make(map[int]string)
}

func roundBox(c [4]float64) BBox {
	return BBox{
		X1: int(math.Round(c[0])),
		Y1: int(math.Round(c[1])),
		X2: int(math.Round(c[2])),
		Y2: int(math.Round(c[3])),
	}
}
