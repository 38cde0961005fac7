package tracker

import (
	"image"
	"sync"
)

// Trail keeps a bounded history of track centers per track ID, used for
// drawing motion trails
type Trail struct {
	// size is the maximum number of most recent points to keep per track
	size    int
	history map[int][]image.Point
	sync.Mutex
}

// NewTrail returns a new trail history instance keeping at most size points
// per track
func NewTrail(size int) *Trail {
	return &Trail{
		size:    size,
		history: make(map[int][]image.Point),
	}
}

// Reset clears all history
func (t *Trail) Reset() {
	t.Lock()
	defer t.Unlock()

	t.history = make(map[int][]image.Point)
}

// Add appends the tracks current center to its history
func (t *Trail) Add(track Track) {
	t.Lock()
	defer t.Unlock()

	points := append(t.history[track.ID], track.Center())

	// drop oldest points once history is exceeded
	if len(points) > t.size {
		points = points[len(points)-t.size:]
	}

	t.history[track.ID] = points
}

// Forget drops the history of a track
func (t *Trail) Forget(id int) {
	t.Lock()
	defer t.Unlock()

	delete(t.history, id)
}

// Points returns a copy of the point history for a track
func (t *Trail) Points(id int) []image.Point {
	t.Lock()
	defer t.Unlock()

	points, ok := t.history[id]

	if !ok {
		return nil
	}

	out := make([]image.Point, len(points))
	copy(out, points)

	return out
}
