// Package registry keeps the time bounded record of every identity seen in
// the stream and derives the spatial relationships between them.
package registry

import (
	"image"
	"sort"
	"time"

	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/tracker"
)

const (
	// DefaultExpiry is how long an unobserved identity is retained
	DefaultExpiry = 10 * time.Second
	// EmbeddingKeep is the weight of the stored appearance embedding when a
	// new observation is blended in
	EmbeddingKeep = 0.8
)

// Entry is the ledger record of a single identity
type Entry struct {
	ID     int
	BBox   tracker.BBox
	Center image.Point
	// FrameIndex and Timestamp are of the last update, including updates
	// from predicted tracks
	FrameIndex int
	Timestamp  time.Time
	// LastSeenFrame and LastSeenTime are of the last real observation
	LastSeenFrame int
	LastSeenTime  time.Time
	// Active is true when the identity was part of the last update
	Active bool
	// Appearance is the smoothed appearance embedding, nil until the first
	// observation
	Appearance     []float64
	EmbeddingCount int
	// Neighbors holds the IDs of the nearest identities, closest first
	Neighbors         []int
	NeighborDistances map[int]float64
}

func newEntry(id int) *Entry {
	return &Entry{
		ID:                id,
		Neighbors:         []int{},
		NeighborDistances: make(map[int]float64),
	}
}

// UpdateEmbedding blends an appearance embedding into the entry.  The first
// observation is stored as is
func (e *Entry) UpdateEmbedding(vec []float64) {

	if len(vec) == 0 {
		return
	}

	if e.Appearance == nil || len(e.Appearance) != len(vec) {
		e.Appearance = append([]float64(nil), vec...)
	} else {
		e.Appearance = reid.Blend(e.Appearance, vec, EmbeddingKeep)
	}

	e.EmbeddingCount++
}

// clearNeighbors resets the neighbor fields while keeping them non-nil
func (e *Entry) clearNeighbors() {
	e.Neighbors = e.Neighbors[:0]

	for k := range e.NeighborDistances {
		delete(e.NeighborDistances, k)
	}
}

// Ledger holds one Entry per identity.  It is owned by the frame loop and is
// not safe for concurrent use
type Ledger struct {
	expiry  time.Duration
	entries map[int]*Entry
}

// NewLedger returns a Ledger that deletes identities unobserved for longer
// than expiry.  A non positive expiry uses DefaultExpiry
func NewLedger(expiry time.Duration) *Ledger {

	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &Ledger{
		expiry:  expiry,
		entries: make(map[int]*Entry),
	}
}

// Expiry returns the retention window
func (l *Ledger) Expiry() time.Duration {
	return l.expiry
}

// Update records the tracks of a frame.  Every track is upserted and marked
// active, every other identity is marked inactive.  Identities absent from
// tracks whose last real observation is older than the expiry are deleted and
// their IDs returned in ascending order.  Predicted tracks refresh the
// position of an entry but not its last seen time
func (l *Ledger) Update(tracks []tracker.Track, frameIndex int, ts time.Time) []int {

	present := make(map[int]struct{}, len(tracks))

	for _, t := range tracks {
		present[t.ID] = struct{}{}

		e, ok := l.entries[t.ID]

		if !ok {
			e = newEntry(t.ID)
			l.entries[t.ID] = e
		}

		e.BBox = t.BBox
		e.Center = t.BBox.Center()
		e.FrameIndex = frameIndex
		e.Timestamp = ts
		e.Active = true

		if !t.Predicted || !ok {
			e.LastSeenFrame = frameIndex
			e.LastSeenTime = ts
		}
	}

	var deleted []int

	for id, e := range l.entries {

		if _, ok := present[id]; ok {
			continue
		}

		e.Active = false

		if ts.Sub(e.LastSeenTime) > l.expiry {
			deleted = append(deleted, id)
		}
	}

	for _, id := range deleted {
		delete(l.entries, id)
	}

	sort.Ints(deleted)

	return deleted
}

// Get returns the entry of an identity
func (l *Ledger) Get(id int) (*Entry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// All returns every entry sorted by ID
func (l *Ledger) All() []*Entry {

	all := make([]*Entry, 0, len(l.entries))

	for _, e := range l.entries {
		all = append(all, e)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})

	return all
}

// Active returns the active entries sorted by ID
func (l *Ledger) Active() []*Entry {

	var active []*Entry

	for _, e := range l.All() {
		if e.Active {
			active = append(active, e)
		}
	}

	return active
}

// Len returns the number of identities held
func (l *Ledger) Len() int {
	return len(l.entries)
}
