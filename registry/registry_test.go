package registry

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thaqib/go-idtrack/tracker"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func trackAt(id, x, y int) tracker.Track {
	return tracker.Track{
		ID:         id,
		BBox:       tracker.NewBBox(x-20, y-40, x+20, y+40),
		Confidence: 0.9,
	}
}

func TestLedgerUpsertAndInactive(t *testing.T) {

	l := NewLedger(0)
	assert.Equal(t, DefaultExpiry, l.Expiry())

	l.Update([]tracker.Track{trackAt(1, 100, 100), trackAt(2, 300, 100)}, 1, at(0))
	require.Equal(t, 2, l.Len())

	e, ok := l.Get(1)
	require.True(t, ok)
	assert.True(t, e.Active)
	assert.Equal(t, image.Pt(100, 100), e.Center)
	assert.NotNil(t, e.NeighborDistances)
	assert.Empty(t, e.Neighbors)

	l.Update([]tracker.Track{trackAt(1, 110, 100)}, 2, at(0.1))

	e, _ = l.Get(1)
	assert.Equal(t, 2, e.LastSeenFrame)
	assert.Equal(t, image.Pt(110, 100), e.Center)

	e, _ = l.Get(2)
	assert.False(t, e.Active)
	assert.Equal(t, 1, e.LastSeenFrame)

	active := l.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].ID)
}

func TestLedgerExpiry(t *testing.T) {

	l := NewLedger(10 * time.Second)

	l.Update([]tracker.Track{trackAt(9, 100, 100), trackAt(4, 400, 100)}, 1, at(0))
	e, _ := l.Get(9)
	e.UpdateEmbedding([]float64{1, 0})

	// identity 9 leaves the scene while 4 stays
	frame := 2
	for sec := 1.0; sec <= 10; sec++ {
		deleted := l.Update([]tracker.Track{trackAt(4, 400, 100)}, frame, at(sec))
		assert.Empty(t, deleted, "still within expiry at %.0fs", sec)
		frame++
	}

	_, ok := l.Get(9)
	require.True(t, ok, "retained at exactly the expiry")

	deleted := l.Update([]tracker.Track{trackAt(4, 400, 100)}, frame, at(11))
	assert.Equal(t, []int{9}, deleted)

	_, ok = l.Get(9)
	assert.False(t, ok)

	// a returning identity starts over
	l.Update([]tracker.Track{trackAt(9, 120, 100), trackAt(4, 400, 100)}, frame+1, at(12))

	e, ok = l.Get(9)
	require.True(t, ok)
	assert.Zero(t, e.EmbeddingCount)
	assert.Nil(t, e.Appearance)
	assert.Equal(t, frame+1, e.LastSeenFrame)
}

func TestLedgerPredictedTracksDoNotRefreshLastSeen(t *testing.T) {

	l := NewLedger(2 * time.Second)
	l.Update([]tracker.Track{trackAt(5, 100, 100)}, 100, at(0))

	pred := trackAt(5, 104, 100)
	pred.Predicted = true

	l.Update([]tracker.Track{pred}, 101, at(1))

	e, _ := l.Get(5)
	assert.True(t, e.Active)
	assert.Equal(t, image.Pt(104, 100), e.Center)
	assert.Equal(t, 101, e.FrameIndex)
	assert.Equal(t, 100, e.LastSeenFrame)
	assert.Equal(t, at(0), e.LastSeenTime)

	// an entry emitted this frame is never expired under it
	deleted := l.Update([]tracker.Track{pred}, 102, at(2.5))
	assert.Empty(t, deleted)

	e, ok := l.Get(5)
	require.True(t, ok)
	assert.True(t, e.Active)
	assert.Equal(t, at(0), e.LastSeenTime)

	// predictions alone do not refresh it, so it expires once absent
	deleted = l.Update(nil, 103, at(2.6))
	assert.Equal(t, []int{5}, deleted)
}

func TestEntryUpdateEmbedding(t *testing.T) {

	e := newEntry(1)
	e.UpdateEmbedding(nil)
	assert.Zero(t, e.EmbeddingCount)

	e.UpdateEmbedding([]float64{1, 0})
	assert.Equal(t, []float64{1, 0}, e.Appearance)

	e.UpdateEmbedding([]float64{0, 1})
	assert.Equal(t, 2, e.EmbeddingCount)
	assert.InDelta(t, 1, math.Hypot(e.Appearance[0], e.Appearance[1]), 1e-12)
	assert.InDelta(t, 0.8/math.Hypot(0.8, 0.2), e.Appearance[0], 1e-12)
}

func TestComputeNeighbors(t *testing.T) {

	l := NewLedger(0)

	l.Update([]tracker.Track{
		trackAt(1, 0, 0),
		trackAt(2, 100, 0),
		trackAt(3, -100, 0),
		trackAt(4, 0, 300),
		trackAt(5, 500, 500),
		trackAt(6, 0, 100),
	}, 1, at(0))

	// identity 6 goes inactive but stays a neighbor candidate
	l.Update([]tracker.Track{
		trackAt(1, 0, 0),
		trackAt(2, 100, 0),
		trackAt(3, -100, 0),
		trackAt(4, 0, 300),
		trackAt(5, 500, 500),
	}, 2, at(0.1))

	ComputeNeighbors(l, 4)

	e1, _ := l.Get(1)
	// 2, 3 and 6 are all 100 away, ties go to the lower ID
	assert.Equal(t, []int{2, 3, 6, 4}, e1.Neighbors)
	assert.InDelta(t, 100, e1.NeighborDistances[2], 1e-12)
	assert.InDelta(t, 300, e1.NeighborDistances[4], 1e-12)

	for _, e := range l.All() {

		if !e.Active {
			assert.Empty(t, e.Neighbors, "inactive entry %d", e.ID)
			assert.Empty(t, e.NeighborDistances)
			continue
		}

		assert.LessOrEqual(t, len(e.Neighbors), 4)
		assert.Len(t, e.NeighborDistances, len(e.Neighbors))
		assert.NotContains(t, e.Neighbors, e.ID)

		for _, nid := range e.Neighbors {
			other, _ := l.Get(nid)
			assert.InDelta(t, Distance(other.Center, e.Center), e.NeighborDistances[nid], 1e-12)
		}
	}

	// recomputing with a smaller k replaces the previous result
	ComputeNeighbors(l, 1)
	e1, _ = l.Get(1)
	assert.Equal(t, []int{2}, e1.Neighbors)
	assert.Len(t, e1.NeighborDistances, 1)
}

func TestNormalizeAngle(t *testing.T) {

	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{190, -170},
		{-190, 170},
		{540, 180},
		{180, 180},
		{-180, -180},
		{725, 5},
	}

	for _, c := range cases {
		assert.InDelta(t, c.want, NormalizeAngle(c.in), 1e-12, "angle %v", c.in)
	}
}

func TestRiskRangeContains(t *testing.T) {

	r := RiskRange{Center: 20, Min: 5, Max: 35}
	assert.True(t, r.Contains(20))
	assert.True(t, r.Contains(5))
	assert.True(t, r.Contains(380))
	assert.False(t, r.Contains(40))

	// range crossing the 180 boundary
	w := RiskRange{Center: 175, Min: 160, Max: 190}
	assert.True(t, w.Contains(179))
	assert.True(t, w.Contains(-175))
	assert.True(t, w.Contains(185))
	assert.False(t, w.Contains(0))
	assert.False(t, w.Contains(-160))
}

func TestEstimatePaperZone(t *testing.T) {

	m := DefaultRiskModeler()
	z := m.EstimatePaperZone(tracker.NewBBox(100, 100, 200, 300))

	assert.Equal(t, image.Pt(150, 260), z.Center)
	assert.Equal(t, image.Pt(120, 230), z.Min)
	assert.Equal(t, image.Pt(180, 290), z.Max)
	assert.Equal(t, 60, z.Width())
	assert.Equal(t, 60, z.Height())

	require.GreaterOrEqual(t, len(z.Polygon), 4)
	assert.True(t, z.Contains(z.Center))
	assert.True(t, z.Contains(image.Pt(185, 260)), "inside the margin")
	assert.False(t, z.Contains(image.Pt(200, 260)))

	m.ZoneMargin = 0
	z = m.EstimatePaperZone(tracker.NewBBox(100, 100, 200, 300))
	assert.Len(t, z.Polygon, 4)
	assert.False(t, z.Contains(image.Pt(185, 260)))
}

func TestRiskModelerContext(t *testing.T) {

	l := NewLedger(0)
	l.Update([]tracker.Track{
		{ID: 1, BBox: tracker.NewBBox(0, 0, 100, 200)},
		{ID: 2, BBox: tracker.NewBBox(150, 0, 250, 200)},
		{ID: 3, BBox: tracker.NewBBox(900, 0, 1000, 200)},
	}, 1, at(0))
	ComputeNeighbors(l, DefaultNeighbors)

	m := DefaultRiskModeler()

	ctx, ok := m.Context(l, 1)
	require.True(t, ok)
	assert.Equal(t, image.Pt(50, 100), ctx.Center)

	// identity 3 is beyond the maximum distance
	require.Len(t, ctx.Neighbors, 1)
	require.Len(t, ctx.Risks, 1)

	n := ctx.Neighbors[0]
	assert.Equal(t, 2, n.ID)
	assert.InDelta(t, 150, n.Distance, 1e-9)
	assert.InDelta(t, 0, n.Angle, 1e-9)
	assert.Equal(t, image.Pt(200, 160), n.Zone.Center)

	want := math.Atan2(60, 150) * 180 / math.Pi
	assert.InDelta(t, want, n.RiskAngle, 1e-9)
	assert.InDelta(t, want-15, ctx.Risks[0].Min, 1e-9)

	risk, ok := ctx.MatchingRisk(want + 10)
	require.True(t, ok)
	assert.Equal(t, 2, risk.NeighborID)

	_, ok = ctx.MatchingRisk(-90)
	assert.False(t, ok)

	id, ok := ctx.LookingAt(want)
	require.True(t, ok)
	assert.Equal(t, 2, id)

	_, ok = ctx.LookingAt(180)
	assert.False(t, ok)

	_, ok = m.Context(l, 42)
	assert.False(t, ok)

	m.MaxDistance = 0
	ctx, _ = m.Context(l, 1)
	assert.Len(t, ctx.Neighbors, 2)
}
