package registry

import (
	"image"
	"math"

	clipper "github.com/ctessum/go.clipper"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// PaperZone is the estimated desk area in front of a person
type PaperZone struct {
	Center image.Point
	Min    image.Point
	Max    image.Point
	// Polygon is the zone outline inflated by the modeler margin
	Polygon []image.Point
}

// Width of the zone before inflation
func (z PaperZone) Width() int {
	return z.Max.X - z.Min.X
}

// Height of the zone before inflation
func (z PaperZone) Height() int {
	return z.Max.Y - z.Min.Y
}

// Contains reports whether p falls inside the inflated zone outline, or the
// plain rectangle when there is no outline
func (z PaperZone) Contains(p image.Point) bool {

	if len(z.Polygon) < 3 {
		return p.In(image.Rectangle{Min: z.Min, Max: z.Max.Add(image.Pt(1, 1))})
	}

	pv := gocv.NewPointVectorFromPoints(z.Polygon)
	defer pv.Close()

	return gocv.PointPolygonTest(pv, p, false) >= 0
}

// RiskRange is an angular range of gaze directions that point at a
// neighbors paper zone.  Angles are in degrees, 0 pointing right and 90
// pointing down the image
type RiskRange struct {
	NeighborID int
	Center     float64
	Min        float64
	Max        float64
}

// Contains reports whether angle falls within the range, handling ranges
// that cross the ±180 boundary
func (r RiskRange) Contains(angle float64) bool {

	a := NormalizeAngle(angle)
	lo := NormalizeAngle(r.Min)
	hi := NormalizeAngle(r.Max)

	if lo <= hi {
		return a >= lo && a <= hi
	}

	return a >= lo || a <= hi
}

// NormalizeAngle wraps an angle in degrees into [-180, 180]
func NormalizeAngle(angle float64) float64 {

	for angle > 180 {
		angle -= 360
	}

	for angle < -180 {
		angle += 360
	}

	return angle
}

// AngleTo returns the direction in degrees from one point to another
func AngleTo(from, to image.Point) float64 {
	return math.Atan2(float64(to.Y-from.Y), float64(to.X-from.X)) * 180 / math.Pi
}

// Neighbor is a nearby identity as seen from a monitored person
type Neighbor struct {
	ID       int
	Center   image.Point
	Distance float64
	// Angle is the direction to the neighbor
	Angle float64
	Zone  PaperZone
	// RiskAngle is the direction to the neighbors paper zone
	RiskAngle float64
}

// SpatialContext is the neighborhood of one monitored identity
type SpatialContext struct {
	ID        int
	Center    image.Point
	Zone      PaperZone
	Neighbors []Neighbor
	Risks     []RiskRange
}

// MatchingRisk returns the first risk range containing the gaze angle
func (c SpatialContext) MatchingRisk(gaze float64) (RiskRange, bool) {

	for _, r := range c.Risks {
		if r.Contains(gaze) {
			return r, true
		}
	}

	return RiskRange{}, false
}

// LookingAt projects the gaze from the persons center out to each neighbors
// paper zone distance, nearest neighbor first, and returns the neighbor
// whose inflated zone the projected point lands in
func (c SpatialContext) LookingAt(gaze float64) (int, bool) {

	rad := gaze * math.Pi / 180

	for _, n := range c.Neighbors {
		reach := Distance(c.Center, n.Zone.Center)

		p := image.Pt(
			c.Center.X+int(math.Round(reach*math.Cos(rad))),
			c.Center.Y+int(math.Round(reach*math.Sin(rad))),
		)

		if n.Zone.Contains(p) {
			return n.ID, true
		}
	}

	return 0, false
}

// RiskModeler derives paper zones and risky gaze directions from the
// neighbors computed on the ledger
type RiskModeler struct {
	// MaxDistance drops neighbors further than this many pixels, zero keeps
	// all of them
	MaxDistance float64
	// Tolerance is the half width in degrees of each risk range
	Tolerance float64
	// PaperOffsetRatio places the paper zone below the box center by this
	// fraction of the box height
	PaperOffsetRatio float64
	// ZoneMargin inflates each paper zone by this many pixels
	ZoneMargin float64
}

// DefaultRiskModeler returns a RiskModeler with the default settings
func DefaultRiskModeler() RiskModeler {
	return RiskModeler{
		MaxDistance:      200,
		Tolerance:        15,
		PaperOffsetRatio: 0.3,
		ZoneMargin:       10,
	}
}

// EstimatePaperZone places a zone 0.6 of the box width wide and 0.3 of the
// box height tall below the box center
func (m RiskModeler) EstimatePaperZone(box tracker.BBox) PaperZone {

	c := box.Center()
	w, h := box.Width(), box.Height()

	offset := int(float64(h) * m.PaperOffsetRatio)
	pw := int(float64(w) * 0.6)
	ph := int(float64(h) * 0.3)

	center := image.Pt(c.X, c.Y+offset)

	z := PaperZone{
		Center: center,
		Min:    image.Pt(center.X-pw/2, center.Y-ph/2),
		Max:    image.Pt(center.X+pw/2, center.Y+ph/2),
	}

	z.Polygon = inflate(z.Min, z.Max, m.ZoneMargin)

	return z
}

// Context builds the spatial context of an identity from its ledger entry.
// The entry must be active and have its neighbors computed
func (m RiskModeler) Context(l *Ledger, id int) (SpatialContext, bool) {

	e, ok := l.Get(id)

	if !ok || !e.Active {
		return SpatialContext{}, false
	}

	ctx := SpatialContext{
		ID:     id,
		Center: e.Center,
		Zone:   m.EstimatePaperZone(e.BBox),
	}

	for _, nid := range e.Neighbors {
		other, ok := l.Get(nid)

		if !ok {
			continue
		}

		dist := e.NeighborDistances[nid]

		if m.MaxDistance > 0 && dist > m.MaxDistance {
			continue
		}

		zone := m.EstimatePaperZone(other.BBox)
		riskAngle := AngleTo(e.Center, zone.Center)

		ctx.Neighbors = append(ctx.Neighbors, Neighbor{
			ID:        nid,
			Center:    other.Center,
			Distance:  dist,
			Angle:     AngleTo(e.Center, other.Center),
			Zone:      zone,
			RiskAngle: riskAngle,
		})

		ctx.Risks = append(ctx.Risks, RiskRange{
			NeighborID: nid,
			Center:     riskAngle,
			Min:        riskAngle - m.Tolerance,
			Max:        riskAngle + m.Tolerance,
		})
	}

	return ctx, true
}

// inflate grows the rectangle outline by margin pixels with rounded corners
func inflate(min, max image.Point, margin float64) []image.Point {

	path := clipper.Path{
		&clipper.IntPoint{X: clipper.CInt(min.X), Y: clipper.CInt(min.Y)},
		&clipper.IntPoint{X: clipper.CInt(max.X), Y: clipper.CInt(min.Y)},
		&clipper.IntPoint{X: clipper.CInt(max.X), Y: clipper.CInt(max.Y)},
		&clipper.IntPoint{X: clipper.CInt(min.X), Y: clipper.CInt(max.Y)},
	}

	if margin <= 0 {
		return pathPoints(path)
	}

	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

	solution := co.Execute(margin)

	if len(solution) == 0 {
		return pathPoints(path)
	}

	return pathPoints(solution[0])
}

func pathPoints(path clipper.Path) []image.Point {

	points := make([]image.Point, 0, len(path))

	for _, pt := range path {
		points = append(points, image.Pt(int(pt.X), int(pt.Y)))
	}

	return points
}
