package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	idtrack "github.com/thaqib/go-idtrack"
	"github.com/thaqib/go-idtrack/registry"
	"gocv.io/x/gocv"
)

// StudentStyle defines the parameters used for rendering monitored identities
type StudentStyle struct {
	// MeshRadius is the radius of each face landmark dot, zero skips the mesh
	MeshRadius int
	// GazeLength is the length in pixels of the head direction arrow
	GazeLength int
	// MinGazeDeflection is the smallest head turn in degrees drawn as an arrow
	MinGazeDeflection float64
	// Neighbors draws lines to the neighbors of each identity
	Neighbors bool
	// Zones draws the paper zones of the neighbors
	Zones         bool
	LineThickness int
}

// DefaultStudentStyle returns default student style settings
func DefaultStudentStyle() StudentStyle {
	return StudentStyle{
		MeshRadius:        1,
		GazeLength:        80,
		MinGazeDeflection: 10,
		Neighbors:         true,
		Zones:             true,
		LineThickness:     1,
	}
}

// Students draws the face mesh, head direction, neighbor lines and paper
// zones of the monitored identities
func Students(img *gocv.Mat, states []idtrack.StudentState, style StudentStyle) {

	for _, s := range states {

		clr := TrackColor(s.ID)
		center := s.BBox.Center()

		if style.Zones {
			for _, n := range s.Spatial.Neighbors {
				zoneClr := LightGray

				if s.AtRisk && s.Risk.NeighborID == n.ID {
					zoneClr = Red
				}

				Zone(img, n.Zone, zoneClr, style.LineThickness)
			}
		}

		if style.Neighbors {
			for _, n := range s.Spatial.Neighbors {
				gocv.Line(img, center, n.Center, Yellow, style.LineThickness)
			}
		}

		if s.Mesh != nil && style.MeshRadius > 0 {
			for _, p := range s.Mesh.Landmarks2D {
				gocv.Circle(img, p, style.MeshRadius, Green, -1)
			}
		}

		if !s.HasPose || style.GazeLength <= 0 {
			continue
		}

		angle, ok := s.Pose.GazeAngle(style.MinGazeDeflection)

		if !ok {
			continue
		}

		arrowClr := clr

		if s.HasTarget {
			arrowClr = Red
		}

		gocv.ArrowedLine(img, center, GazePoint(center, angle, style.GazeLength),
			arrowClr, style.LineThickness+1)
	}
}

// GazePoint returns the point length pixels from center in the direction
// angle, in degrees
func GazePoint(center image.Point, angle float64, length int) image.Point {

	rad := angle * math.Pi / 180

	return image.Pt(
		center.X+int(math.Round(float64(length)*math.Cos(rad))),
		center.Y+int(math.Round(float64(length)*math.Sin(rad))),
	)
}

// Zone draws the outline of a paper zone
func Zone(img *gocv.Mat, z registry.PaperZone, clr color.RGBA, thickness int) {

	if len(z.Polygon) < 3 {
		gocv.Rectangle(img, image.Rectangle{Min: z.Min, Max: z.Max}, clr, thickness)
		return
	}

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{z.Polygon})
	defer pv.Close()

	gocv.Polylines(img, pv, true, clr, thickness)
}

// HUD draws the frame statistics in the top left corner
func HUD(img *gocv.Mat, pf idtrack.PipelineFrame, fps float64, neighbors bool,
	font Font) {

	state := "OFF"

	if neighbors {
		state = "ON"
	}

	lines := []string{
		fmt.Sprintf("FPS: %.1f", fps),
		fmt.Sprintf("Tracked: %d", pf.TrackedCount()),
		fmt.Sprintf("Selected: %d", pf.SelectedCount()),
		fmt.Sprintf("Frame: %d", pf.FrameIndex),
		"Neighbors: " + state,
	}

	Panel(img, image.Pt(10, 10), lines, font)
}

// Legend draws a panel listing the monitored identities and their state
func Legend(img *gocv.Mat, states []idtrack.StudentState, font Font) {

	if len(states) == 0 {
		return
	}

	lines := make([]string, 0, len(states))

	for _, s := range states {
		text := fmt.Sprintf("ID:%d", s.ID)

		if s.Label != "" {
			text += " " + s.Label
		}

		if s.Locked {
			text += " locked"
		}

		if s.HasTarget {
			text += fmt.Sprintf(" -> %d", s.LookingAt)
		} else if s.AtRisk {
			text += " at risk"
		}

		lines = append(lines, text)
	}

	width := 0

	for _, l := range lines {
		if w := font.TextSize(l).X; w > width {
			width = w
		}
	}

	x := img.Cols() - width - font.LeftPad - font.RightPad - 10

	if x < 0 {
		x = 0
	}

	Panel(img, image.Pt(x, 10), lines, font)
}

// Panel draws lines of text on a filled black background with its top left
// corner at origin
func Panel(img *gocv.Mat, origin image.Point, lines []string, font Font) {

	if len(lines) == 0 {
		return
	}

	width, lineHeight := 0, 0

	for _, l := range lines {
		size := font.TextSize(l)

		if size.X > width {
			width = size.X
		}

		if size.Y > lineHeight {
			lineHeight = size.Y
		}
	}

	step := lineHeight + font.TopPad + font.BottomPad

	bg := image.Rect(origin.X, origin.Y,
		origin.X+width+font.LeftPad+font.RightPad, origin.Y+step*len(lines)+font.TopPad)
	gocv.Rectangle(img, bg, Black, -1)

	for i, l := range lines {
		pos := image.Pt(origin.X+font.LeftPad, origin.Y+step*(i+1))
		font.PutText(img, l, pos)
	}
}
