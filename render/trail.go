package render

import (
	"image/color"

	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// TrailStyle defines the parameters used for rendering the trail style
type TrailStyle struct {
	// LineSame defines if the color of the trail line should be the
	// same color as that of the bounding box.  If set to false then use
	// the color specified at LineColor
	LineSame      bool
	LineColor     color.RGBA
	LineThickness int
	CircleRadius  int
}

// DefaultTrailStyle returns default trail style settings
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		LineSame:      true,
		LineColor:     Yellow,
		LineThickness: 1,
		CircleRadius:  3,
	}
}

// Trail draws the center history of the monitored tracks
func Trail(img *gocv.Mat, tracks []tracker.Track, trail *tracker.Trail,
	style TrailStyle) {

	for _, t := range tracks {

		if !t.Selected {
			continue
		}

		lineClr := style.LineColor

		if style.LineSame {
			lineClr = TrackColor(t.ID)
		}

		points := trail.Points(t.ID)

		if len(points) < 2 {
			continue
		}

		for i := 1; i < len(points); i++ {
			gocv.Line(img, points[i-1], points[i], lineClr, style.LineThickness)
		}

		// mark the oldest retained position
		gocv.Circle(img, points[0], style.CircleRadius, lineClr, -1)
	}
}
