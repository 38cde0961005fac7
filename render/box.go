package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering text on an image using GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding to place around text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the text label to the bounding box
	Alignment Alignment
	// TTF when set draws text with a TrueType font instead of Face
	TTF *TTFont
}

// TextSize returns the size of text drawn with the font
func (f Font) TextSize(text string) image.Point {

	if f.TTF != nil {
		return f.TTF.TextSize(text)
	}

	return gocv.GetTextSize(text, f.Face, f.Scale, f.Thickness)
}

// PutText draws text with its baseline starting at pos
func (f Font) PutText(img *gocv.Mat, text string, pos image.Point) {

	if f.TTF != nil {
		// fall back to the hershey font if the label can not be rendered
		if err := f.TTF.PutText(img, text, pos, f.Color); err == nil {
			return
		}
	}

	gocv.PutTextWithParams(img, text, pos, f.Face, f.Scale, f.Color,
		f.Thickness, f.LineType, false)
}

// DefaultFont returns default font settings
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   4,
		RightPad:  4,
		TopPad:    4,
		BottomPad: 6,
		Alignment: Left,
	}
}

// boxLabel holds a precalculated label so labels can be drawn after all
// boxes
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// TrackText returns the label text drawn above a track
func TrackText(t tracker.Track) string {

	text := fmt.Sprintf("ID:%d", t.ID)

	if t.Label != "" {
		text += " " + t.Label
	}

	if t.Predicted {
		text += " ?"
	}

	return text
}

// TrackBoxes renders the bounding boxes of tracks.  Monitored tracks are
// drawn in their identity color, all others in gray
func TrackBoxes(img *gocv.Mat, tracks []tracker.Track, font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(tracks))

	for _, t := range tracks {

		useClr := Gray

		if t.Selected {
			useClr = TrackColor(t.ID)
		}

		thickness := lineThickness

		// predicted boxes are drawn thin as the person was not observed
		if t.Predicted && thickness > 1 {
			thickness = 1
		}

		rect := t.BBox.Rect()
		gocv.Rectangle(img, rect, useClr, thickness)

		if t.Selected {
			gocv.Circle(img, t.Center(), 4, useClr, -1)
		}

		text := TrackText(t)
		boxLabels = append(boxLabels, placeLabel(text, rect, useClr, font, lineThickness))
	}

	// draw all precalculated box labels so they are the top most layer on the
	// image and don't get overlapped by neighbor lines
	for _, box := range boxLabels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// Draw the label over box
		font.PutText(img, box.text, box.textPos)
	}
}

// placeLabel calculates the position of a label above rect
func placeLabel(text string, rect image.Rectangle, clr color.RGBA, font Font,
	lineThickness int) boxLabel {

	textSize := font.TextSize(text)

	// Calculate the alignment of text label
	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (rect.Min.X + rect.Max.X) / 2

	case Right:
		centerX = rect.Max.X - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = rect.Min.X + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	return boxLabel{
		rect: image.Rect(centerX-textSize.X/2-font.LeftPad,
			rect.Min.Y-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, rect.Min.Y),
		clr:     clr,
		text:    text,
		textPos: image.Pt(centerX-textSize.X/2, rect.Min.Y-font.BottomPad),
	}
}
