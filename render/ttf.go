package render

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TTFont renders text with a TrueType font so labels such as student names
// can use characters outside the Hershey fonts latin set
type TTFont struct {
	face font.Face
}

// LoadTTFont loads the TTF font file at path with the given point size
func LoadTTFont(path string, size float64) (*TTFont, error) {

	fontBytes, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	f, err := opentype.Parse(fontBytes)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	return &TTFont{face: face}, nil
}

// TextSize returns the advance width and the ascent of text
func (t *TTFont) TextSize(text string) image.Point {
	return image.Pt(font.MeasureString(t.face, text).Ceil(),
		t.face.Metrics().Ascent.Ceil())
}

// PutText draws text with its baseline starting at pos.  Glyphs are added
// onto the existing pixels so text should be drawn over a dark background
func (t *TTFont) PutText(img *gocv.Mat, text string, pos image.Point,
	clr color.RGBA) error {

	m := t.face.Metrics()
	width := font.MeasureString(t.face, text).Ceil()

	rect := image.Rect(pos.X, pos.Y-m.Ascent.Ceil(), pos.X+width, pos.Y+m.Descent.Ceil()).
		Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))

	if rect.Empty() {
		return nil
	}

	// render only the text region instead of a full frame sized image
	rgba := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	dr := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(clr),
		Face: t.face,
		Dot:  fixed.P(pos.X-rect.Min.X, pos.Y-rect.Min.Y),
	}
	dr.DrawString(text)

	patch, err := gocv.NewMatFromBytes(rect.Dy(), rect.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)

	if err != nil {
		return fmt.Errorf("error creating Mat from RGBA: %w", err)
	}

	defer patch.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()

	gocv.CvtColor(patch, &bgr, gocv.ColorRGBAToBGR)

	roi := img.Region(rect)
	defer roi.Close()

	gocv.AddWeighted(roi, 1.0, bgr, 1.0, 0, &roi)

	return nil
}

// Close the font face
func (t *TTFont) Close() error {
	return t.face.Close()
}
