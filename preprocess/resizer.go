package preprocess

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// LetterBox scales frames into a fixed model input size whilst maintaining
// aspect ratio, padding the remainder, and maps model space coordinates back
// to the source frame
type LetterBox struct {
	srcWidth   int
	srcHeight  int
	destWidth  int
	destHeight int
	tempMat    gocv.Mat
	xPad       int
	yPad       int
	scale      float64
	resizeW    int
	resizeH    int
}

// NewLetterBox returns a LetterBox for the given model input dimensions.  The
// source dimensions are taken from the first frame resized
func NewLetterBox(destWidth, destHeight int) *LetterBox {
	return &LetterBox{
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}
}

// Close frees memory allocated during resize process
func (l *LetterBox) Close() error {
	return l.tempMat.Close()
}

// setSource recalculates scaling when the source dimensions change
func (l *LetterBox) setSource(width, height int) {

	if width == l.srcWidth && height == l.srcHeight {
		return
	}

	l.srcWidth = width
	l.srcHeight = height
	l.resizeW = l.destWidth
	l.resizeH = l.destHeight

	scaleW := float64(l.destWidth) / float64(width)
	scaleH := float64(l.destHeight) / float64(height)
	l.scale = scaleH

	if scaleW < scaleH {
		l.scale = scaleW
		l.resizeH = int(float64(height) * l.scale)
	} else {
		l.resizeW = int(float64(width) * l.scale)
	}

	l.yPad = (l.destHeight - l.resizeH) / 2
	l.xPad = (l.destWidth - l.resizeW) / 2
}

// Resize letterboxes src into dest, padding with the given color
func (l *LetterBox) Resize(src gocv.Mat, dest *gocv.Mat, pad color.RGBA) {

	l.setSource(src.Cols(), src.Rows())

	gocv.Resize(src, &l.tempMat, image.Pt(l.resizeW, l.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(l.tempMat, dest, l.yPad, l.destHeight-l.resizeH-l.yPad,
		l.xPad, l.destWidth-l.resizeW-l.xPad, gocv.BorderConstant, pad)
}

// Unscale maps a point in model input space back to source frame space,
// clamped to the source frame
func (l *LetterBox) Unscale(x, y float64) image.Point {

	if l.scale == 0 {
		return image.Pt(int(x), int(y))
	}

	sx := int((x - float64(l.xPad)) / l.scale)
	sy := int((y - float64(l.yPad)) / l.scale)

	return image.Pt(clampInt(sx, 0, l.srcWidth), clampInt(sy, 0, l.srcHeight))
}

// ScaleFactor returns the scale factor used in letterbox resize
func (l *LetterBox) ScaleFactor() float64 {
	return l.scale
}

// XPad returns the x padding used in letterbox resize
func (l *LetterBox) XPad() int {
	return l.xPad
}

// YPad returns the y padding used in letterbox resize
func (l *LetterBox) YPad() int {
	return l.yPad
}
