package preprocess

import (
	"image"
	"math"
)

// Tiles splits a width x height frame into overlapping square tiles of at
// least size pixels a side for slicing aided detection.  Neighbouring tiles
// overlap by at least overlap of size, with any leftover pixels spread evenly
// across the tiles.  A frame smaller than a tile yields a single tile
// covering it
func Tiles(width, height, size int, overlap float64) []image.Rectangle {

	if width <= 0 || height <= 0 || size <= 0 {
		return nil
	}

	xs, tileW := tilePositions(width, size, overlap)
	ys, tileH := tilePositions(height, size, overlap)

	tiles := make([]image.Rectangle, 0, len(xs)*len(ys))

	for _, y := range ys {
		for _, x := range xs {
			tiles = append(tiles, image.Rect(x, y, x+tileW, y+tileH))
		}
	}

	return tiles
}

// tilePositions returns the start of each tile along one axis and the tile
// length.  It picks the fewest tiles where the step between them does not
// exceed sliceLen, so the overlap is never less than sliceLen*overlap
func tilePositions(srcLen, sliceLen int, overlap float64) ([]int, int) {

	minOv := int(math.Ceil(float64(sliceLen) * overlap))
	tileLen := sliceLen + minOv

	if tileLen >= srcLen {
		return []int{0}, srcLen
	}

	n := int(math.Ceil(float64(srcLen-tileLen)/float64(sliceLen))) + 1
	step := float64(srcLen-tileLen) / float64(n-1)

	positions := make([]int, n)

	for i := range positions {
		p := int(math.Round(step * float64(i)))

		if p > srcLen-tileLen {
			p = srcLen - tileLen
		}

		positions[i] = p
	}

	return positions, tileLen
}
