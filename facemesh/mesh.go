// Package facemesh extracts dense facial landmarks and head pose for tracked
// people
package facemesh

import (
	"image"

	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// NoIdentity is passed as the identity to Extract when the caller has no
// track ID and results must not be cached
const NoIdentity = -1

// Point3 is a landmark in normalized face space
type Point3 struct {
	X, Y, Z float64
}

// Mesh is the facial landmark result for one person
type Mesh struct {
	// Landmarks2D are pixel coordinates in the source frame
	Landmarks2D []image.Point
	// Landmarks3D are normalized coordinates relative to the face crop
	Landmarks3D []Point3
	// BBox is the region of the frame the mesh was extracted from
	BBox tracker.BBox
	// HeadMatrix is an optional 4x4 facial transformation matrix
	HeadMatrix *mat.Dense
}

// Count returns the number of landmarks in the mesh
func (m *Mesh) Count() int {
	if m == nil {
		return 0
	}
	return len(m.Landmarks3D)
}

// Extractor produces a Mesh for the person inside box.  Implementations
// return a nil Mesh and nil error when no face is found
type Extractor interface {
	Extract(frame gocv.Mat, box tracker.BBox, id int) (*Mesh, error)
	Close() error
}
