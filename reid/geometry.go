package reid

import (
	"github.com/thaqib/go-idtrack/facemesh"
	"gonum.org/v1/gonum/floats"
)

// stablePoints are face mesh landmarks that move little with expression:
// nose tip, outer and inner eye corners and the mouth corners
var stablePoints = [...]int{1, 33, 133, 362, 263, 61, 291}

// MinDescriptorLandmarks is the landmark count needed by FaceDescriptor
const MinDescriptorLandmarks = 363

// FaceDescriptor builds a 21 dimensional face geometry vector from the 3D
// positions of the stable landmarks, centered on their mean and scaled to
// unit length.  ok is false when the mesh lacks the landmarks or the points
// are degenerate
func FaceDescriptor(mesh *facemesh.Mesh) (vec []float64, ok bool) {

	if mesh == nil || len(mesh.Landmarks3D) < MinDescriptorLandmarks {
		return nil, false
	}

	var mean facemesh.Point3

	for _, idx := range stablePoints {
		p := mesh.Landmarks3D[idx]
		mean.X += p.X
		mean.Y += p.Y
		mean.Z += p.Z
	}

	n := float64(len(stablePoints))
	mean.X /= n
	mean.Y /= n
	mean.Z /= n

	vec = make([]float64, 0, 3*len(stablePoints))

	for _, idx := range stablePoints {
		p := mesh.Landmarks3D[idx]
		vec = append(vec, p.X-mean.X, p.Y-mean.Y, p.Z-mean.Z)
	}

	norm := floats.Norm(vec, 2)

	if norm < minNorm {
		return nil, false
	}

	floats.Scale(1/norm, vec)

	return vec, true
}
