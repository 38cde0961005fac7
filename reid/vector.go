// Package reid recovers a persons identity after their raw track ID changes,
// by appearance embedding or by face geometry, and locks identities that
// have proven stable
package reid

import (
	"gonum.org/v1/gonum/floats"
)

// minNorm is the smallest vector magnitude that is renormalized
const minNorm = 1e-6

// Normalize returns a unit length copy of v.  A vector with magnitude below
// 1e-6 is returned as an unnormalized copy
func Normalize(v []float64) []float64 {

	out := make([]float64, len(v))
	copy(out, v)

	norm := floats.Norm(out, 2)

	if norm <= minNorm {
		return out
	}

	floats.Scale(1/norm, out)

	return out
}

// CosineSimilarity returns the cosine of the angle between vectors a and b.
// Vectors of different length or zero magnitude have similarity 0
func CosineSimilarity(a, b []float64) float64 {

	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)

	if na <= minNorm || nb <= minNorm {
		return 0
	}

	return floats.Dot(a, b) / (na * nb)
}

// EuclideanDistance returns the L2 distance between two vectors of equal
// length
func EuclideanDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Blend returns keep*prev + (1-keep)*cur renormalized to unit length
func Blend(prev, cur []float64, keep float64) []float64 {

	if len(prev) != len(cur) {
		return Normalize(cur)
	}

	out := make([]float64, len(prev))
	floats.ScaleTo(out, keep, prev)
	floats.AddScaled(out, 1-keep, cur)

	return Normalize(out)
}

// ToFloat64 converts model output to float64
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))

	for i, x := range v {
		out[i] = float64(x)
	}

	return out
}
