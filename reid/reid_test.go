package reid

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/preprocess"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// fakeEmbedder returns the embedding registered for the boxes left edge
type fakeEmbedder struct {
	byX   map[int][]float64
	calls int
	err   error
}

func (f *fakeEmbedder) Extract(_ gocv.Mat, box tracker.BBox) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byX[box.X1], nil
}

func (f *fakeEmbedder) Close() error { return nil }

// fakeMeshes returns the mesh registered for the boxes left edge
type fakeMeshes struct {
	byX   map[int]*facemesh.Mesh
	calls int
}

func (f *fakeMeshes) Extract(_ gocv.Mat, box tracker.BBox, _ int) (*facemesh.Mesh, error) {
	f.calls++
	return f.byX[box.X1], nil
}

func (f *fakeMeshes) Close() error { return nil }

// unitAt returns a vector with cosine similarity s to e0
func unitAt(s float64) []float64 {
	return []float64{s, math.Sqrt(1 - s*s), 0, 0}
}

func boxAt(x int) tracker.BBox {
	return tracker.NewBBox(x, 0, x+80, 200)
}

// meshFor builds a mesh whose stable landmarks are derived from seed
func meshFor(seed float64) *facemesh.Mesh {
	lm := make([]facemesh.Point3, 468)
	for i, idx := range stablePoints {
		lm[idx] = facemesh.Point3{
			X: math.Cos(seed*float64(i+1)) + float64(i),
			Y: math.Sin(seed*float64(i+2)) * 2,
			Z: float64(i%3) * seed,
		}
	}
	return &facemesh.Mesh{Landmarks3D: lm}
}

func TestVectorOps(t *testing.T) {

	v := Normalize([]float64{3, 4})
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, v, 1e-12)

	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}), "zero vector is left unnormalized")

	assert.InDelta(t, 1, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.Zero(t, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	assert.InDelta(t, 5, EuclideanDistance([]float64{0, 0}, []float64{3, 4}), 1e-12)

	b := Blend([]float64{1, 0}, []float64{0, 1}, 0.8)
	assert.InDelta(t, 1, math.Hypot(b[0], b[1]), 1e-12)
	assert.InDelta(t, 0.8/math.Hypot(0.8, 0.2), b[0], 1e-12)
}

func TestGalleryMatch(t *testing.T) {

	g := NewGallery(0.8)
	g.Observe(5, unitAt(1))
	g.Observe(2, unitAt(1))
	g.Observe(9, unitAt(0.1))

	id, score, ok := g.Match(unitAt(0.95), 0.8)
	require.True(t, ok)
	assert.Equal(t, 2, id, "ties go to the lowest identity")
	assert.InDelta(t, 0.95, score, 1e-9)

	id, _, ok = g.Match(unitAt(0.95), 0.8, 2)
	require.True(t, ok)
	assert.Equal(t, 5, id, "claimed identities are skipped")

	_, _, ok = g.Match(unitAt(0.5), 0.8)
	assert.False(t, ok)

	_, _, ok = NewGallery(0.8).Match(unitAt(1), 0.8)
	assert.False(t, ok, "empty gallery never matches")
}

func TestGalleryRegister(t *testing.T) {

	g := NewGallery(0.7)

	assert.True(t, g.Register(1, unitAt(1), 0.8))
	assert.False(t, g.Register(1, unitAt(0.2), 0.8), "dissimilar observation is rejected")

	stored, _ := g.Get(1)
	assert.InDeltaSlice(t, unitAt(1), stored, 1e-12, "rejected observation must not be blended")

	assert.True(t, g.Register(1, unitAt(0.9), 0.8))
	stored, _ = g.Get(1)
	assert.InDelta(t, 1, math.Hypot(stored[0], stored[1]), 1e-12)
	assert.Less(t, stored[0], 1.0)
}

func TestGalleryBlendConverges(t *testing.T) {

	g := NewGallery(0.8)
	g.Observe(1, unitAt(1))

	target := unitAt(0.3)

	for i := 0; i < 100; i++ {
		g.Observe(1, target)
	}

	stored, _ := g.Get(1)
	assert.InDeltaSlice(t, target, stored, 1e-6)
}

func TestFaceDescriptorInvariance(t *testing.T) {

	base := meshFor(0.7)

	d1, ok := FaceDescriptor(base)
	require.True(t, ok)
	assert.Len(t, d1, 21)

	moved := &facemesh.Mesh{Landmarks3D: make([]facemesh.Point3, len(base.Landmarks3D))}
	for i, p := range base.Landmarks3D {
		moved.Landmarks3D[i] = facemesh.Point3{X: p.X*3 + 10, Y: p.Y*3 - 4, Z: p.Z * 3}
	}

	d2, ok := FaceDescriptor(moved)
	require.True(t, ok)
	assert.InDelta(t, 1, CosineSimilarity(d1, d2), 1e-9, "descriptor ignores translation and scale")

	_, ok = FaceDescriptor(&facemesh.Mesh{Landmarks3D: make([]facemesh.Point3, 100)})
	assert.False(t, ok)

	_, ok = FaceDescriptor(&facemesh.Mesh{Landmarks3D: make([]facemesh.Point3, 468)})
	assert.False(t, ok, "degenerate landmarks")
}

func TestLockBook(t *testing.T) {

	b := NewLockBook(10)

	for i := 0; i < 9; i++ {
		assert.False(t, b.Verify(1, true))
	}
	assert.Equal(t, 9, b.Count(1))

	// a mismatch before locking resets the count
	b.Verify(1, false)
	assert.Equal(t, 0, b.Count(1))

	var locked bool
	for i := 0; i < 10; i++ {
		locked = b.Verify(1, true)
	}
	assert.True(t, locked, "tenth consecutive match locks")
	assert.True(t, b.IsLocked(1))

	// locks are permanent and mismatches no longer reset the count
	b.Verify(1, false)
	assert.True(t, b.IsLocked(1))
	assert.Equal(t, 10, b.Count(1))
	assert.False(t, b.Verify(1, true), "already locked")
	assert.Equal(t, 1, b.Locked())
}

func TestArbiterAppearanceRemap(t *testing.T) {

	emb := &fakeEmbedder{byX: map[int][]float64{
		100: unitAt(1),
		400: unitAt(0.92),
	}}

	a := NewArbiter(DefaultConfig(), emb, nil, nil)
	require.Equal(t, TierAppearance, a.Tier())

	res := a.Resolve(gocv.Mat{}, 3, boxAt(100))
	assert.Equal(t, Resolution{Canonical: 3, Arbitrated: true}, res)

	res = a.Resolve(gocv.Mat{}, 7, boxAt(400))
	assert.Equal(t, 3, res.Canonical)
	assert.True(t, res.Matched)
	assert.InDelta(t, 0.92, res.Score, 1e-9)

	// later frames take the mapped path with no further arbitration
	calls := emb.calls
	for i := 0; i < 5; i++ {
		res = a.Resolve(gocv.Mat{}, 7, boxAt(400))
		assert.Equal(t, Resolution{Canonical: 3}, res)
	}
	assert.Equal(t, calls, emb.calls)
	assert.Equal(t, 3, a.Canonical(7))

	appearance, _ := a.Galleries()
	assert.Equal(t, 1, appearance)
}

func TestArbiterBelowThresholdRegistersNewIdentity(t *testing.T) {

	emb := &fakeEmbedder{byX: map[int][]float64{
		100: unitAt(1),
		400: unitAt(0.5),
	}}

	a := NewArbiter(DefaultConfig(), emb, nil, nil)

	a.Resolve(gocv.Mat{}, 3, boxAt(100))
	res := a.Resolve(gocv.Mat{}, 7, boxAt(400))

	assert.Equal(t, 7, res.Canonical)
	assert.False(t, res.Matched)

	appearance, _ := a.Galleries()
	assert.Equal(t, 2, appearance)
}

func TestArbiterEmbedderFailure(t *testing.T) {

	emb := &fakeEmbedder{err: errors.New("model failed")}
	a := NewArbiter(DefaultConfig(), emb, nil, nil)

	res := a.Resolve(gocv.Mat{}, 4, boxAt(100))
	assert.Equal(t, 4, res.Canonical)

	// the raw ID is still marked known
	res = a.Resolve(gocv.Mat{}, 4, boxAt(100))
	assert.False(t, res.Arbitrated)
	assert.Equal(t, 1, emb.calls)
}

func TestArbiterFaceGeometryFallback(t *testing.T) {

	meshes := &fakeMeshes{byX: map[int]*facemesh.Mesh{
		100: meshFor(0.7),
		400: meshFor(0.7),
	}}

	a := NewArbiter(DefaultConfig(), nil, meshes, nil)
	require.Equal(t, TierFaceGeometry, a.Tier())

	a.Resolve(gocv.Mat{}, 2, boxAt(100))
	res := a.Resolve(gocv.Mat{}, 11, boxAt(400))

	assert.Equal(t, 2, res.Canonical)
	assert.True(t, res.Matched)

	// claimed identities are not candidates
	res = a.Resolve(gocv.Mat{}, 12, boxAt(400), 2)
	assert.Equal(t, 12, res.Canonical)
}

func TestArbiterLockedIDNeverRemapped(t *testing.T) {

	emb := &fakeEmbedder{byX: map[int][]float64{
		100: unitAt(1),
		400: unitAt(0.99),
	}}

	a := NewArbiter(DefaultConfig(), emb, nil, nil)

	a.Resolve(gocv.Mat{}, 3, boxAt(100))
	require.Equal(t, 3, a.Resolve(gocv.Mat{}, 7, boxAt(400)).Canonical)

	mesh := meshFor(0.4)
	for i := 0; i < DefaultLockThreshold; i++ {
		match, _ := a.Revalidate(7, mesh)
		require.True(t, match)
	}

	assert.True(t, a.IsLocked(7))
	assert.Equal(t, 7, a.Resolve(gocv.Mat{}, 7, boxAt(400)).Canonical)
	assert.Equal(t, 7, a.Canonical(7))
}

func TestArbiterRevalidateWithoutDescriptorResets(t *testing.T) {

	a := NewArbiter(DefaultConfig(), nil, nil, nil)
	mesh := meshFor(0.4)

	for i := 0; i < 5; i++ {
		a.Revalidate(1, mesh)
	}
	assert.Equal(t, 5, a.LockCount(1))

	match, locked := a.Revalidate(1, &facemesh.Mesh{})
	assert.False(t, match)
	assert.False(t, locked)
	assert.Equal(t, 0, a.LockCount(1))
}

func TestArbiterForget(t *testing.T) {

	emb := &fakeEmbedder{byX: map[int][]float64{
		100: unitAt(1),
		400: unitAt(0.95),
	}}

	a := NewArbiter(DefaultConfig(), emb, nil, nil)

	a.Resolve(gocv.Mat{}, 9, boxAt(100))
	a.Resolve(gocv.Mat{}, 12, boxAt(400))
	require.Equal(t, 9, a.Canonical(12))

	a.Forget(9)

	appearance, _ := a.Galleries()
	assert.Zero(t, appearance)
	assert.Equal(t, 12, a.Canonical(12))

	// a returning raw ID is treated as a fresh candidate
	res := a.Resolve(gocv.Mat{}, 9, boxAt(100))
	assert.True(t, res.Arbitrated)
	assert.Equal(t, 9, res.Canonical)
}

func TestArbiterKnown(t *testing.T) {

	emb := &fakeEmbedder{byX: map[int][]float64{
		100: unitAt(1),
		400: unitAt(0.95),
	}}

	a := NewArbiter(DefaultConfig(), emb, nil, nil)
	assert.False(t, a.Known(3))

	a.Resolve(gocv.Mat{}, 3, boxAt(100))
	a.Resolve(gocv.Mat{}, 7, boxAt(400))

	assert.True(t, a.Known(3))
	assert.True(t, a.Known(7), "an alias is known too")
	assert.Equal(t, 3, a.Canonical(7))
	assert.False(t, a.Known(8))

	a.Forget(3)
	assert.False(t, a.Known(3))
	assert.False(t, a.Known(7))
}

func TestNewDNNEmbedderMissingModel(t *testing.T) {

	_, err := NewDNNEmbedder("testdata/missing.onnx")
	assert.ErrorIs(t, err, preprocess.ErrModelUnavailable)
}
