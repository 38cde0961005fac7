package idtrack

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

type closer struct {
	id     int
	closed *atomic.Int32
}

func (c closer) Close() error {
	c.closed.Add(1)
	return nil
}

func TestPool(t *testing.T) {

	var closed atomic.Int32

	p, err := NewPool(3, func(i int) (closer, error) {
		return closer{id: i, closed: &closed}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())

	a, ok := p.Get()
	require.True(t, ok)
	b, ok := p.Get()
	require.True(t, ok)
	assert.NotEqual(t, a.id, b.id)

	p.Return(a)
	p.Return(b)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, int32(3), closed.Load())

	_, ok = p.Get()
	assert.False(t, ok)
}

func TestPoolReturnAfterClose(t *testing.T) {

	var closed atomic.Int32

	p, err := NewPool(2, func(i int) (closer, error) {
		return closer{id: i, closed: &closed}, nil
	})
	require.NoError(t, err)

	out, _ := p.Get()
	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), closed.Load())

	p.Return(out)
	assert.Equal(t, int32(2), closed.Load(), "instance returned to a closed pool is closed")
}

func TestPoolOpenFailure(t *testing.T) {

	var closed atomic.Int32
	boom := errors.New("no model")

	_, err := NewPool(3, func(i int) (closer, error) {
		if i == 2 {
			return closer{}, boom
		}
		return closer{id: i, closed: &closed}, nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), closed.Load(), "instances opened before the failure are closed")
}

func TestPooledExtractors(t *testing.T) {

	meshes, err := NewPooledExtractor(2, func() (facemesh.Extractor, error) {
		return &fixedMeshes{mesh: testMesh()}, nil
	})
	require.NoError(t, err)

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	mesh, err := meshes.Extract(frame, tracker.NewBBox(0, 0, 10, 10), 1)
	require.NoError(t, err)
	assert.Equal(t, 468, mesh.Count())

	emb, err := NewPooledEmbedder(2, func() (reid.Embedder, error) {
		return &keyedEmbedder{byX: map[int][]float64{5: {1, 0}}}, nil
	})
	require.NoError(t, err)

	v, err := emb.Extract(frame, tracker.NewBBox(5, 0, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, v)

	require.NoError(t, meshes.Close())
	require.NoError(t, emb.Close())

	_, err = meshes.Extract(frame, tracker.NewBBox(0, 0, 10, 10), 1)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
