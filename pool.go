package idtrack

import (
	"fmt"
	"io"
	"sync"

	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// Pool is a simple pool holding multiple instances of the same model so
// per person extraction can run in parallel
type Pool[T io.Closer] struct {
	// pool of instances
	items chan T
	// size of pool
	size  int
	close sync.Once
}

// NewPool creates a pool of size instances built by open
func NewPool[T io.Closer](size int, open func(i int) (T, error)) (*Pool[T], error) {

	if size <= 0 {
		size = 1
	}

	p := &Pool[T]{
		items: make(chan T, size),
		size:  size,
	}

	for i := 0; i < size; i++ {
		item, err := open(i)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, fmt.Errorf("creating pool instance %d: %w", i, err)
		}

		// attach to pool
		p.Return(item)
	}

	return p, nil
}

// Size returns the number of instances in the pool
func (p *Pool[T]) Size() int {
	return p.size
}

// Get an instance from the pool, blocking until one is available.  ok is
// false once the pool is closed
func (p *Pool[T]) Get() (item T, ok bool) {
	item, ok = <-p.items
	return item, ok
}

// Return an instance to the pool
func (p *Pool[T]) Return(item T) {
	defer func() {
		// pool closed while the instance was out
		if recover() != nil {
			_ = item.Close()
		}
	}()

	select {
	case p.items <- item:
	default:
		// pool is full
		_ = item.Close()
	}
}

// Close the pool and all instances in it
func (p *Pool[T]) Close() error {
	p.close.Do(func() {
		// close channel
		close(p.items)

		// close all instances
		for next := range p.items {
			_ = next.Close()
		}
	})

	return nil
}

// PooledExtractor is a facemesh.Extractor that runs each call on an
// extractor taken from a Pool
type PooledExtractor struct {
	pool *Pool[facemesh.Extractor]
}

// NewPooledExtractor opens size face mesh extractors with open
func NewPooledExtractor(size int, open func() (facemesh.Extractor, error)) (*PooledExtractor, error) {

	pool, err := NewPool(size, func(int) (facemesh.Extractor, error) {
		return open()
	})

	if err != nil {
		return nil, err
	}

	return &PooledExtractor{pool: pool}, nil
}

// Extract implements facemesh.Extractor
func (p *PooledExtractor) Extract(frame gocv.Mat, box tracker.BBox, id int) (*facemesh.Mesh, error) {

	ex, ok := p.pool.Get()

	if !ok {
		return nil, ErrPoolClosed
	}
	defer p.pool.Return(ex)

	return ex.Extract(frame, box, id)
}

// Close closes every pooled extractor
func (p *PooledExtractor) Close() error {
	return p.pool.Close()
}

// PooledEmbedder is a reid.Embedder that runs each call on an embedder taken
// from a Pool
type PooledEmbedder struct {
	pool *Pool[reid.Embedder]
}

// NewPooledEmbedder opens size appearance embedders with open
func NewPooledEmbedder(size int, open func() (reid.Embedder, error)) (*PooledEmbedder, error) {

	pool, err := NewPool(size, func(int) (reid.Embedder, error) {
		return open()
	})

	if err != nil {
		return nil, err
	}

	return &PooledEmbedder{pool: pool}, nil
}

// Extract implements reid.Embedder
func (p *PooledEmbedder) Extract(frame gocv.Mat, box tracker.BBox) ([]float64, error) {

	em, ok := p.pool.Get()

	if !ok {
		return nil, ErrPoolClosed
	}
	defer p.pool.Return(em)

	return em.Extract(frame, box)
}

// Close closes every pooled embedder
func (p *PooledEmbedder) Close() error {
	return p.pool.Close()
}
