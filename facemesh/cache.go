package facemesh

import (
	"sync"
	"time"

	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

const (
	// DefaultCacheTTL is how long a mesh is reused once extraction fails
	DefaultCacheTTL = 2 * time.Second
	// DefaultMinFaceSize is the smallest crop side in pixels worth running
	// the landmark model on
	DefaultMinFaceSize = 60
)

type cacheEntry struct {
	mesh *Mesh
	at   time.Time
}

// Cache decorates an Extractor, skipping crops that are too small and
// falling back to the last good mesh per identity for up to ttl when
// extraction fails or finds no face
type Cache struct {
	inner   Extractor
	ttl     time.Duration
	minSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[int]cacheEntry
}

// NewCache wraps inner with a per identity mesh cache
func NewCache(inner Extractor, ttl time.Duration, minSize int) *Cache {
	return &Cache{
		inner:   inner,
		ttl:     ttl,
		minSize: minSize,
		now:     time.Now,
		entries: make(map[int]cacheEntry),
	}
}

// Extract runs the inner extractor on the clamped box.  Safe for concurrent
// use when the inner extractor is
func (c *Cache) Extract(frame gocv.Mat, box tracker.BBox, id int) (*Mesh, error) {

	b := box.Clamp(frame.Cols(), frame.Rows())

	if b.Width() < c.minSize || b.Height() < c.minSize {
		return c.cached(id), nil
	}

	mesh, err := c.inner.Extract(frame, b, id)

	if err != nil {
		if m := c.cached(id); m != nil {
			return m, nil
		}
		return nil, err
	}

	if mesh == nil {
		return c.cached(id), nil
	}

	if id != NoIdentity {
		c.mu.Lock()
		c.entries[id] = cacheEntry{mesh: mesh, at: c.now()}
		c.mu.Unlock()
	}

	return mesh, nil
}

// cached returns the last mesh for id if it is not older than the ttl
func (c *Cache) cached(id int) *Mesh {

	if id == NoIdentity {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]

	if !ok {
		return nil
	}

	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, id)
		return nil
	}

	return e.mesh
}

// Forget drops the cached mesh for an identity
func (c *Cache) Forget(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// Len returns the number of cached meshes, including expired ones not yet
// evicted
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Close closes the inner extractor
func (c *Cache) Close() error {
	return c.inner.Close()
}
