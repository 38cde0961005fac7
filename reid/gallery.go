package reid

import (
	"math"
	"sort"
)

// Gallery stores one unit length vector per canonical identity
type Gallery struct {
	keep    float64
	vectors map[int][]float64
}

// NewGallery returns a Gallery that blends repeat observations with weight
// keep on the stored vector
func NewGallery(keep float64) *Gallery {
	return &Gallery{
		keep:    keep,
		vectors: make(map[int][]float64),
	}
}

// Len returns the number of identities in the gallery
func (g *Gallery) Len() int {
	return len(g.vectors)
}

// Get returns the stored vector for an identity
func (g *Gallery) Get(id int) ([]float64, bool) {
	v, ok := g.vectors[id]
	return v, ok
}

// Observe stores the normalized vector for a new identity or blends it into
// the existing one, returning the stored result
func (g *Gallery) Observe(id int, v []float64) []float64 {

	prev, ok := g.vectors[id]

	if !ok {
		g.vectors[id] = Normalize(v)
	} else {
		g.vectors[id] = Blend(prev, v, g.keep)
	}

	return g.vectors[id]
}

// Delete removes an identity from the gallery
func (g *Gallery) Delete(id int) {
	delete(g.vectors, id)
}

// IDs returns the stored identities in ascending order
func (g *Gallery) IDs() []int {
	ids := make([]int, 0, len(g.vectors))

	for id := range g.vectors {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// Register stores the vector for a new identity and reports true.  For a
// known identity the vector is blended in only when its similarity to the
// stored vector reaches threshold, reporting whether it did
func (g *Gallery) Register(id int, v []float64, threshold float64) bool {

	prev, ok := g.vectors[id]

	if !ok {
		g.vectors[id] = Normalize(v)
		return true
	}

	if CosineSimilarity(v, prev) < threshold {
		return false
	}

	g.vectors[id] = Blend(prev, v, g.keep)

	return true
}

// Match returns the identity with the highest cosine similarity to query
// when it reaches threshold.  Identities in exclude are skipped.  Ties go to
// the lowest identity
func (g *Gallery) Match(query []float64, threshold float64,
	exclude ...int) (id int, score float64, ok bool) {

	skip := make(map[int]bool, len(exclude))

	for _, e := range exclude {
		skip[e] = true
	}

	best := math.Inf(-1)

	for _, candidate := range g.IDs() {
		if skip[candidate] {
			continue
		}

		s := CosineSimilarity(query, g.vectors[candidate])

		if s > best {
			best = s
			id = candidate
		}
	}

	if best < threshold {
		return 0, 0, false
	}

	return id, best, true
}
