package registry

import (
	"image"
	"math"
	"sort"
)

// DefaultNeighbors is the number of nearest identities kept per entry
const DefaultNeighbors = 4

// candidate is another identity and its distance from the entry being
// processed
type candidate struct {
	id   int
	dist float64
}

// ComputeNeighbors writes the k nearest identities to every active entry of
// the ledger.  Candidates are all other entries, active or not, ordered by
// center distance with ties broken by ascending ID.  Inactive entries have
// their neighbor fields cleared
func ComputeNeighbors(l *Ledger, k int) {

	all := l.All()
	cands := make([]candidate, 0, len(all))

	for _, e := range all {

		e.clearNeighbors()

		if !e.Active || k <= 0 {
			continue
		}

		cands = cands[:0]

		for _, other := range all {
			if other.ID == e.ID {
				continue
			}

			cands = append(cands, candidate{
				id:   other.ID,
				dist: Distance(e.Center, other.Center),
			})
		}

		sort.Slice(cands, func(i, j int) bool {
			if cands[i].dist != cands[j].dist {
				return cands[i].dist < cands[j].dist
			}
			return cands[i].id < cands[j].id
		})

		if len(cands) > k {
			cands = cands[:k]
		}

		for _, c := range cands {
			e.Neighbors = append(e.Neighbors, c.id)
			e.NeighborDistances[c.id] = c.dist
		}
	}
}

// Distance returns the Euclidean distance between two points
func Distance(a, b image.Point) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}
