package tracker

import (
	"errors"
	"fmt"
)

// lapLarge stands in for infinity when seeding column minimums
const lapLarge = 1000000.0

// lapjv solves a dense square linear assignment problem using the
// Jonker-Volgenant algorithm.  x[i] is the column assigned to row i and y[j]
// the row assigned to column j
type lapjv struct {
	n    int
	cost [][]float64
	x, y []int
	v    []float64
	free []int
}

// solveLapjv returns the minimum cost row and column assignment for the
// square cost matrix
func solveLapjv(cost [][]float64) (x, y []int, err error) {

	n := len(cost)

	for i, row := range cost {
		if len(row) != n {
			return nil, nil, fmt.Errorf("cost row %d has %d columns, expected %d",
				i, len(row), n)
		}
	}

	s := &lapjv{
		n:    n,
		cost: cost,
		x:    make([]int, n),
		y:    make([]int, n),
		v:    make([]float64, n),
		free: make([]int, n),
	}

	if n == 0 {
		return s.x, s.y, nil
	}

	nFree := s.columnReduction()

	for pass := 0; nFree > 0 && pass < 2; pass++ {
		nFree = s.augmentingRowReduction(nFree)
	}

	if nFree > 0 {
		if err := s.augment(nFree); err != nil {
			return nil, nil, err
		}
	}

	return s.x, s.y, nil
}

// columnReduction assigns each column to its cheapest row, then transfers
// reductions to rows holding a unique assignment.  It returns the number of
// rows left free
func (s *lapjv) columnReduction() int {

	unique := make([]bool, s.n)

	for i := 0; i < s.n; i++ {
		s.x[i] = -1
		s.v[i] = lapLarge
		s.y[i] = 0
		unique[i] = true
	}

	for i, row := range s.cost {
		for j, c := range row {
			if c < s.v[j] {
				s.v[j] = c
				s.y[j] = i
			}
		}
	}

	for j := s.n - 1; j >= 0; j-- {
		i := s.y[j]

		if s.x[i] < 0 {
			s.x[i] = j
			continue
		}

		unique[i] = false
		s.y[j] = -1
	}

	nFree := 0

	for i := 0; i < s.n; i++ {

		if s.x[i] < 0 {
			s.free[nFree] = i
			nFree++
			continue
		}

		if !unique[i] {
			continue
		}

		j := s.x[i]
		lowest := lapLarge

		for j2, c := range s.cost[i] {
			if j2 != j && c-s.v[j2] < lowest {
				lowest = c - s.v[j2]
			}
		}

		s.v[j] -= lowest
	}

	return nFree
}

// augmentingRowReduction tries to place each free row on its cheapest column,
// displacing the current owner when the reduced cost allows
func (s *lapjv) augmentingRowReduction(nFree int) int {

	current := 0
	nextFree := 0
	steps := 0

	for current < nFree {

		steps++
		i := s.free[current]
		current++

		// best and second best reduced cost on this row
		j1, u1 := 0, s.cost[i][0]-s.v[0]
		j2, u2 := -1, lapLarge

		for j := 1; j < s.n; j++ {
			c := s.cost[i][j] - s.v[j]

			if c >= u2 {
				continue
			}

			if c >= u1 {
				j2, u2 = j, c
				continue
			}

			j2, u2 = j1, u1
			j1, u1 = j, c
		}

		i0 := s.y[j1]
		lowered := s.v[j1] - (u2 - u1)
		lowers := lowered < s.v[j1]

		switch {
		case steps < current*s.n:
			if lowers {
				s.v[j1] = lowered
			} else if i0 >= 0 && j2 >= 0 {
				j1 = j2
				i0 = s.y[j2]
			}

			if i0 >= 0 {
				if lowers {
					current--
					s.free[current] = i0
				} else {
					s.free[nextFree] = i0
					nextFree++
				}
			}

		case i0 >= 0:
			s.free[nextFree] = i0
			nextFree++
		}

		s.x[i] = j1
		s.y[j1] = i
	}

	return nextFree
}

// augment runs a shortest augmenting path from every remaining free row
func (s *lapjv) augment(nFree int) error {

	pred := make([]int, s.n)

	for _, start := range s.free[:nFree] {

		j := s.shortestPath(start, pred)

		if j < 0 || j >= s.n {
			return fmt.Errorf("augmenting path from row %d ended at column %d",
				start, j)
		}

		for i, steps := -1, 0; i != start; steps++ {
			if steps >= s.n {
				return errors.New("augmenting path did not return to its start row")
			}

			i = pred[j]
			s.y[j] = i
			j, s.x[i] = s.x[i], j
		}
	}

	return nil
}

// shortestPath is a single Dijkstra iteration over reduced costs starting at
// row start.  It returns the free column the path ends on and fills pred
// with the predecessor row of each column
func (s *lapjv) shortestPath(start int, pred []int) int {

	lo, hi := 0, 0
	end := -1
	ready := 0
	cols := make([]int, s.n)
	d := make([]float64, s.n)

	for j := 0; j < s.n; j++ {
		cols[j] = j
		pred[j] = start
		d[j] = s.cost[start][j] - s.v[j]
	}

	for end == -1 {

		if lo == hi {
			ready = lo
			hi = s.collectMin(lo, d, cols)

			for _, j := range cols[lo:hi] {
				if s.y[j] < 0 {
					end = j
				}
			}
		}

		if end == -1 {
			end = s.scan(&lo, &hi, d, cols, pred)
		}
	}

	lowest := d[cols[lo]]

	for _, j := range cols[:ready] {
		s.v[j] += d[j] - lowest
	}

	return end
}

// collectMin moves the columns with the smallest d from position lo onward
// to the front of the todo list and returns the end of that run
func (s *lapjv) collectMin(lo int, d []float64, cols []int) int {

	hi := lo + 1
	lowest := d[cols[lo]]

	for k := hi; k < s.n; k++ {
		j := cols[k]

		if d[j] > lowest {
			continue
		}

		if d[j] < lowest {
			hi = lo
			lowest = d[j]
		}

		cols[k], cols[hi] = cols[hi], j
		hi++
	}

	return hi
}

// scan relaxes the todo columns through each column on the scan list.  It
// returns a free column reached at minimum distance, or -1
func (s *lapjv) scan(lo, hi *int, d []float64, cols, pred []int) int {

	for *lo != *hi {

		j := cols[*lo]
		*lo++
		i := s.y[j]
		lowest := d[j]
		h := s.cost[i][j] - s.v[j] - lowest

		for k := *hi; k < s.n; k++ {
			j = cols[k]
			reduced := s.cost[i][j] - s.v[j] - h

			if reduced >= d[j] {
				continue
			}

			d[j] = reduced
			pred[j] = i

			if reduced == lowest {
				if s.y[j] < 0 {
					return j
				}

				cols[k], cols[*hi] = cols[*hi], j
				*hi++
			}
		}
	}

	return -1
}

// linearAssignment matches rows to columns of a rectangular cost matrix at
// minimum total cost, leaving any pair costing more than thresh unmatched.
// The matrix is extended to (rows+cols) square with dummy entries costing
// thresh/2, so pairing a real row and column only wins when it is cheaper
// than leaving both unassigned
func linearAssignment(cost [][]float64, rows, cols int,
	thresh float64) (matches [][2]int, unmatchedRows, unmatchedCols []int, err error) {

	if len(cost) == 0 || rows == 0 || cols == 0 {
		for i := 0; i < rows; i++ {
			unmatchedRows = append(unmatchedRows, i)
		}
		for j := 0; j < cols; j++ {
			unmatchedCols = append(unmatchedCols, j)
		}
		return nil, unmatchedRows, unmatchedCols, nil
	}

	n := rows + cols
	ext := make([][]float64, n)

	for i := range ext {
		ext[i] = make([]float64, n)

		for j := range ext[i] {
			switch {
			case i < rows && j < cols:
				ext[i][j] = cost[i][j]
			case i >= rows && j >= cols:
				ext[i][j] = 0
			default:
				ext[i][j] = thresh / 2
			}
		}
	}

	x, _, err := solveLapjv(ext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("solve assignment: %w", err)
	}

	colUsed := make([]bool, cols)

	for i := 0; i < rows; i++ {
		j := x[i]

		if j < 0 || j >= cols || cost[i][j] > thresh {
			unmatchedRows = append(unmatchedRows, i)
			continue
		}

		colUsed[j] = true
		matches = append(matches, [2]int{i, j})
	}

	for j, used := range colUsed {
		if !used {
			unmatchedCols = append(unmatchedCols, j)
		}
	}

	return matches, unmatchedRows, unmatchedCols, nil
}
