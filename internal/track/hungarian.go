package track

import "math"

// assign implements the Kuhn–Munkres (Hungarian) algorithm for optimal
// detection-to-track assignment. It solves the assignment problem in
// O(n³) time; a greedy nearest-neighbour pairing can split tracks when
// two detections compete for the same track, the optimal matching
// cannot.
//
// The cost matrix entry cost[i][j] is 1 - IoU between track i and
// detection j. Entries at or above forbiddenCost are never selected, so
// callers gate unacceptable pairs by setting them to forbiddenCost.
//
// Returns match[i] = j meaning track i to detection j, or -1 if track i
// is unmatched. The result is deterministic for identical inputs.

// forbiddenCost marks a pair the solver must not select.
const forbiddenCost = 1e18

func assign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		match := make([]int, n)
		for i := range match {
			match[i] = -1
		}
		return match
	}

	// Pad to a square matrix so every row can be processed uniformly;
	// padded cells carry forbiddenCost and are rejected afterwards.
	dim := n
	if m > dim {
		dim = m
	}
	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = forbiddenCost
			}
		}
	}

	// Kuhn–Munkres with potentials (Jonker–Volgenant variant).
	// 1-indexed internally for cleaner index arithmetic.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1)    // row potentials
	v := make([]float64, dim+1)    // column potentials
	p := make([]int, dim+1)        // p[j] = row assigned to column j
	way := make([]int, dim+1)      // previous column in augmenting path
	minv := make([]float64, dim+1) // minimal reduced cost per column
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		// Augment along the path.
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowMatch := make([]int, dim)
	for i := range rowMatch {
		rowMatch[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowMatch[p[j]-1] = j - 1
		}
	}

	// Trim padding and reject forbidden pairs.
	match := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowMatch[i]
		if col < 0 || col >= m || cost[i][col] >= forbiddenCost {
			match[i] = -1
		} else {
			match[i] = col
		}
	}

	return match
}
