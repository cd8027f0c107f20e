package anomaly

import "math"

// DBSCANParams configures the density-based noise pass run over each warm
// batch. Minimal by design: the spec only needs a noise/non-noise label per
// entity (the dbscan_noise signal), not full cluster assignment.
type DBSCANParams struct {
	Eps    float64
	MinPts int
}

// DefaultDBSCANParams returns conservative defaults.
func DefaultDBSCANParams() DBSCANParams {
	return DBSCANParams{Eps: 1.5, MinPts: 3}
}

// DBSCANNoise runs a straightforward O(n^2) DBSCAN over the batch's feature
// vectors and returns the set of indices labeled as noise (points with
// fewer than MinPts neighbors within Eps that are not density-reachable
// from any core point).
func DBSCANNoise(vectors [][]float64, params DBSCANParams) map[int]bool {
	n := len(vectors)
	noise := make(map[int]bool, n)
	if n == 0 {
		return noise
	}

	visited := make([]bool, n)
	clustered := make([]bool, n)

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if euclidean(vectors[i], vectors[j]) <= params.Eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		nbrs := neighbors(i)
		if len(nbrs)+1 < params.MinPts {
			noise[i] = true
			continue
		}
		clustered[i] = true
		queue := append([]int{}, nbrs...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if !visited[j] {
				visited[j] = true
				jn := neighbors(j)
				if len(jn)+1 >= params.MinPts {
					queue = append(queue, jn...)
				}
			}
			clustered[j] = true
		}
	}

	for i := 0; i < n; i++ {
		if !clustered[i] {
			noise[i] = true
		}
	}
	return noise
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
