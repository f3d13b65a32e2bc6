package digest

import (
	"math"
	"math/rand"
)

// maxKMeansRounds bounds the k-means iteration even when assignments keep
// oscillating near the convergence boundary.
const maxKMeansRounds = 50

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// kmeansPlusPlusInit seeds k centroids from points, weighting selection by
// squared cosine distance to the nearest already-chosen centroid.
func kmeansPlusPlusInit(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])

	for len(centroids) < k {
		weights := make([]float64, len(points))
		var total float64
		for i, p := range points {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				if d := cosineDistance(p, c); d < minDist {
					minDist = d
				}
			}
			weights[i] = minDist * minDist
			total += weights[i]
		}
		if total == 0 {
			centroids = append(centroids, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := points[len(points)-1]
		for i, w := range weights {
			cum += w
			if cum >= target {
				chosen = points[i]
				break
			}
		}
		centroids = append(centroids, chosen)
	}
	return centroids
}

// kmeansCluster assigns each point to the centroid of highest cosine
// similarity, recomputing centroids as component-wise means until the
// assignment vector stops changing or maxKMeansRounds is reached.
func kmeansCluster(points [][]float32, k int, rng *rand.Rand) []int {
	if k >= len(points) {
		assignments := make([]int, len(points))
		for i := range assignments {
			assignments[i] = i
		}
		return assignments
	}

	dims := len(points[0])
	centroids := kmeansPlusPlusInit(points, k, rng)
	assignments := make([]int, len(points))
	for i := range assignments {
		assignments[i] = -1
	}

	for round := 0; round < maxKMeansRounds; round++ {
		newAssignments := make([]int, len(points))
		changed := false
		for i, p := range points {
			best, bestSim := 0, -2.0
			for c, centroid := range centroids {
				if sim := cosineSimilarity(p, centroid); sim > bestSim {
					bestSim, best = sim, c
				}
			}
			newAssignments[i] = best
			if newAssignments[i] != assignments[i] {
				changed = true
			}
		}
		assignments = newAssignments
		if !changed {
			break
		}
		centroids = recomputeCentroids(points, assignments, k, dims)
	}
	return assignments
}

func recomputeCentroids(points [][]float32, assignments []int, k, dims int) [][]float32 {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dims)
	}
	for i, p := range points {
		c := assignments[i]
		counts[c]++
		for d, v := range p {
			sums[c][d] += float64(v)
		}
	}

	out := make([][]float32, k)
	for c := range out {
		out[c] = make([]float32, dims)
		if counts[c] == 0 {
			continue
		}
		for d := range out[c] {
			out[c][d] = float32(sums[c][d] / float64(counts[c]))
		}
	}
	return out
}
