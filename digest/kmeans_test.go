package digest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, cosineSimilarity(a, b), 1e-9)
}

func TestKmeansClusterSeparatesDistinctGroups(t *testing.T) {
	points := [][]float32{
		{1, 0, 0}, {0.9, 0.1, 0},
		{0, 1, 0}, {0.1, 0.9, 0},
	}
	assignments := kmeansCluster(points, 2, rand.New(rand.NewSource(42)))
	assert.Equal(t, assignments[0], assignments[1])
	assert.Equal(t, assignments[2], assignments[3])
	assert.NotEqual(t, assignments[0], assignments[2])
}

func TestKmeansClusterHandlesKEqualToPointCount(t *testing.T) {
	points := [][]float32{{1, 0}, {0, 1}}
	assignments := kmeansCluster(points, 2, rand.New(rand.NewSource(1)))
	assert.Len(t, assignments, 2)
}
