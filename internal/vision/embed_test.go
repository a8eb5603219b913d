package vision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)

	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestNormalizeLeavesZeroVectorUntouched(t *testing.T) {
	v := []float32{0, 0, 0}
	normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestCosineSimilarityOfIdenticalUnitVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	normalize(v)
	assert.InDelta(t, 1.0, float64(CosineSimilarity(v, v)), 1e-5)
}

func TestCosineSimilarityOfOrthogonalVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.Equal(t, float32(0), CosineSimilarity(a, b))
}

func TestCosineSimilarityOfOppositeUnitVectorsIsNegativeOne(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, -1.0, float64(CosineSimilarity(a, b)), 1e-6)
}
