package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocessForEmbeddingSwapsBGRToRGBPlanes(t *testing.T) {
	face := &AlignedFace{Pix: make([]byte, alignedSize*alignedSize*3)}
	// first pixel B=10, G=20, R=30
	face.Pix[0] = 10
	face.Pix[1] = 20
	face.Pix[2] = 30

	data := preprocessForEmbedding(face)

	planeSize := alignedSize * alignedSize
	assert.Len(t, data, 3*planeSize)

	assert.InDelta(t, (30.0-127.5)/127.5, float64(data[0]), 1e-6, "R plane first")
	assert.InDelta(t, (20.0-127.5)/127.5, float64(data[planeSize]), 1e-6, "G plane second")
	assert.InDelta(t, (10.0-127.5)/127.5, float64(data[2*planeSize]), 1e-6, "B plane last")
}

func TestPreprocessForEmbeddingMidGrayIsNearZero(t *testing.T) {
	face := &AlignedFace{Pix: make([]byte, alignedSize*alignedSize*3)}
	for i := range face.Pix {
		face.Pix[i] = 128
	}

	data := preprocessForEmbedding(face)
	for _, v := range data[:10] {
		assert.InDelta(t, 0, float64(v), 0.01)
	}
}
