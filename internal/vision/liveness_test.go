package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseLandmarks() [5][2]float32 {
	return [5][2]float32{
		{40, 50}, {60, 50}, {50, 60}, {42, 75}, {58, 75},
	}
}

func TestCheckLivenessStaticFrameIsNotLive(t *testing.T) {
	lm := baseLandmarks()
	result := CheckLiveness(lm, lm)

	assert.False(t, result.IsLive)
	assert.Equal(t, ReasonStatic, result.Reason)
}

func TestCheckLivenessExcessiveMotionIsNotLive(t *testing.T) {
	lm1 := baseLandmarks()
	lm2 := lm1
	for i := range lm2 {
		lm2[i][0] += 40
		lm2[i][1] += 40
	}

	result := CheckLiveness(lm1, lm2)

	assert.False(t, result.IsLive)
	assert.Equal(t, ReasonExcessive, result.Reason)
}

func TestCheckLivenessNaturalMicroMovementIsLive(t *testing.T) {
	lm1 := baseLandmarks()
	lm2 := lm1
	// eye distance is 20, so a ~0.6px jitter sits near the 0.03
	// normalized-motion sweet spot plus a blink-like eye displacement.
	for i := range lm2 {
		lm2[i][0] += 0.6
	}
	lm2[0][1] += 1.5
	lm2[1][1] += 1.5

	result := CheckLiveness(lm1, lm2)

	assert.True(t, result.IsLive)
	assert.Equal(t, ReasonNatural, result.Reason)
	assert.GreaterOrEqual(t, result.Confidence, float32(0.7))
}

func TestCheckLivenessDegenerateEyesHasZeroMotion(t *testing.T) {
	lm1 := [5][2]float32{{50, 50}, {50, 50}, {50, 60}, {40, 70}, {60, 70}}
	lm2 := lm1
	lm2[2][0] += 10

	result := CheckLiveness(lm1, lm2)

	assert.Equal(t, ReasonStatic, result.Reason)
}
