package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lunarithm/facelogix/internal/imaging"
)

func solidImage(w, h int, b, g, r byte) *imaging.Image {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = b
		pix[i*3+1] = g
		pix[i*3+2] = r
	}
	return &imaging.Image{Width: w, Height: h, Pix: pix}
}

func frontalLandmarks(x1, y1, x2, y2 float32) [5][2]float32 {
	w := x2 - x1
	h := y2 - y1
	eyeY := y1 + h*0.35
	return [5][2]float32{
		{x1 + w*0.3, eyeY},
		{x1 + w*0.7, eyeY},
		{x1 + w*0.5, y1 + h*0.49},
		{x1 + w*0.35, y1 + h*0.75},
		{x1 + w*0.65, y1 + h*0.75},
	}
}

func TestAssessQualityTooSmallCropIsZero(t *testing.T) {
	img := solidImage(100, 100, 128, 128, 128)
	score := AssessQuality(img, [4]float32{10, 10, 11, 10}, frontalLandmarks(10, 10, 11, 10))
	assert.Equal(t, QualityScore{}, score)
}

func TestAssessBrightnessIdealRangeIsPerfect(t *testing.T) {
	img := solidImage(200, 200, 130, 130, 130)
	gray := grayscaleCrop(img, 0, 0, 200, 200)
	assert.InDelta(t, 1.0, float64(assessBrightness(gray)), 1e-6)
}

func TestAssessBrightnessMonotonicTowardIdeal(t *testing.T) {
	darker := solidImage(200, 200, 20, 20, 20)
	lessDark := solidImage(200, 200, 60, 60, 60)

	darkScore := assessBrightness(grayscaleCrop(darker, 0, 0, 200, 200))
	lessDarkScore := assessBrightness(grayscaleCrop(lessDark, 0, 0, 200, 200))

	assert.Less(t, darkScore, lessDarkScore)
}

func TestAssessBrightnessVeryDarkAndVeryBrightBothFloor(t *testing.T) {
	dark := solidImage(50, 50, 5, 5, 5)
	bright := solidImage(50, 50, 250, 250, 250)

	darkScore := assessBrightness(grayscaleCrop(dark, 0, 0, 50, 50))
	brightScore := assessBrightness(grayscaleCrop(bright, 0, 0, 50, 50))

	assert.InDelta(t, 0.2, float64(darkScore), 1e-6)
	assert.InDelta(t, 0.2, float64(brightScore), 1e-6)
}

func TestAssessSharpnessFlatImageIsZero(t *testing.T) {
	img := solidImage(80, 80, 100, 100, 100)
	gray := grayscaleCrop(img, 0, 0, 80, 80)
	assert.InDelta(t, 0.0, float64(assessSharpness(gray)), 1e-6)
}

func TestAssessSharpnessIncreasesWithEdgeContrast(t *testing.T) {
	lowContrast := checkerboardImage(64, 64, 100, 102)
	highContrast := checkerboardImage(64, 64, 20, 230)

	lowScore := assessSharpness(grayscaleCrop(lowContrast, 0, 0, 64, 64))
	highScore := assessSharpness(grayscaleCrop(highContrast, 0, 0, 64, 64))

	assert.Less(t, lowScore, highScore)
}

func checkerboardImage(w, h int, a, b byte) *imaging.Image {
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := a
			if (x+y)%2 == 0 {
				v = b
			}
			o := (y*w + x) * 3
			pix[o], pix[o+1], pix[o+2] = v, v, v
		}
	}
	return &imaging.Image{Width: w, Height: h, Pix: pix}
}

func TestAssessFaceSizeMonotonicWithBoxSize(t *testing.T) {
	small := assessFaceSize(0, 0, 40, 40)
	medium := assessFaceSize(0, 0, 120, 120)
	large := assessFaceSize(0, 0, 250, 250)

	assert.Less(t, small, medium)
	assert.Less(t, medium, large)
	assert.InDelta(t, 1.0, float64(large), 1e-6)
}

func TestAssessFaceAngleFrontalIsHigh(t *testing.T) {
	lm := frontalLandmarks(0, 0, 100, 100)
	score := assessFaceAngle(lm)
	assert.Greater(t, score, float32(0.8))
}

func TestAssessFaceAngleDegenerateEyesIsZero(t *testing.T) {
	lm := [5][2]float32{{50, 50}, {50, 50}, {50, 60}, {40, 70}, {60, 70}}
	score := assessFaceAngle(lm)
	assert.Equal(t, float32(0), score)
}

func TestAssessFaceAngleYawPenalizesOffsetNose(t *testing.T) {
	frontal := frontalLandmarks(0, 0, 100, 100)
	skewed := frontal
	skewed[2][0] += 30 // push nose far to one side

	frontalScore := assessFaceAngle(frontal)
	skewedScore := assessFaceAngle(skewed)

	assert.Less(t, skewedScore, frontalScore)
}

func TestAssessQualityOverallIsWeightedAverage(t *testing.T) {
	img := solidImage(300, 300, 130, 130, 130)
	bbox := [4]float32{20, 20, 250, 250}
	lm := frontalLandmarks(20, 20, 250, 250)

	score := AssessQuality(img, bbox, lm)

	expected := score.Brightness*0.20 + score.Sharpness*0.30 + score.FaceSize*0.25 + score.FaceAngle*0.25
	assert.InDelta(t, float64(expected), float64(score.Overall), 1e-5)
}
