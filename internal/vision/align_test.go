package vision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarithm/facelogix/internal/imaging"
)

func TestEstimateSimilarityTransformIdentity(t *testing.T) {
	pts := [5][2]float64{
		{38.2946, 51.6963},
		{73.5318, 51.5014},
		{56.0252, 71.7366},
		{41.5493, 92.3655},
		{70.7299, 92.2041},
	}

	tf := estimateSimilarityTransform(pts, pts)

	assert.InDelta(t, 1.0, tf.a, 1e-6)
	assert.InDelta(t, 0.0, tf.b, 1e-6)
	assert.InDelta(t, 0.0, tf.tx, 1e-6)
	assert.InDelta(t, 0.0, tf.ty, 1e-6)
}

func TestEstimateSimilarityTransformTranslation(t *testing.T) {
	src := arcfaceDst
	var dst [5][2]float64
	for i, p := range src {
		dst[i][0] = p[0] + 10
		dst[i][1] = p[1] - 4
	}

	tf := estimateSimilarityTransform(src, dst)

	assert.InDelta(t, 1.0, tf.a, 1e-6)
	assert.InDelta(t, 0.0, tf.b, 1e-6)
	assert.InDelta(t, 10.0, tf.tx, 1e-6)
	assert.InDelta(t, -4.0, tf.ty, 1e-6)
}

func TestEstimateSimilarityTransformScaleAndRotation(t *testing.T) {
	src := arcfaceDst

	const scale = 2.0
	const theta = math.Pi / 6 // 30 degrees

	var cx, cy float64
	for _, p := range src {
		cx += p[0]
		cy += p[1]
	}
	cx /= 5
	cy /= 5

	cosT, sinT := math.Cos(theta), math.Sin(theta)

	var dst [5][2]float64
	for i, p := range src {
		x := p[0] - cx
		y := p[1] - cy
		dst[i][0] = scale*(cosT*x-sinT*y) + cx
		dst[i][1] = scale*(sinT*x+cosT*y) + cy
	}

	tf := estimateSimilarityTransform(src, dst)

	gotScale := math.Hypot(tf.a, tf.b)
	gotTheta := math.Atan2(tf.b, tf.a)

	assert.InDelta(t, scale, gotScale, 1e-4)
	assert.InDelta(t, theta, gotTheta, 1e-4)

	// Round-trip through the fitted transform should land within the delta
	// used above for every reference point, not just recover scale/theta.
	for i, p := range src {
		x := tf.a*p[0] - tf.b*p[1] + tf.tx
		y := tf.b*p[0] + tf.a*p[1] + tf.ty
		assert.InDelta(t, dst[i][0], x, 1e-3)
		assert.InDelta(t, dst[i][1], y, 1e-3)
	}
}

func TestAlignProducesCanonicalSize(t *testing.T) {
	img := &imaging.Image{Width: 200, Height: 200, Pix: make([]byte, 200*200*3)}
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	landmarks := [5][2]float32{
		{60, 70}, {140, 70}, {100, 110}, {70, 150}, {130, 150},
	}

	face := Align(img, landmarks)
	require.NotNil(t, face)
	assert.Len(t, face.Pix, alignedSize*alignedSize*3)
}

// TestAlignWarpsMarkerToReferencePoint drives an actual warp: the source
// landmarks are the ArcFace references scaled by 2 and shifted, with a
// white block painted at the source nose position on an otherwise black
// image. After alignment the block must land at the nose reference
// coordinate in the 112x112 crop, and the far corner must stay black.
func TestAlignWarpsMarkerToReferencePoint(t *testing.T) {
	const scale, shiftX, shiftY = 2.0, 20.0, 10.0

	img := &imaging.Image{Width: 300, Height: 300, Pix: make([]byte, 300*300*3)}

	var landmarks [5][2]float32
	for i, p := range arcfaceDst {
		landmarks[i][0] = float32(p[0]*scale + shiftX)
		landmarks[i][1] = float32(p[1]*scale + shiftY)
	}

	// 7x7 white block centered on the source-space nose landmark.
	noseX := int(landmarks[2][0])
	noseY := int(landmarks[2][1])
	for y := noseY - 3; y <= noseY+3; y++ {
		for x := noseX - 3; x <= noseX+3; x++ {
			o := (y*img.Width + x) * 3
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = 255, 255, 255
		}
	}

	face := Align(img, landmarks)
	require.NotNil(t, face)

	// The block must appear near the nose reference (56.0, 71.7).
	var maxNear byte
	for y := 68; y < 76; y++ {
		for x := 52; x < 60; x++ {
			v := face.Pix[(y*alignedSize+x)*3]
			if v > maxNear {
				maxNear = v
			}
		}
	}
	assert.Greater(t, maxNear, byte(200), "warped marker should land at the nose reference point")

	corner := face.Pix[(5*alignedSize+5)*3]
	assert.Zero(t, corner, "region far from the marker stays black")
}

func TestAlignWithMarginProducesCanonicalSize(t *testing.T) {
	img := &imaging.Image{Width: 200, Height: 200, Pix: make([]byte, 200*200*3)}
	landmarks := [5][2]float32{
		{60, 70}, {140, 70}, {100, 110}, {70, 150}, {130, 150},
	}

	noMargin := Align(img, landmarks)
	withMargin := AlignWithMargin(img, landmarks, 0.3)

	require.NotNil(t, noMargin)
	require.NotNil(t, withMargin)
	assert.Len(t, withMargin.Pix, alignedSize*alignedSize*3)
}

func TestBGRImageAtOutOfBounds(t *testing.T) {
	img := &imaging.Image{Width: 10, Height: 10, Pix: make([]byte, 10*10*3)}
	b := &bgrImage{img: img}

	r, g, bl, a := b.At(-1, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, bl)
	assert.Zero(t, a)
}

func TestBGRImageAtInBounds(t *testing.T) {
	img := &imaging.Image{Width: 2, Height: 1, Pix: []byte{10, 20, 30}}
	b := &bgrImage{img: img}

	r, g, bl, _ := b.At(0, 0).RGBA()
	// color.RGBA stores 8-bit components replicated into the high byte of
	// each 16-bit RGBA() return, so >>8 recovers the original byte.
	assert.Equal(t, uint32(30), r>>8)
	assert.Equal(t, uint32(20), g>>8)
	assert.Equal(t, uint32(10), bl>>8)
}
