package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: byte(x * 10), G: byte(y * 10), B: 200, A: 255})
		}
	}
	return img
}

func TestRotateForOrientationTag3Is180(t *testing.T) {
	img := checkerNRGBA(4, 3)
	rotated, applied := rotateForOrientation(3, img)

	assert.True(t, applied)
	assert.Equal(t, imaging.Rotate180(img), rotated)
}

func TestRotateForOrientationTag6Is270NotNinety(t *testing.T) {
	img := checkerNRGBA(4, 3)
	rotated, applied := rotateForOrientation(6, img)

	assert.True(t, applied)
	assert.Equal(t, imaging.Rotate270(img), rotated)
	assert.NotEqual(t, imaging.Rotate90(img), rotated, "tag 6 must not use the CCW-90 rotation")
}

func TestRotateForOrientationTag8Is90NotTwoSeventy(t *testing.T) {
	img := checkerNRGBA(4, 3)
	rotated, applied := rotateForOrientation(8, img)

	assert.True(t, applied)
	assert.Equal(t, imaging.Rotate90(img), rotated)
	assert.NotEqual(t, imaging.Rotate270(img), rotated, "tag 8 must not use the CCW-270 rotation")
}

func TestRotateForOrientationUnknownTagIsNoop(t *testing.T) {
	img := checkerNRGBA(4, 3)
	rotated, applied := rotateForOrientation(1, img)

	assert.False(t, applied)
	assert.Equal(t, img, rotated)
}

func TestApplyExifOrientationWithoutExifIsNoop(t *testing.T) {
	img := checkerNRGBA(2, 2)
	rotated, applied := applyExifOrientation([]byte("not a real image"), img)

	assert.False(t, applied)
	assert.Equal(t, img, rotated)
}

func TestDecodePNGRoundTripsDimensionsAndBGR(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	src.Set(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 255})
	src.Set(0, 1, color.NRGBA{R: 70, G: 80, B: 90, A: 255})
	src.Set(1, 1, color.NRGBA{R: 100, G: 110, B: 120, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	got, err := Decode(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 2, got.Height)
	assert.False(t, got.OrientationApplied, "plain PNG with no EXIF block carries no orientation tag")

	// pixel (0,0): BGR order
	assert.Equal(t, []byte{30, 20, 10}, got.Pix[0:3])
	// pixel (1,1), last pixel
	assert.Equal(t, []byte{120, 110, 100}, got.Pix[9:12])
}

func TestImageCropClampsToBounds(t *testing.T) {
	img := &Image{Width: 10, Height: 10, Pix: make([]byte, 10*10*3)}
	for i := range img.Pix {
		img.Pix[i] = byte(i % 256)
	}

	cropped := img.Crop(-5, -5, 5, 5)
	require.NotNil(t, cropped)
	assert.Equal(t, 5, cropped.Width)
	assert.Equal(t, 5, cropped.Height)
}

func TestImageCropNonPositiveAreaIsNil(t *testing.T) {
	img := &Image{Width: 10, Height: 10, Pix: make([]byte, 10*10*3)}
	assert.Nil(t, img.Crop(5, 5, 5, 5))
	assert.Nil(t, img.Crop(8, 0, 3, 10))
}
