// Package imaging decodes JPEG/PNG uploads into the BGR pixel buffers the
// vision pipeline operates on, honoring EXIF orientation the way a camera
// phone capture requires.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Image is the decoded, orientation-corrected pixel buffer the rest of the
// pipeline consumes.
type Image struct {
	Width              int
	Height             int
	Pix                []byte // BGR, row-major, 3 bytes/pixel
	OrientationApplied bool
}

// Decode parses raw JPEG/PNG bytes, applies EXIF orientation tags 3/6/8 if
// present, and returns a BGR pixel buffer. A missing or unparsable EXIF
// block is equivalent to orientation 1 — it never causes a decode failure.
func Decode(data []byte) (*Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	rotated, applied := applyExifOrientation(data, img)
	return toBGR(rotated, applied), nil
}

func applyExifOrientation(data []byte, img image.Image) (image.Image, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return img, false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return img, false
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return img, false
	}

	return rotateForOrientation(orientation, img)
}

// rotateForOrientation maps an EXIF orientation tag to the rotation that
// restores upright display. disintegration/imaging's Rotate90/Rotate270
// rotate counter-clockwise, so tag 6 ("rotate 90 CW to correct") needs
// Rotate270 (270 CCW == 90 CW) and tag 8 ("rotate 270 CW to correct") needs
// Rotate90 (90 CCW == 270 CW).
func rotateForOrientation(orientation int, img image.Image) (image.Image, bool) {
	switch orientation {
	case 3:
		return imaging.Rotate180(img), true
	case 6:
		return imaging.Rotate270(img), true
	case 8:
		return imaging.Rotate90(img), true
	default:
		return img, false
	}
}

// toBGR converts any decoded image.Image into a packed BGR buffer via a
// single NRGBA pass, the conversion every downstream stage (detector,
// aligner, quality, embedder) assumes.
func toBGR(img image.Image, orientationApplied bool) *Image {
	nrgba := imaging.Clone(img) // normalizes to *image.NRGBA regardless of source type
	bounds := nrgba.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		rowOff := y * nrgba.Stride
		outOff := y * w * 3
		for x := 0; x < w; x++ {
			srcOff := rowOff + x*4
			r := nrgba.Pix[srcOff]
			g := nrgba.Pix[srcOff+1]
			b := nrgba.Pix[srcOff+2]
			o := outOff + x*3
			pix[o] = b
			pix[o+1] = g
			pix[o+2] = r
		}
	}

	return &Image{Width: w, Height: h, Pix: pix, OrientationApplied: orientationApplied}
}

// Crop returns a copy of the sub-rectangle [x1,y1,x2,y2) clamped to bounds.
// Returns nil if the clamped rectangle has non-positive area.
func (img *Image) Crop(x1, y1, x2, y2 int) *Image {
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > img.Width {
		x2 = img.Width
	}
	if y2 > img.Height {
		y2 = img.Height
	}
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}

	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		srcOff := ((y+y1)*img.Width + x1) * 3
		dstOff := y * w * 3
		copy(pix[dstOff:dstOff+w*3], img.Pix[srcOff:srcOff+w*3])
	}
	return &Image{Width: w, Height: h, Pix: pix}
}
