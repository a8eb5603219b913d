package vision

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/lunarithm/facelogix/internal/imaging"
)

const alignedSize = 112

// arcfaceDst is the canonical ArcFace 112x112 reference landmark set, in
// order [left_eye, right_eye, nose, left_mouth, right_mouth].
var arcfaceDst = [5][2]float64{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

// AlignedFace is a 112x112 BGR crop in canonical ArcFace pose.
type AlignedFace struct {
	Pix []byte // 112*112*3, BGR
}

// Align estimates a 2D similarity transform (scale+rotation+translation,
// 4 DoF) from the 5 detected landmarks to the ArcFace reference points and
// warps the source image into a 112x112 crop, out-of-bounds pixels filled
// with 0.
func Align(img *imaging.Image, landmarks [5][2]float32) *AlignedFace {
	return alignWithDst(img, landmarks, arcfaceDst)
}

// AlignWithMargin scales the destination reference points about their
// centroid by (1+m) before estimation, producing more context around the
// face.
func AlignWithMargin(img *imaging.Image, landmarks [5][2]float32, margin float64) *AlignedFace {
	var cx, cy float64
	for _, p := range arcfaceDst {
		cx += p[0]
		cy += p[1]
	}
	cx /= 5
	cy /= 5

	var dst [5][2]float64
	for i, p := range arcfaceDst {
		dst[i][0] = cx + (p[0]-cx)*(1+margin)
		dst[i][1] = cy + (p[1]-cy)*(1+margin)
	}
	return alignWithDst(img, landmarks, dst)
}

func alignWithDst(img *imaging.Image, landmarks [5][2]float32, dst [5][2]float64) *AlignedFace {
	var src [5][2]float64
	for i, p := range landmarks {
		src[i][0] = float64(p[0])
		src[i][1] = float64(p[1])
	}

	tf := estimateSimilarityTransform(src, dst)

	srcImg := &bgrImage{img: img}

	out := image.NewRGBA(image.Rect(0, 0, alignedSize, alignedSize))
	// draw.Transform takes the forward src-space -> dst-space matrix and
	// inverts it internally for resampling, which is exactly what tf is.
	draw.BiLinear.Transform(out, tf.aff3(), srcImg, srcImg.Bounds(), draw.Over, nil)

	pix := make([]byte, alignedSize*alignedSize*3)
	for y := 0; y < alignedSize; y++ {
		for x := 0; x < alignedSize; x++ {
			o := out.PixOffset(x, y)
			r, g, b := out.Pix[o], out.Pix[o+1], out.Pix[o+2]
			di := (y*alignedSize + x) * 3
			pix[di] = b
			pix[di+1] = g
			pix[di+2] = r
		}
	}

	return &AlignedFace{Pix: pix}
}

// simTransform is a 2D similarity transform: [x' y'] = s*R(theta)*[x y] + [tx ty].
type simTransform struct {
	a, b, tx, ty float64 // x' = a*x - b*y + tx; y' = b*x + a*y + ty
}

func (t simTransform) aff3() f64.Aff3 {
	return f64.Aff3{t.a, -t.b, t.tx, t.b, t.a, t.ty}
}

// estimateSimilarityTransform solves the 4-DoF (scale, rotation,
// translation) least-squares similarity transform mapping src points to
// dst points: a closed-form solve of the 4-unknown normal equations,
// equivalent to Umeyama's method restricted to a similarity transform
// (no reflection, uniform scale).
func estimateSimilarityTransform(src, dst [5][2]float64) simTransform {
	n := float64(len(src))

	var sx, sy, dx, dy float64
	for i := range src {
		sx += src[i][0]
		sy += src[i][1]
		dx += dst[i][0]
		dy += dst[i][1]
	}
	sx /= n
	sy /= n
	dx /= n
	dy /= n

	var sxx, syy, sd1, sd2 float64
	for i := range src {
		cxp := src[i][0] - sx
		cyp := src[i][1] - sy
		dxp := dst[i][0] - dx
		dyp := dst[i][1] - dy

		sxx += cxp * cxp
		syy += cyp * cyp
		sd1 += cxp*dxp + cyp*dyp
		sd2 += cxp*dyp - cyp*dxp
	}

	denom := sxx + syy
	if denom < 1e-12 {
		return simTransform{a: 1, tx: dx - sx, ty: dy - sy}
	}

	a := sd1 / denom
	b := sd2 / denom

	tx := dx - (a*sx - b*sy)
	ty := dy - (b*sx + a*sy)

	return simTransform{a: a, b: b, tx: tx, ty: ty}
}

// bgrImage adapts imaging.Image (packed BGR bytes) to image.Image so it can
// be used as a draw.Transform source.
type bgrImage struct {
	img *imaging.Image
}

func (b *bgrImage) ColorModel() color.Model { return color.RGBAModel }
func (b *bgrImage) Bounds() image.Rectangle { return image.Rect(0, 0, b.img.Width, b.img.Height) }
func (b *bgrImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.img.Width || y >= b.img.Height {
		return color.RGBA{}
	}
	o := (y*b.img.Width + x) * 3
	return color.RGBA{R: b.img.Pix[o+2], G: b.img.Pix[o+1], B: b.img.Pix[o], A: 255}
}
