package vision

import (
	"math"

	"github.com/lunarithm/facelogix/internal/imaging"
)

// QualityScore holds the component and overall quality metrics for a
// detected face crop. All scores are in [0, 1], 1 is best.
type QualityScore struct {
	Overall    float32
	Brightness float32
	Sharpness  float32
	FaceSize   float32
	FaceAngle  float32
}

// AssessQuality scores a detected face against brightness, sharpness,
// face size in pixels, and frontal-angle heuristics. img is the full BGR frame
// the detection came from; bbox and landmarks are in img's pixel space.
func AssessQuality(img *imaging.Image, bbox [4]float32, landmarks [5][2]float32) QualityScore {
	x1 := clampInt(int(bbox[0]), 0, img.Width)
	y1 := clampInt(int(bbox[1]), 0, img.Height)
	x2 := clampInt(int(bbox[2]), 0, img.Width)
	y2 := clampInt(int(bbox[3]), 0, img.Height)

	if x2-x1 < 2 || y2-y1 < 2 {
		return QualityScore{}
	}

	gray := grayscaleCrop(img, x1, y1, x2, y2)

	brightness := assessBrightness(gray)
	sharpness := assessSharpness(gray)
	faceSize := assessFaceSize(x1, y1, x2, y2)
	faceAngle := assessFaceAngle(landmarks)

	overall := brightness*0.20 + sharpness*0.30 + faceSize*0.25 + faceAngle*0.25

	return QualityScore{
		Overall:    overall,
		Brightness: brightness,
		Sharpness:  sharpness,
		FaceSize:   faceSize,
		FaceAngle:  faceAngle,
	}
}

// grayImage is a flat single-channel float buffer, wide enough to carry
// its own stride for the Laplacian stencil below.
type grayImage struct {
	w, h int
	pix  []float32
}

func (g *grayImage) at(x, y int) float32 {
	if x < 0 {
		x = 0
	}
	if x >= g.w {
		x = g.w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= g.h {
		y = g.h - 1
	}
	return g.pix[y*g.w+x]
}

// grayscaleCrop extracts [x1,y1)-[x2,y2) from img's packed BGR buffer and
// converts to luma using the Rec. 601 weights OpenCV's
// cv2.COLOR_BGR2GRAY uses.
func grayscaleCrop(img *imaging.Image, x1, y1, x2, y2 int) *grayImage {
	w := x2 - x1
	h := y2 - y1
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := ((y+y1)*img.Width + (x + x1)) * 3
			b := float32(img.Pix[o])
			g := float32(img.Pix[o+1])
			r := float32(img.Pix[o+2])
			out[y*w+x] = 0.114*b + 0.587*g + 0.299*r
		}
	}
	return &grayImage{w: w, h: h, pix: out}
}

func assessBrightness(gray *grayImage) float32 {
	var sum float32
	for _, v := range gray.pix {
		sum += v
	}
	mean := sum / float32(len(gray.pix))

	switch {
	case mean >= 80 && mean <= 180:
		return 1.0
	case mean < 40 || mean > 220:
		return 0.2
	case mean < 80:
		return 0.2 + 0.8*(mean-40)/40
	default:
		return 0.2 + 0.8*(220-mean)/40
	}
}

// assessSharpness scores focus via the variance of a 3x3 Laplacian
// response, the same statistic as cv2.Laplacian(gray, cv2.CV_64F).var().
func assessSharpness(gray *grayImage) float32 {
	lapVar := laplacianVariance(gray)

	switch {
	case lapVar > 500:
		return 1.0
	case lapVar > 100:
		return 0.5 + 0.5*(lapVar-100)/400
	default:
		return float32(math.Max(0, float64(lapVar)/200))
	}
}

// laplacianVariance applies the OpenCV default 3x3 Laplacian kernel
// (0,1,0 / 1,-4,1 / 0,1,0) with edge-replicated borders, then returns the
// population variance of the response.
func laplacianVariance(gray *grayImage) float32 {
	n := gray.w * gray.h
	if n == 0 {
		return 0
	}

	resp := make([]float32, n)
	var sum float32
	for y := 0; y < gray.h; y++ {
		for x := 0; x < gray.w; x++ {
			v := gray.at(x-1, y) + gray.at(x+1, y) + gray.at(x, y-1) + gray.at(x, y+1) - 4*gray.at(x, y)
			resp[y*gray.w+x] = v
			sum += v
		}
	}

	mean := sum / float32(n)
	var variance float32
	for _, v := range resp {
		d := v - mean
		variance += d * d
	}
	return variance / float32(n)
}

func assessFaceSize(x1, y1, x2, y2 int) float32 {
	w := x2 - x1
	h := y2 - y1
	size := w
	if h < size {
		size = h
	}

	switch {
	case size >= 200:
		return 1.0
	case size >= 100:
		return 0.5 + 0.5*float32(size-100)/100
	case size >= 50:
		return 0.2 + 0.3*float32(size-50)/50
	default:
		return float32(math.Max(0, float64(size)/50*0.2))
	}
}

// assessFaceAngle scores how frontal the face is from the eye/nose
// landmarks: yaw from horizontal nose offset relative to eye spacing,
// pitch from vertical nose offset relative to the expected frontal ratio.
func assessFaceAngle(landmarks [5][2]float32) float32 {
	leftEye := landmarks[0]
	rightEye := landmarks[1]
	nose := landmarks[2]

	eyeCenterX := (leftEye[0] + rightEye[0]) / 2
	eyeCenterY := (leftEye[1] + rightEye[1]) / 2
	eyeDist := float32(math.Hypot(float64(rightEye[0]-leftEye[0]), float64(rightEye[1]-leftEye[1])))

	if eyeDist < 1 {
		return 0.0
	}

	yawRatio := float32(math.Abs(float64(nose[0]-eyeCenterX))) / (eyeDist / 2)
	yawScore := float32(math.Max(0, float64(1-yawRatio)))

	noseYOffset := nose[1] - eyeCenterY
	expectedOffset := eyeDist * 0.35
	denom := expectedOffset
	if denom < 1 {
		denom = 1
	}
	pitchRatio := float32(math.Abs(float64(noseYOffset-expectedOffset))) / denom
	pitchScore := float32(math.Max(0, float64(1-pitchRatio)))

	return (yawScore + pitchScore) / 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
