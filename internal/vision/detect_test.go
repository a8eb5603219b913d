package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lunarithm/facelogix/internal/imaging"
)

func newBareDetector(minFaceSize float32, maxFaces int) *Detector {
	return &Detector{
		inputW:      640,
		inputH:      640,
		minFaceSize: minFaceSize,
		maxFaces:    maxFaces,
		anchorCache: make(map[[2]int][]anchor),
	}
}

func TestAnchorCountMatchesDerivedTotal(t *testing.T) {
	d := newBareDetector(50, 10)

	// 80x80 + 40x40 + 20x20 grid cells at 2 anchors/cell for a 640x640
	// input = 2*(6400+1600+400) = 16800, matching the det_10g graph's
	// fixed per-stride output row counts.
	assert.Equal(t, 16800, d.AnchorCount(640, 640))
}

func TestAnchorsForIsCachedAndStrideOrdered(t *testing.T) {
	d := newBareDetector(50, 10)

	anchors := d.anchorsFor(640, 640)
	assert.Len(t, anchors, 16800)

	// stride-8 anchors come first (80*80*2 = 12800 of them), all tagged stride 8.
	for _, a := range anchors[:12800] {
		assert.Equal(t, float32(8), a.stride)
	}
	for _, a := range anchors[12800:12800+3200] {
		assert.Equal(t, float32(16), a.stride)
	}
	for _, a := range anchors[12800+3200:] {
		assert.Equal(t, float32(32), a.stride)
	}

	again := d.anchorsFor(640, 640)
	assert.Same(t, &anchors[0], &again[0], "second call should return the cached slice, not recompute")
}

func TestAnchorsForIsKeyedByInputSize(t *testing.T) {
	d := newBareDetector(50, 10)

	a := d.AnchorCount(640, 640)
	b := d.AnchorCount(320, 320)

	assert.Equal(t, 16800, a)
	assert.Equal(t, 4200, b)
}

func TestPreprocessLetterboxesAndNormalizes(t *testing.T) {
	d := newBareDetector(50, 10)

	// 320x160 all-white: scale = 640/320 = 2, resized 640x320, centered
	// vertically with 160px bars top and bottom.
	img := &imaging.Image{Width: 320, Height: 160, Pix: make([]byte, 320*160*3)}
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	data, lb := d.Preprocess(img)

	assert.Equal(t, float32(2), lb.scale)
	assert.Equal(t, float32(0), lb.padW)
	assert.Equal(t, float32(160), lb.padH)
	assert.Len(t, data, 3*640*640)

	// Letterbox bars are zero pixels normalized, not zero tensor values.
	padValue := float64((0 - 127.5) / 128.0)
	assert.InDelta(t, padValue, float64(data[0]), 1e-6, "top-left of the top bar")
	assert.InDelta(t, padValue, float64(data[639*640+639]), 1e-6, "bottom-right of the bottom bar")

	// Image region: white normalizes to (255-127.5)/128 in every channel.
	white := float64((255 - 127.5) / 128.0)
	idx := 160*640 + 0 // first image row, first column
	assert.InDelta(t, white, float64(data[idx]), 1e-6)
	assert.InDelta(t, white, float64(data[640*640+idx]), 1e-6)
	assert.InDelta(t, white, float64(data[2*640*640+idx]), 1e-6)
}

func TestIoUIdenticalBoxesIsOne(t *testing.T) {
	box := [4]float32{10, 10, 50, 50}
	assert.InDelta(t, 1.0, float64(iou(box, box)), 1e-6)
}

func TestIoUDisjointBoxesIsZero(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	b := [4]float32{100, 100, 110, 110}
	assert.Equal(t, float32(0), iou(a, b))
}

func TestIoUPartialOverlap(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	b := [4]float32{5, 5, 15, 15}
	// intersection 5x5=25, union 100+100-25=175
	assert.InDelta(t, 25.0/175.0, float64(iou(a, b)), 1e-6)
}

func TestNMSSuppressesOverlappingLowerConfidence(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.8}, // overlaps heavily with the first
		{BBox: [4]float32{100, 100, 110, 110}, Confidence: 0.7},
	}

	kept := nms(dets, 0.4)

	assert.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}

func TestNMSEmptyInput(t *testing.T) {
	assert.Empty(t, nms(nil, 0.4))
}

func TestUnletterboxAndFilterDropsBelowMinFaceSize(t *testing.T) {
	d := newBareDetector(50, 10)
	lb := letterbox{scale: 1, padW: 0, padH: 0}

	dets := []Detection{
		{BBox: [4]float32{0, 0, 20, 20}, Confidence: 0.9},   // 20px, below floor
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.8}, // 100px, kept
	}

	out := d.unletterboxAndFilter(dets, lb, 640, 640)

	assert.Len(t, out, 1)
	assert.Equal(t, float32(0.8), out[0].Confidence)
}

func TestUnletterboxAndFilterCapsAtMaxFaces(t *testing.T) {
	d := newBareDetector(10, 2)
	lb := letterbox{scale: 1, padW: 0, padH: 0}

	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.5},
		{BBox: [4]float32{200, 200, 300, 300}, Confidence: 0.9},
		{BBox: [4]float32{400, 400, 500, 500}, Confidence: 0.7},
	}

	out := d.unletterboxAndFilter(dets, lb, 640, 640)

	assert.Len(t, out, 2)
	assert.Equal(t, float32(0.9), out[0].Confidence, "highest confidence sorts first")
	assert.Equal(t, float32(0.7), out[1].Confidence)
}

func TestUnletterboxAndFilterUndoesLetterboxPadding(t *testing.T) {
	d := newBareDetector(10, 10)
	lb := letterbox{scale: 2, padW: 10, padH: 20}

	dets := []Detection{
		{BBox: [4]float32{10, 20, 210, 220}, Confidence: 0.9},
	}

	out := d.unletterboxAndFilter(dets, lb, 1000, 1000)

	assert.Len(t, out, 1)
	assert.InDelta(t, 0, float64(out[0].BBox[0]), 1e-5)
	assert.InDelta(t, 0, float64(out[0].BBox[1]), 1e-5)
	assert.InDelta(t, 100, float64(out[0].BBox[2]), 1e-5)
	assert.InDelta(t, 100, float64(out[0].BBox[3]), 1e-5)
}

func TestClampF(t *testing.T) {
	assert.Equal(t, float32(0), clampF(-5, 0, 10))
	assert.Equal(t, float32(10), clampF(15, 0, 10))
	assert.Equal(t, float32(5), clampF(5, 0, 10))
}
