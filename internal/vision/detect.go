package vision

import (
	"fmt"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lunarithm/facelogix/internal/imaging"
)

// Detection represents a detected face, in original image pixel coordinates.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32 // left_eye, right_eye, nose, left_mouth, right_mouth
}

// Detector runs RetinaFace det_10g face detection via ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int

	minFaceSize float32
	maxFaces    int

	anchorMu    sync.Mutex
	anchorCache map[[2]int][]anchor
}

// stride configuration for RetinaFace det_10g, fixed graph order.
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per grid cell at each stride.
const anchorsPerStride = 2

type anchor struct {
	cx, cy float32
	stride float32
}

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g output shapes (no batch dimension):
	// scores:    [12800,1] [3200,1] [800,1]     -> stride 8, 16, 32
	// bboxes:    [12800,4] [3200,4] [800,4]
	// landmarks: [12800,10] [3200,10] [800,10]
	type outputSpec struct {
		name  string
		shape ort.Shape
	}

	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
		minFaceSize:   50,
		maxFaces:      10,
		anchorCache:   make(map[[2]int][]anchor),
	}, nil
}

// SetFilters configures the post-NMS MIN_FACE_SIZE/MAX_FACES filters.
func (d *Detector) SetFilters(minFaceSize float32, maxFaces int) {
	d.minFaceSize = minFaceSize
	d.maxFaces = maxFaces
}

// letterbox holds the parameters needed to undo the resize+pad preprocessing
// when mapping detections back to original image coordinates.
type letterbox struct {
	scale float32
	padW  float32
	padH  float32
}

// Preprocess resizes img preserving aspect ratio so the larger side is
// inputW/inputH, pads with zeros to center it, normalizes per channel as
// (pixel-127.5)/128.0, and transposes HWC->CHW.
func (d *Detector) Preprocess(img *imaging.Image) ([]float32, letterbox) {
	scale := float32(d.inputW) / float32(img.Width)
	if hs := float32(d.inputH) / float32(img.Height); hs < scale {
		scale = hs
	}

	resizedW := int(float32(img.Width) * scale)
	resizedH := int(float32(img.Height) * scale)
	padW := (d.inputW - resizedW) / 2
	padH := (d.inputH - resizedH) / 2

	data := make([]float32, 3*d.inputH*d.inputW)
	planeSize := d.inputH * d.inputW

	// Padding is zero pixels normalized, not zero tensor values: the model
	// saw black letterbox bars in training, so the bars get (0-127.5)/128.
	const padValue = (0 - 127.5) / 128.0
	for i := range data {
		data[i] = padValue
	}

	for y := padH; y < padH+resizedH; y++ {
		srcY := int(float32(y-padH) / scale)
		if srcY >= img.Height {
			srcY = img.Height - 1
		}
		for x := padW; x < padW+resizedW; x++ {
			srcX := int(float32(x-padW) / scale)
			if srcX >= img.Width {
				srcX = img.Width - 1
			}
			srcOff := (srcY*img.Width + srcX) * 3
			b := img.Pix[srcOff]
			g := img.Pix[srcOff+1]
			r := img.Pix[srcOff+2]
			idx := y*d.inputW + x
			// The detection graph consumes BGR; only the embedder
			// converts to RGB.
			data[idx] = (float32(b) - 127.5) / 128.0
			data[planeSize+idx] = (float32(g) - 127.5) / 128.0
			data[2*planeSize+idx] = (float32(r) - 127.5) / 128.0
		}
	}

	return data, letterbox{scale: scale, padW: float32(padW), padH: float32(padH)}
}

// anchorsFor returns the cached anchor set for a (height,width) input,
// computing it once on first use. Guarded with a mutex rather than a
// lock-free publish since contention is negligible: anchors are generated
// once per distinct input size, then only read.
func (d *Detector) anchorsFor(w, h int) []anchor {
	key := [2]int{h, w}

	d.anchorMu.Lock()
	defer d.anchorMu.Unlock()

	if cached, ok := d.anchorCache[key]; ok {
		return cached
	}

	var anchors []anchor
	for _, stride := range strides {
		fmW := w / stride
		fmH := h / stride
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				ax := (float32(cx) + 0.5) * float32(stride)
				ay := (float32(cy) + 0.5) * float32(stride)
				for a := 0; a < anchorsPerStride; a++ {
					anchors = append(anchors, anchor{cx: ax, cy: ay, stride: float32(stride)})
				}
			}
		}
	}

	d.anchorCache[key] = anchors
	return anchors
}

// AnchorCount exposes the total anchor count for the given input size, used
// by the anchor-count tests.
func (d *Detector) AnchorCount(w, h int) int {
	return len(d.anchorsFor(w, h))
}

// Detect runs face detection on an already-preprocessed input tensor:
// infer, decode, filter, NMS, size/count filter. No letterbox is undone, so
// boxes stay in the input tensor's pixel space.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, imgData)

	if err := d.session.Run(); err != nil {
		return nil, newError(KindTransientInference, "run detection", err)
	}

	detections := d.parseDetections()
	detections = nms(detections, 0.4)
	detections = d.unletterboxAndFilter(detections, letterbox{scale: 1, padW: 0, padH: 0}, origW, origH)

	return detections, nil
}

// DetectImage is the full detection path: takes a decoded Image, letterbox
// preprocesses it, infers, and returns faces in the image's own pixel space.
func (d *Detector) DetectImage(img *imaging.Image) ([]Detection, error) {
	data, lb := d.Preprocess(img)

	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, data)

	if err := d.session.Run(); err != nil {
		return nil, newError(KindTransientInference, "run detection", err)
	}

	detections := d.parseDetections()
	detections = nms(detections, 0.4)
	detections = d.unletterboxAndFilter(detections, lb, img.Width, img.Height)

	return detections, nil
}

// parseDetections decodes anchor-based RetinaFace outputs at strides
// 8, 16, 32, in letterboxed-input pixel space (no scaling back to the
// original image yet — that happens in unletterboxAndFilter).
func (d *Detector) parseDetections() []Detection {
	anchors := d.anchorsFor(d.inputW, d.inputH)

	var detections []Detection
	anchorIdx := 0
	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		n := fmW * fmH * anchorsPerStride

		for i := 0; i < n; i++ {
			score := scores[i]
			if score >= d.threshold {
				a := anchors[anchorIdx+i]
				st := a.stride

				x1 := a.cx - bboxes[i*4+0]*st
				y1 := a.cy - bboxes[i*4+1]*st
				x2 := a.cx + bboxes[i*4+2]*st
				y2 := a.cy + bboxes[i*4+3]*st

				var lm [5][2]float32
				for li := 0; li < 5; li++ {
					lm[li][0] = a.cx + landmarks[i*10+li*2]*st
					lm[li][1] = a.cy + landmarks[i*10+li*2+1]*st
				}

				detections = append(detections, Detection{
					BBox:       [4]float32{x1, y1, x2, y2},
					Confidence: score,
					Landmarks:  lm,
				})
			}
		}
		anchorIdx += n
	}

	return detections
}

// unletterboxAndFilter undoes the resize+pad, clamps to image bounds, drops
// boxes under MIN_FACE_SIZE or with non-positive area, sorts by confidence,
// and caps at MAX_FACES.
func (d *Detector) unletterboxAndFilter(detections []Detection, lb letterbox, origW, origH int) []Detection {
	out := detections[:0]
	for _, det := range detections {
		x1 := (det.BBox[0] - lb.padW) / lb.scale
		y1 := (det.BBox[1] - lb.padH) / lb.scale
		x2 := (det.BBox[2] - lb.padW) / lb.scale
		y2 := (det.BBox[3] - lb.padH) / lb.scale

		x1 = clampF(x1, 0, float32(origW))
		y1 = clampF(y1, 0, float32(origH))
		x2 = clampF(x2, 0, float32(origW))
		y2 = clampF(y2, 0, float32(origH))

		w := x2 - x1
		h := y2 - y1
		if w <= 0 || h <= 0 {
			continue
		}
		minSide := w
		if h < minSide {
			minSide = h
		}
		if minSide < d.minFaceSize {
			continue
		}

		det.BBox = [4]float32{x1, y1, x2, y2}
		lm := det.Landmarks
		for i := range lm {
			lm[i][0] = (lm[i][0] - lb.padW) / lb.scale
			lm[i][1] = (lm[i][1] - lb.padH) / lb.scale
		}
		det.Landmarks = lm

		out = append(out, det)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	if d.maxFaces > 0 && len(out) > d.maxFaces {
		out = out[:d.maxFaces]
	}
	return out
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs greedy Non-Maximum Suppression. Ties break by original index
// (sort.Slice is not stable, so we carry the index explicitly).
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return detections[order[i]].Confidence > detections[order[j]].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(order); i++ {
		oi := order[i]
		if !keep[oi] {
			continue
		}
		for j := i + 1; j < len(order); j++ {
			oj := order[j]
			if !keep[oj] {
				continue
			}
			if iou(detections[oi].BBox, detections[oj].BBox) > iouThreshold {
				keep[oj] = false
			}
		}
	}

	var result []Detection
	for _, idx := range order {
		if keep[idx] {
			result = append(result, detections[idx])
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
