package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder extracts 512-dim ArcFace embeddings. Extract runs against a
// session with fixed batch-1 bound tensors for the hot single-face request
// path; ExtractBatch runs against a separate DynamicAdvancedSession that
// accepts a variable batch dimension per call, so N faces infer in one ONNX
// Run instead of N. Both wrap the same graph and serialize independently,
// since onnxruntime_go sessions are not safe for concurrent Run calls.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	batchSession *ort.DynamicAdvancedSession
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads the ArcFace w600k_r50 ONNX model for face embedding
// extraction. opts may be nil (ORT defaults) or a pre-configured
// *ort.SessionOptions, matching NewDetector's signature.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	inputW, inputH := 112, 112
	embDim := 512

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	batchSession, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		opts,
	)
	if err != nil {
		session.Destroy()
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder batch session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		batchSession: batchSession,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Extract runs embedding extraction on a single aligned face crop.
// faceData must be CHW format [3, 112, 112], RGB, normalized to
// [-1, 1]. Returns an L2-normalized 512-dim vector (zero vector if the
// input is degenerate).
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	inputSlice := e.inputTensor.GetData()
	copy(inputSlice, faceData)

	if err := e.session.Run(); err != nil {
		return nil, newError(KindTransientInference, "run embedding", err)
	}

	outputData := e.outputTensor.GetData()
	embedding := make([]float32, e.embDim)
	copy(embedding, outputData)

	normalize(embedding)
	return embedding, nil
}

// ExtractBatch stacks N aligned faces into a single [N,3,112,112] tensor and
// runs one ONNX inference call against batchSession, normalizing each output
// row independently. Each faceData must be CHW [3,112,112], matching
// Extract's input contract.
func (e *Embedder) ExtractBatch(facesData [][]float32) ([][]float32, error) {
	if len(facesData) == 0 {
		return nil, nil
	}

	planeSize := e.inputW * e.inputH * 3
	flat := make([]float32, 0, len(facesData)*planeSize)
	for i, faceData := range facesData {
		if len(faceData) != planeSize {
			return nil, fmt.Errorf("extract batch item %d: expected %d values, got %d", i, planeSize, len(faceData))
		}
		flat = append(flat, faceData...)
	}

	inputShape := ort.NewShape(int64(len(facesData)), 3, int64(e.inputH), int64(e.inputW))
	inputTensor, err := ort.NewTensor(inputShape, flat)
	if err != nil {
		return nil, fmt.Errorf("create batch input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	inputs := []ort.Value{inputTensor}
	outputs := []ort.Value{nil}
	if err := e.batchSession.Run(inputs, outputs); err != nil {
		return nil, newError(KindTransientInference, "run batch embedding", err)
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected batch output tensor type")
	}
	outData := outTensor.GetData()

	out := make([][]float32, len(facesData))
	for i := range facesData {
		emb := make([]float32, e.embDim)
		copy(emb, outData[i*e.embDim:(i+1)*e.embDim])
		normalize(emb)
		out[i] = emb
	}
	return out, nil
}

// InputSize returns the expected face crop dimensions.
func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Embedder) EmbeddingDim() int {
	return e.embDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.batchSession != nil {
		e.batchSession.Destroy()
	}
}

// normalize performs L2 normalization in-place. A near-zero norm leaves v
// untouched rather than dividing by ~0; a zero vector is a failure
// signal, not a valid identity.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < 1e-10 {
		return
	}
	norm32 := float32(norm)
	for i := range v {
		v[i] /= norm32
	}
}

// CosineSimilarity returns the dot product of two already-normalized
// embeddings, which equals cosine similarity for unit vectors.
func CosineSimilarity(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
