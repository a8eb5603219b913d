package vision

import (
	"context"
	"runtime"
	"time"

	"github.com/lunarithm/facelogix/internal/config"
	"github.com/lunarithm/facelogix/internal/imaging"
	"github.com/lunarithm/facelogix/internal/observability"
)

// Pipeline composes the model registry and the decode/detect/align/
// quality/embed/liveness stages behind three stateless, idempotent
// request contracts. No state crosses requests; the models are the only
// shared (read-only) resource.
type Pipeline struct {
	registry *Registry
	cfg      config.VisionConfig

	// sem bounds concurrent in-flight inferences to physical cores, not
	// to request count. ONNX sessions serialize internally anyway, but
	// the semaphore keeps queued requests from piling up goroutines and
	// tensor memory ahead of the bottleneck.
	sem chan struct{}
}

// NewPipeline builds the Pipeline Service around a Model Registry.
func NewPipeline(cfg config.VisionConfig) *Pipeline {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pipeline{
		registry: NewRegistry(cfg),
		cfg:      cfg,
		sem:      make(chan struct{}, workers),
	}
}

// Warmup loads and warms both graphs eagerly (normally called once at
// startup so the first real request doesn't pay model-load latency).
func (p *Pipeline) Warmup() error {
	return p.registry.Warmup()
}

// Close releases the registry's model handles.
func (p *Pipeline) Close() {
	p.registry.Clear()
}

// ModelsLoaded reports the model registry's actual warm-up state, for
// the /health probe.
func (p *Pipeline) ModelsLoaded() bool {
	return p.registry.ModelsLoaded()
}

// ServiceTimeout is the client-facing per-call budget from
// FACE_SERVICE_TIMEOUT, exposed so HTTP handlers can derive a context
// deadline.
func (p *Pipeline) ServiceTimeout() time.Duration {
	return p.cfg.ServiceTimeout
}

func (p *Pipeline) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return newError(KindServiceTimeout, "acquire inference slot", ctx.Err())
	}
}

func (p *Pipeline) release() { <-p.sem }

// observeStage records a pipeline stage's wall-clock duration. Call with
// defer observeStage("detect", time.Now()) at the top of a stage function.
func observeStage(stage string, start time.Time) {
	observability.InferenceDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// DetectedFace is the wire-shape-agnostic result of the Detect contract: a
// bounding box and confidence, with landmarks retained for callers (Embed,
// Liveness) that need the full detection.
type DetectedFace struct {
	BBox       [4]float32
	Confidence float32
	Landmarks  [5][2]float32
}

// Detect decodes the image and returns every face found, sorted by
// confidence descending, capped at MAX_FACES. An empty list is a
// legitimate result, never an error.
func (p *Pipeline) Detect(ctx context.Context, imageBytes []byte) ([]DetectedFace, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	defer observeStage("detect", time.Now())

	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, newError(KindInvalidImage, "decode image", err)
	}

	det, err := p.registry.GetDetector()
	if err != nil {
		return nil, err
	}

	dets, err := det.DetectImage(img)
	if err != nil {
		return nil, err
	}

	out := make([]DetectedFace, len(dets))
	for i, d := range dets {
		out[i] = DetectedFace{BBox: d.BBox, Confidence: d.Confidence, Landmarks: d.Landmarks}
	}
	observability.FacesDetected.Add(float64(len(out)))
	return out, nil
}

// EmbedResult is the outcome of the Embed contract.
type EmbedResult struct {
	Embedding []float32
	Quality   QualityScore
	BBox      [4]float32
}

// Embed decodes, detects (highest-confidence face), gates on
// MIN_QUALITY_SCORE, aligns, and extracts the embedding. Errors are
// KindInvalidImage, KindNoFace, or KindLowQuality for the image itself, and
// KindServiceTimeout, KindModelNotLoaded, or KindTransientInference when the
// inference slot, the models, or a model run fail.
func (p *Pipeline) Embed(ctx context.Context, imageBytes []byte) (*EmbedResult, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	defer observeStage("embed", time.Now())

	img, err := imaging.Decode(imageBytes)
	if err != nil {
		observability.EmbedRequests.WithLabelValues("invalid_image").Inc()
		return nil, newError(KindInvalidImage, "decode image", err)
	}

	det, err := p.registry.GetDetector()
	if err != nil {
		return nil, err
	}
	dets, err := det.DetectImage(img)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		observability.EmbedRequests.WithLabelValues("no_face").Inc()
		return nil, newError(KindNoFace, "no face detected", nil)
	}

	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	quality := AssessQuality(img, best.BBox, best.Landmarks)
	if float64(quality.Overall) < p.cfg.MinQualityScore {
		observability.EmbedRequests.WithLabelValues("low_quality").Inc()
		return nil, newError(KindLowQuality, "quality below floor", nil)
	}

	aligned := Align(img, best.Landmarks)

	emb, err := p.registry.GetEmbedder()
	if err != nil {
		return nil, err
	}
	embInput := preprocessForEmbedding(aligned)
	embedding, err := emb.Extract(embInput)
	if err != nil {
		observability.EmbedRequests.WithLabelValues("inference_error").Inc()
		return nil, err
	}

	observability.EmbedRequests.WithLabelValues("ok").Inc()
	return &EmbedResult{Embedding: embedding, Quality: quality, BBox: best.BBox}, nil
}

// BatchEmbedResult is one image's outcome within an EmbedBatch call: either
// a successful EmbedResult or the error that image produced, keyed by its
// position in the input slice so callers (bulk face enrollment) can report
// per-image failures without aborting the whole batch.
type BatchEmbedResult struct {
	Result *EmbedResult
	Err    error
}

// EmbedBatch decodes, detects, quality-gates, and aligns each image, then
// stacks every image that cleared the gate into a single
// Embedder.ExtractBatch call instead of Embed's one-image-at-a-time path.
// Used for bulk face enrollment, where a caller has many images for one
// gallery and the embedding stage is the dominant cost worth batching.
func (p *Pipeline) EmbedBatch(ctx context.Context, imagesBytes [][]byte) ([]BatchEmbedResult, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	defer observeStage("embed_batch", time.Now())

	results := make([]BatchEmbedResult, len(imagesBytes))

	det, err := p.registry.GetDetector()
	if err != nil {
		return nil, err
	}
	emb, err := p.registry.GetEmbedder()
	if err != nil {
		return nil, err
	}

	type prepared struct {
		idx     int
		bbox    [4]float32
		quality QualityScore
	}
	var toEmbed []prepared
	var embInputs [][]float32

	for i, imageBytes := range imagesBytes {
		img, err := imaging.Decode(imageBytes)
		if err != nil {
			results[i] = BatchEmbedResult{Err: newError(KindInvalidImage, "decode image", err)}
			continue
		}

		dets, err := det.DetectImage(img)
		if err != nil {
			results[i] = BatchEmbedResult{Err: err}
			continue
		}
		if len(dets) == 0 {
			results[i] = BatchEmbedResult{Err: newError(KindNoFace, "no face detected", nil)}
			continue
		}

		best := dets[0]
		for _, d := range dets[1:] {
			if d.Confidence > best.Confidence {
				best = d
			}
		}

		quality := AssessQuality(img, best.BBox, best.Landmarks)
		if float64(quality.Overall) < p.cfg.MinQualityScore {
			results[i] = BatchEmbedResult{Err: newError(KindLowQuality, "quality below floor", nil)}
			continue
		}

		aligned := Align(img, best.Landmarks)
		embInputs = append(embInputs, preprocessForEmbedding(aligned))
		toEmbed = append(toEmbed, prepared{idx: i, bbox: best.BBox, quality: quality})
	}

	if len(embInputs) == 0 {
		return results, nil
	}

	embeddings, err := emb.ExtractBatch(embInputs)
	if err != nil {
		observability.EmbedRequests.WithLabelValues("inference_error").Inc()
		for _, p := range toEmbed {
			results[p.idx] = BatchEmbedResult{Err: err}
		}
		return results, nil
	}

	observability.EmbedRequests.WithLabelValues("ok").Add(float64(len(embeddings)))
	for i, p := range toEmbed {
		results[p.idx] = BatchEmbedResult{Result: &EmbedResult{
			Embedding: embeddings[i],
			Quality:   p.quality,
			BBox:      p.bbox,
		}}
	}
	return results, nil
}

// Liveness detects faces in both frames and compares landmark motion
// between the top face of each.
func (p *Pipeline) Liveness(ctx context.Context, frame1, frame2 []byte) (*LivenessResult, error) {
	defer observeStage("liveness", time.Now())

	faces1, err := p.Detect(ctx, frame1)
	if err != nil {
		return nil, err
	}
	if len(faces1) == 0 {
		return &LivenessResult{IsLive: false, Confidence: 0, Reason: ReasonNoFaceFrame1}, nil
	}

	faces2, err := p.Detect(ctx, frame2)
	if err != nil {
		return nil, err
	}
	if len(faces2) == 0 {
		return &LivenessResult{IsLive: false, Confidence: 0, Reason: ReasonNoFaceFrame2}, nil
	}

	result := CheckLiveness(faces1[0].Landmarks, faces2[0].Landmarks)
	observability.LivenessRequests.WithLabelValues(string(result.Reason)).Inc()
	return &result, nil
}

// preprocessForEmbedding converts an AlignedFace (packed BGR) into the CHW
// RGB float32 tensor the embedder expects: BGR->RGB, (p-127.5)/127.5,
// HWC->CHW.
func preprocessForEmbedding(face *AlignedFace) []float32 {
	planeSize := alignedSize * alignedSize
	data := make([]float32, 3*planeSize)
	for i := 0; i < planeSize; i++ {
		b := float32(face.Pix[i*3])
		g := float32(face.Pix[i*3+1])
		r := float32(face.Pix[i*3+2])
		data[i] = (r - 127.5) / 127.5
		data[planeSize+i] = (g - 127.5) / 127.5
		data[2*planeSize+i] = (b - 127.5) / 127.5
	}
	return data
}
