package vision

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lunarithm/facelogix/internal/config"
	"github.com/lunarithm/facelogix/internal/observability"
)

// Registry is the process-wide model registry: it lazily loads, warms up,
// and hands out shared handles to the detector and embedder graphs.
// Handles are safe to share across goroutines; a first-load failure is
// sticky until Clear resets it.
type Registry struct {
	cfg config.VisionConfig

	mu       sync.Mutex
	detOnce  sync.Once
	embOnce  sync.Once
	detector *Detector
	embedder *Embedder
	detErr   error
	embErr   error

	loaded atomic.Bool
}

func NewRegistry(cfg config.VisionConfig) *Registry {
	return &Registry{cfg: cfg}
}

func (r *Registry) sessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if r.cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(r.cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set intra_op_threads: %w", err)
		}
	}
	if r.cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(r.cfg.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set inter_op_threads: %w", err)
		}
	}
	return opts, nil
}

// GetDetector lazily loads det_10g.onnx (or the configured file name).
// First-call failure is sticky and re-surfaced as ModelNotLoaded.
func (r *Registry) GetDetector() (*Detector, error) {
	r.detOnce.Do(func() {
		path := filepath.Join(r.cfg.ModelsDir, r.cfg.DetectorModel)
		opts, err := r.sessionOptions()
		if err != nil {
			r.detErr = newError(KindModelNotLoaded, "detector session options", err)
			return
		}
		det, err := NewDetector(path, float32(r.cfg.DetectionThreshold), opts)
		opts.Destroy()
		if err != nil {
			r.detErr = newError(KindModelNotLoaded, "load detector model "+path, err)
			return
		}
		det.SetFilters(float32(r.cfg.MinFaceSize), r.cfg.MaxFaces)
		r.detector = det
	})
	if r.detErr != nil {
		return nil, r.detErr
	}
	return r.detector, nil
}

// GetEmbedder lazily loads w600k_r50.onnx (or the configured file name).
func (r *Registry) GetEmbedder() (*Embedder, error) {
	r.embOnce.Do(func() {
		path := filepath.Join(r.cfg.ModelsDir, r.cfg.EmbedderModel)
		opts, err := r.sessionOptions()
		if err != nil {
			r.embErr = newError(KindModelNotLoaded, "embedder session options", err)
			return
		}
		emb, err := NewEmbedder(path, opts)
		opts.Destroy()
		if err != nil {
			r.embErr = newError(KindModelNotLoaded, "load embedder model "+path, err)
			return
		}
		r.embedder = emb
	})
	if r.embErr != nil {
		return nil, r.embErr
	}
	return r.embedder, nil
}

// Warmup runs one dummy inference per graph using zero tensors, so the
// first real request doesn't pay session-initialization latency.
func (r *Registry) Warmup() error {
	det, err := r.GetDetector()
	if err != nil {
		return err
	}
	emb, err := r.GetEmbedder()
	if err != nil {
		return err
	}

	w, h := det.InputSize()
	zeros := make([]float32, 3*h*w)
	if _, err := det.Detect(zeros, w, h); err != nil {
		return newError(KindModelNotLoaded, "detector warmup", err)
	}

	ew, eh := emb.InputSize()
	ezeros := make([]float32, 3*eh*ew)
	if _, err := emb.Extract(ezeros); err != nil {
		return newError(KindModelNotLoaded, "embedder warmup", err)
	}
	r.loaded.Store(true)
	observability.ModelsLoaded.Set(1)
	return nil
}

// ModelsLoaded reports whether Warmup has completed successfully and Clear
// hasn't run since, the truth value /health surfaces as models_loaded.
func (r *Registry) ModelsLoaded() bool {
	return r.loaded.Load()
}

// Clear releases both handles and resets the registry so a later
// GetDetector/GetEmbedder call reloads from disk.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.detector != nil {
		r.detector.Close()
	}
	if r.embedder != nil {
		r.embedder.Close()
	}
	r.detector = nil
	r.embedder = nil
	r.detErr = nil
	r.embErr = nil
	r.detOnce = sync.Once{}
	r.embOnce = sync.Once{}
	r.loaded.Store(false)
	observability.ModelsLoaded.Set(0)
}
