package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunarithm/facelogix/internal/vision"
	"github.com/lunarithm/facelogix/pkg/dto"
)

// PipelineHandler exposes the vision pipeline's three stateless contracts
// directly over HTTP — detect, embed, liveness — plus its own health
// probe. Images arrive as multipart uploads; errors map to the pipeline
// error taxonomy in writePipelineError.
type PipelineHandler struct {
	pipeline *vision.Pipeline
}

func NewPipelineHandler(p *vision.Pipeline) *PipelineHandler {
	return &PipelineHandler{pipeline: p}
}

func (h *PipelineHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy", ModelsLoaded: h.pipeline.ModelsLoaded()})
}

func (h *PipelineHandler) Detect(c *gin.Context) {
	imageData, err := readImageUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	faces, err := h.pipeline.Detect(c.Request.Context(), imageData)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	resp := dto.DetectResponse{Faces: make([]dto.FaceBox, len(faces)), Count: len(faces)}
	for i, f := range faces {
		resp.Faces[i] = dto.FaceBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3], Confidence: f.Confidence}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PipelineHandler) Embed(c *gin.Context) {
	imageData, err := readImageUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.pipeline.Embed(c.Request.Context(), imageData)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.EmbedResponse{
		Embedding:    result.Embedding,
		QualityScore: result.Quality.Overall,
		BBox: dto.FaceBox{
			X1: result.BBox[0], Y1: result.BBox[1], X2: result.BBox[2], Y2: result.BBox[3],
		},
	})
}

func (h *PipelineHandler) Liveness(c *gin.Context) {
	frame1, _, err := c.Request.FormFile("frame1")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame1 file required"})
		return
	}
	defer frame1.Close()
	frame2, _, err := c.Request.FormFile("frame2")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame2 file required"})
		return
	}
	defer frame2.Close()

	data1, err := io.ReadAll(frame1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read frame1 failed"})
		return
	}
	data2, err := io.ReadAll(frame2)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read frame2 failed"})
		return
	}

	result, err := h.pipeline.Liveness(c.Request.Context(), data1, data2)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.LivenessResponse{
		IsLive:     result.IsLive,
		Confidence: result.Confidence,
		Reason:     string(result.Reason),
	})
}

func readImageUpload(c *gin.Context) ([]byte, error) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		return nil, errors.New("image file required")
	}
	defer file.Close()
	return io.ReadAll(file)
}

// writePipelineError maps a vision.Error's Kind to its HTTP status and
// wire body; any other error is a 500.
func writePipelineError(c *gin.Context, err error) {
	var visionErr *vision.Error
	if !errors.As(err, &visionErr) {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error(), Kind: "internal"})
		return
	}

	status := http.StatusInternalServerError
	switch visionErr.Kind {
	case vision.KindInvalidImage:
		status = http.StatusBadRequest
	case vision.KindNoFace:
		status = http.StatusBadRequest
	case vision.KindLowQuality:
		status = http.StatusBadRequest
	case vision.KindModelNotLoaded:
		status = http.StatusServiceUnavailable
	case vision.KindServiceTimeout:
		status = http.StatusGatewayTimeout
	case vision.KindTransientInference:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, dto.ErrorResponse{Error: visionErr.Error(), Kind: string(visionErr.Kind)})
}
