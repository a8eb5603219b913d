package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lunarithm/facelogix/internal/coordinator"
	"github.com/lunarithm/facelogix/internal/models"
	"github.com/lunarithm/facelogix/internal/queue"
	"github.com/lunarithm/facelogix/internal/storage"
	"github.com/lunarithm/facelogix/internal/vision"
	"github.com/lunarithm/facelogix/pkg/dto"
)

// AttendanceHandler serves the check-in/check-out contract: it runs the
// uploaded frame through the embed pipeline, hands the embedding to the
// coordinator for the recognition decision, and broadcasts the result
// over NATS for connected kiosk WebSocket clients.
type AttendanceHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	coord    *coordinator.Coordinator
	producer *queue.Producer
	EmbedFn  EmbedFunc
}

func NewAttendanceHandler(db *storage.PostgresStore, minio *storage.MinIOStore, coord *coordinator.Coordinator, producer *queue.Producer) *AttendanceHandler {
	return &AttendanceHandler{db: db, minio: minio, coord: coord, producer: producer}
}

func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	h.process(c, coordinator.ActionCheckIn)
}

func (h *AttendanceHandler) CheckOut(c *gin.Context) {
	h.process(c, coordinator.ActionCheckOut)
}

func (h *AttendanceHandler) process(c *gin.Context, action coordinator.Action) {
	var req dto.AttendanceRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := h.db.GetOrganization(c.Request.Context(), req.OrgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if org == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()
	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	result, err := h.EmbedFn(c.Request.Context(), imageData)
	if err != nil {
		h.recordEmbedFailure(c, req.OrgID, req.DeviceID, action, err)
		return
	}

	snapshotKey := h.storeSnapshot(c, req.OrgID, imageData, header.Header.Get("Content-Type"))

	res, err := h.coord.Process(c.Request.Context(), org, coordinator.Request{
		OrgID:       req.OrgID,
		DeviceID:    req.DeviceID,
		Embedding:   result.Embedding,
		Quality:     result.Quality.Overall,
		Action:      action,
		SnapshotKey: snapshotKey,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := toAttendanceResponse(res)
	h.broadcast(c, req.OrgID, resp)
	c.JSON(http.StatusOK, resp)
}

// recordEmbedFailure maps a pipeline error into the attendance status
// vocabulary: KindNoFace/KindLowQuality become no_face_detected (a
// request-path outcome, reported to the caller with success=false but no
// server error); everything else is audited as a failed row so the trail
// survives a pipeline or transport outage.
func (h *AttendanceHandler) recordEmbedFailure(c *gin.Context, orgID uuid.UUID, deviceID string, action coordinator.Action, err error) {
	var visionErr *vision.Error
	status := models.StatusFailed
	reason := "face_service_unavailable"
	httpStatus := http.StatusServiceUnavailable

	if errors.As(err, &visionErr) {
		switch visionErr.Kind {
		case vision.KindNoFace:
			status = models.StatusNoFaceDetected
			reason = "no_face_detected"
			httpStatus = http.StatusOK
		case vision.KindLowQuality:
			status = models.StatusNoFaceDetected
			reason = "low_quality"
			httpStatus = http.StatusOK
		case vision.KindInvalidImage:
			reason = "invalid_image"
			httpStatus = http.StatusBadRequest
		default:
			reason = string(visionErr.Kind)
		}
	}

	_ = h.coord.RecordFailure(c.Request.Context(), orgID, deviceID, action, status, reason)

	resp := dto.AttendanceResponse{Success: false, Status: string(status), Message: "recognition failed: " + reason}
	c.JSON(httpStatus, resp)
}

// storeSnapshot uploads the check-in/check-out frame under
// attendance/<org_id>/<uuid>.jpg, mirroring the faces/<user_id>/... key
// scheme UserHandler.AddFace uses. A store failure is logged and tolerated
// rather than failing the attendance decision itself — the snapshot is an
// audit aid, not part of the recognition contract.
func (h *AttendanceHandler) storeSnapshot(c *gin.Context, orgID uuid.UUID, imageData []byte, contentType string) string {
	if h.minio == nil {
		return ""
	}
	key := "attendance/" + orgID.String() + "/" + uuid.New().String() + ".jpg"
	if err := h.minio.PutObject(c.Request.Context(), key, imageData, contentType); err != nil {
		slog.Warn("store attendance snapshot failed", "org_id", orgID, "error", err)
		return ""
	}
	return key
}

func (h *AttendanceHandler) broadcast(c *gin.Context, orgID uuid.UUID, resp dto.AttendanceResponse) {
	if h.producer == nil {
		return
	}
	evt := dto.WSEvent{Type: "attendance", OrgID: orgID, Data: resp}
	_ = h.producer.PublishAttendanceEvent(c.Request.Context(), orgID.String(), evt)
}

// ListEvents returns a filtered page of attendance_events for one
// organization.
func (h *AttendanceHandler) ListEvents(c *gin.Context) {
	orgID, err := uuid.Parse(c.Query("org_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}

	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	events, total, err := h.db.ListAttendanceEvents(c.Request.Context(), orgID, nil, c.Query("status"), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "total": total})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func toAttendanceResponse(res *coordinator.Result) dto.AttendanceResponse {
	resp := dto.AttendanceResponse{
		Status:          string(res.Event.Status),
		ConfidenceScore: res.Event.Confidence,
		UserName:        res.UserName,
	}
	switch res.Event.Status {
	case models.StatusOnTime, models.StatusLate:
		resp.Success = true
		resp.UserID = res.Event.UserID
		ts := res.Event.Timestamp
		resp.CheckInTime = &ts
		resp.Message = "welcome, " + res.UserName
	case models.StatusAlreadyCheckedIn:
		resp.Success = false
		resp.UserID = res.Event.UserID
		resp.Message = res.UserName + " already checked in today"
	case models.StatusUnknownUser:
		resp.Success = false
		resp.Message = "face not recognized"
	default:
		resp.Success = false
		resp.Message = "recognition failed"
	}
	return resp
}
