package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lunarithm/facelogix/internal/models"
	"github.com/lunarithm/facelogix/internal/storage"
	"github.com/lunarithm/facelogix/internal/vision"
	"github.com/lunarithm/facelogix/pkg/dto"
)

// EmbedFunc extracts a face embedding (and its quality score) from raw
// image bytes, bound to the vision Pipeline Service once it's warmed up.
type EmbedFunc func(ctx context.Context, imageData []byte) (*vision.EmbedResult, error)

// EmbedBatchFunc extracts face embeddings from many images in one inference
// call, bound to the vision Pipeline Service's EmbedBatch contract.
type EmbedBatchFunc func(ctx context.Context, imagesData [][]byte) ([]vision.BatchEmbedResult, error)

// UserHandler manages enrolled users and their gallery face records.
type UserHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	// EmbedFn and EmbedBatchFn are set once the vision pipeline is initialized.
	EmbedFn      EmbedFunc
	EmbedBatchFn EmbedBatchFunc
}

func NewUserHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *UserHandler {
	return &UserHandler{db: db, minio: minio}
}

func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	u := &models.User{OrgID: req.OrgID, Name: req.Name, Metadata: req.Metadata}
	if err := h.db.CreateUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toUserResponse(u))
}

func (h *UserHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	u, err := h.db.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

func (h *UserHandler) List(c *gin.Context) {
	orgID, err := uuid.Parse(c.Query("org_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}

	users, err := h.db.ListUsers(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": resp, "total": len(resp)})
}

func (h *UserHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.db.DeleteUser(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// AddFace accepts a multipart image upload, runs it through the Embed
// pipeline contract, and enrolls the resulting embedding as a gallery
// face record for the user.
func (h *UserHandler) AddFace(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	result, err := h.EmbedFn(c.Request.Context(), imageData)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	isPrimary := c.PostForm("is_primary") == "true"
	if count, _ := h.db.CountFaceRecords(c.Request.Context(), userID); count == 0 {
		isPrimary = true
	}

	sourceKey := "faces/" + userID.String() + "/" + uuid.New().String() + "_" + header.Filename
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	fr := &models.FaceRecord{
		UserID:    userID,
		OrgID:     user.OrgID,
		Embedding: result.Embedding,
		Quality:   result.Quality.Overall,
		IsPrimary: isPrimary,
		SourceKey: sourceKey,
	}
	if err := h.db.AddFaceRecord(c.Request.Context(), fr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toFaceRecordResponse(fr))
}

// AddFacesBulk accepts multiple multipart image uploads under the "images"
// field and enrolls each as a gallery face record for the user, running all
// images through a single batched embedder inference instead of one
// request per image. Per-image failures (no face, low quality,
// invalid image) are reported individually; the call fails outright for an
// invalid or unknown user, missing or unreadable uploads, an uninitialized
// pipeline, or an error from the batch run itself.
func (h *UserHandler) AddFacesBulk(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image required under \"images\""})
		return
	}

	if h.EmbedBatchFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	imagesData := make([][]byte, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
			return
		}
		imagesData[i] = data
	}

	batchResults, err := h.EmbedBatchFn(c.Request.Context(), imagesData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	existingCount, _ := h.db.CountFaceRecords(c.Request.Context(), userID)

	type faceOutcome struct {
		Index int                      `json:"index"`
		Face  *dto.FaceRecordResponse `json:"face,omitempty"`
		Error string                   `json:"error,omitempty"`
	}
	outcomes := make([]faceOutcome, len(batchResults))

	for i, br := range batchResults {
		if br.Err != nil {
			outcomes[i] = faceOutcome{Index: i, Error: br.Err.Error()}
			continue
		}

		isPrimary := existingCount == 0
		existingCount++

		sourceKey := "faces/" + userID.String() + "/" + uuid.New().String() + "_" + headers[i].Filename
		if err := h.minio.PutObject(c.Request.Context(), sourceKey, imagesData[i], headers[i].Header.Get("Content-Type")); err != nil {
			outcomes[i] = faceOutcome{Index: i, Error: "store image failed"}
			continue
		}

		fr := &models.FaceRecord{
			UserID:    userID,
			OrgID:     user.OrgID,
			Embedding: br.Result.Embedding,
			Quality:   br.Result.Quality.Overall,
			IsPrimary: isPrimary,
			SourceKey: sourceKey,
		}
		if err := h.db.AddFaceRecord(c.Request.Context(), fr); err != nil {
			outcomes[i] = faceOutcome{Index: i, Error: err.Error()}
			continue
		}
		resp := toFaceRecordResponse(fr)
		outcomes[i] = faceOutcome{Index: i, Face: &resp}
	}

	c.JSON(http.StatusCreated, gin.H{"results": outcomes})
}

func (h *UserHandler) ListFaces(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	faces, err := h.db.ListFaceRecords(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.FaceRecordResponse, 0, len(faces))
	for i := range faces {
		resp = append(resp, toFaceRecordResponse(&faces[i]))
	}
	c.JSON(http.StatusOK, gin.H{"faces": resp, "total": len(resp)})
}

func (h *UserHandler) DeleteFace(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	faceID, err := uuid.Parse(c.Param("faceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	if err := h.db.DeleteFaceRecord(c.Request.Context(), userID, faceID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Search performs a face similarity search scoped to one organization's
// gallery, by uploading an image.
func (h *UserHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	result, err := h.EmbedFn(c.Request.Context(), imageData)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	matches, err := h.db.SearchFaces(c.Request.Context(), result.Embedding, &req.OrgID, 0.4, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SearchMatchResponse, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchMatchResponse{UserID: m.UserID, Name: m.Name, Score: m.Score})
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

func toUserResponse(u *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		OrgID:     u.OrgID,
		Name:      u.Name,
		Metadata:  u.Metadata,
		CreatedAt: u.CreatedAt,
	}
}

func toFaceRecordResponse(fr *models.FaceRecord) dto.FaceRecordResponse {
	return dto.FaceRecordResponse{
		ID:        fr.ID,
		UserID:    fr.UserID,
		Quality:   fr.Quality,
		IsPrimary: fr.IsPrimary,
		CreatedAt: fr.CreatedAt,
	}
}
