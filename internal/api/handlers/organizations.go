package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lunarithm/facelogix/internal/models"
	"github.com/lunarithm/facelogix/internal/storage"
	"github.com/lunarithm/facelogix/pkg/dto"
)

// OrganizationHandler manages tenants: the recognition-threshold and
// attendance-policy boundary every gallery search and dedup check is
// scoped to.
type OrganizationHandler struct {
	db *storage.PostgresStore
}

func NewOrganizationHandler(db *storage.PostgresStore) *OrganizationHandler {
	return &OrganizationHandler{db: db}
}

func (h *OrganizationHandler) Create(c *gin.Context) {
	var req dto.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org := &models.Organization{
		Name:                 req.Name,
		RecognitionThreshold: req.RecognitionThreshold,
		CheckInEnd:           req.CheckInEnd,
		LateThresholdMinutes: req.LateThresholdMinutes,
	}
	if org.RecognitionThreshold == 0 {
		org.RecognitionThreshold = 0.75
	}
	if org.CheckInEnd == "" {
		org.CheckInEnd = "09:00"
	}

	if err := h.db.CreateOrganization(c.Request.Context(), org); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toOrganizationResponse(org))
}

func (h *OrganizationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
		return
	}

	org, err := h.db.GetOrganization(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if org == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	c.JSON(http.StatusOK, toOrganizationResponse(org))
}

func (h *OrganizationHandler) List(c *gin.Context) {
	orgs, err := h.db.ListOrganizations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.OrganizationResponse, 0, len(orgs))
	for i := range orgs {
		resp = append(resp, toOrganizationResponse(&orgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"organizations": resp, "total": len(resp)})
}

func toOrganizationResponse(org *models.Organization) dto.OrganizationResponse {
	return dto.OrganizationResponse{
		ID:                   org.ID,
		Name:                 org.Name,
		RecognitionThreshold: org.RecognitionThreshold,
		CheckInEnd:           org.CheckInEnd,
		LateThresholdMinutes: org.LateThresholdMinutes,
		CreatedAt:            org.CreatedAt,
	}
}
