package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateOrganizationRequest struct {
	Name                 string  `json:"name" binding:"required"`
	RecognitionThreshold float64 `json:"recognition_threshold"`
	CheckInEnd           string  `json:"check_in_end"`
	LateThresholdMinutes int     `json:"late_threshold_minutes"`
}

type OrganizationResponse struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	RecognitionThreshold float64   `json:"recognition_threshold"`
	CheckInEnd           string    `json:"check_in_end"`
	LateThresholdMinutes int       `json:"late_threshold_minutes"`
	CreatedAt            time.Time `json:"created_at"`
}
