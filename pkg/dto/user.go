package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateUserRequest struct {
	OrgID    uuid.UUID       `json:"org_id" binding:"required"`
	Name     string          `json:"name" binding:"required"`
	Metadata json.RawMessage `json:"metadata"`
}

type UserResponse struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"org_id"`
	Name      string          `json:"name"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type FaceRecordResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Quality   float32   `json:"quality"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

type SearchRequest struct {
	OrgID uuid.UUID `json:"org_id" binding:"required"`
	Limit int       `json:"limit"`
}

type SearchMatchResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Score  float32   `json:"score"`
}
