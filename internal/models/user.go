package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is an enrolled person within an Organization's gallery.
type User struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrgID     uuid.UUID       `json:"org_id" db:"org_id"`
	Name      string          `json:"name" db:"name"`
	Metadata  json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// FaceRecord is a single enrolled embedding in the gallery. At most one
// FaceRecord per user has IsPrimary = true.
type FaceRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	OrgID     uuid.UUID `json:"org_id" db:"org_id"`
	Embedding []float32 `json:"embedding" db:"embedding"`
	Quality   float32   `json:"quality" db:"quality"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	SourceKey string    `json:"source_key" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
