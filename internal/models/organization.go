package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary recognition and attendance are
// scoped by; every gallery search and dedup check is confined to one.
type Organization struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	RecognitionThreshold float64   `json:"recognition_threshold" db:"recognition_threshold"`
	CheckInEnd           string    `json:"check_in_end" db:"check_in_end"` // "HH:MM"
	LateThresholdMinutes int       `json:"late_threshold_minutes" db:"late_threshold_minutes"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}
