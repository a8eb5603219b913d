package models

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceType string

const (
	AttendanceCheckIn  AttendanceType = "check_in"
	AttendanceCheckOut AttendanceType = "check_out"
)

// AttendanceStatus vocabulary: unknown_user marks "face not in gallery"
// on the request path; failed is reserved for pipeline/transport errors
// recorded for audit, never for "no match."
type AttendanceStatus string

const (
	StatusOnTime           AttendanceStatus = "on_time"
	StatusLate             AttendanceStatus = "late"
	StatusUnknownUser      AttendanceStatus = "unknown_user"
	StatusAlreadyCheckedIn AttendanceStatus = "already_checked_in"
	StatusNoFaceDetected   AttendanceStatus = "no_face_detected"
	StatusFailed           AttendanceStatus = "failed"
)

// AttendanceEvent is a single row in the attendance log.
type AttendanceEvent struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	OrgID      uuid.UUID        `json:"org_id" db:"org_id"`
	UserID     *uuid.UUID       `json:"user_id,omitempty" db:"user_id"`
	DeviceID   *string          `json:"device_id,omitempty" db:"device_id"`
	Timestamp  time.Time        `json:"ts" db:"ts"`
	Type       AttendanceType   `json:"type" db:"type"`
	Status     AttendanceStatus `json:"status" db:"status"`
	Confidence float32          `json:"confidence_score" db:"confidence_score"`
	Meta       map[string]any   `json:"meta,omitempty" db:"meta"`
	SnapshotKey string          `json:"-" db:"snapshot_key"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}
