package dto

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRequest accompanies the multipart image in /attendance/check-in
// and /attendance/check-out.
type AttendanceRequest struct {
	OrgID    uuid.UUID `form:"org_id" binding:"required"`
	DeviceID string    `form:"device_id"`
}

type AttendanceResponse struct {
	Success         bool       `json:"success"`
	Status          string     `json:"status"`
	Message         string     `json:"message"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	UserName        string     `json:"user_name,omitempty"`
	CheckInTime     *time.Time `json:"check_in_time,omitempty"`
	ConfidenceScore float32    `json:"confidence_score,omitempty"`
}

// WSEvent is broadcast to kiosk/device clients subscribed to an org's feed.
type WSEvent struct {
	Type  string             `json:"type"`
	OrgID uuid.UUID          `json:"org_id"`
	Data  AttendanceResponse `json:"data"`
}
