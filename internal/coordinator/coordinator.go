// Package coordinator turns a face embedding into an attendance decision:
// gallery lookup, per-organization threshold, at-most-one check-in per
// day, and the on_time/late split.
//
// The daily-check-in dedup is enforced twice: a per-user mutex serializes
// racing requests within this process before either one reads "have I
// checked in today", and a partial unique index in the database breaks
// the tie across separate processes.
package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lunarithm/facelogix/internal/models"
	"github.com/lunarithm/facelogix/internal/observability"
	"github.com/lunarithm/facelogix/internal/storage"
)

// Action is the caller's requested attendance action.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// Request is everything the Coordinator needs to resolve one attendance
// decision; the embedding and quality score are already the pipeline's
// output, not raw image bytes.
type Request struct {
	OrgID      uuid.UUID
	DeviceID   string
	Embedding  []float32
	Quality    float32
	Action     Action
	SnapshotKey string
}

// Result is the outcome handed back to the HTTP layer: the persisted (or,
// for AlreadyCheckedIn, rejected-but-reported) event plus the matched
// user's display name, if any.
type Result struct {
	Event    *models.AttendanceEvent
	UserName string
}

// Coordinator is the Recognition Coordinator.
type Coordinator struct {
	db *storage.PostgresStore

	mu        sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
}

func New(db *storage.PostgresStore) *Coordinator {
	return &Coordinator{db: db, userLocks: make(map[uuid.UUID]*sync.Mutex)}
}

func (c *Coordinator) lockFor(userID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		c.userLocks[userID] = l
	}
	return l
}

// Process resolves one recognition request against org's gallery and
// policy settings.
func (c *Coordinator) Process(ctx context.Context, org *models.Organization, req Request) (*Result, error) {
	threshold := org.RecognitionThreshold
	if threshold <= 0 {
		threshold = 0.75
	}

	start := time.Now()
	matches, err := c.db.SearchFaces(ctx, req.Embedding, &org.ID, threshold, 1)
	observability.GallerySearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("search gallery: %w", err)
	}

	if len(matches) == 0 {
		return c.recordUnknown(ctx, org.ID, req)
	}

	match := matches[0]

	if req.Action == ActionCheckOut {
		return c.recordCheckOut(ctx, org.ID, match, req)
	}
	return c.recordCheckIn(ctx, org, match, req)
}

func (c *Coordinator) recordUnknown(ctx context.Context, orgID uuid.UUID, req Request) (*Result, error) {
	ev := &models.AttendanceEvent{
		OrgID:       orgID,
		DeviceID:    deviceIDPtr(req.DeviceID),
		Timestamp:   time.Now(),
		Type:        models.AttendanceType(req.Action),
		Status:      models.StatusUnknownUser,
		Confidence:  req.Quality,
		SnapshotKey: req.SnapshotKey,
	}
	if err := c.db.InsertAttendanceEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	observability.AttendanceEvents.WithLabelValues(string(req.Action), string(ev.Status)).Inc()
	return &Result{Event: ev}, nil
}

func (c *Coordinator) recordCheckOut(ctx context.Context, orgID uuid.UUID, match storage.SearchMatch, req Request) (*Result, error) {
	userID := match.UserID
	ev := &models.AttendanceEvent{
		OrgID:       orgID,
		UserID:      &userID,
		DeviceID:    deviceIDPtr(req.DeviceID),
		Timestamp:   time.Now(),
		Type:        models.AttendanceCheckOut,
		Status:      models.StatusOnTime,
		Confidence:  match.Score,
		SnapshotKey: req.SnapshotKey,
	}
	if err := c.db.InsertAttendanceEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	observability.AttendanceEvents.WithLabelValues(string(req.Action), string(ev.Status)).Inc()
	return &Result{Event: ev, UserName: match.Name}, nil
}

// recordCheckIn enforces the at-most-one-check-in-per-day rule: a
// per-user mutex orders concurrent requests within this process, and the
// read-then-insert is still raced against other processes by the
// database's partial unique index, whose violation is treated as
// AlreadyCheckedIn rather than surfaced as an error.
func (c *Coordinator) recordCheckIn(ctx context.Context, org *models.Organization, match storage.SearchMatch, req Request) (*Result, error) {
	userID := match.UserID
	lock := c.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	already, err := c.db.HasCheckedInToday(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check daily dedup: %w", err)
	}
	if already {
		ev := &models.AttendanceEvent{
			OrgID:      org.ID,
			UserID:     &userID,
			DeviceID:   deviceIDPtr(req.DeviceID),
			Timestamp:  time.Now(),
			Type:       models.AttendanceCheckIn,
			Status:     models.StatusAlreadyCheckedIn,
			Confidence: match.Score,
		}
		observability.AttendanceEvents.WithLabelValues(string(req.Action), string(ev.Status)).Inc()
		return &Result{Event: ev, UserName: match.Name}, nil
	}

	ev := &models.AttendanceEvent{
		OrgID:       org.ID,
		UserID:      &userID,
		DeviceID:    deviceIDPtr(req.DeviceID),
		Timestamp:   time.Now(),
		Type:        models.AttendanceCheckIn,
		Status:      computeLateness(org, time.Now()),
		Confidence:  match.Score,
		SnapshotKey: req.SnapshotKey,
	}
	if err := c.db.InsertAttendanceEvent(ctx, ev); err != nil {
		if storage.IsUniqueViolation(err) {
			ev.Status = models.StatusAlreadyCheckedIn
			observability.AttendanceEvents.WithLabelValues(string(req.Action), string(ev.Status)).Inc()
			return &Result{Event: ev, UserName: match.Name}, nil
		}
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	observability.AttendanceEvents.WithLabelValues(string(req.Action), string(ev.Status)).Inc()
	return &Result{Event: ev, UserName: match.Name}, nil
}

// RecordFailure persists a failed attendance attempt (liveness rejection,
// pipeline error, transport timeout) with a machine-readable reason, so
// the audit trail survives even when no recognition decision was made.
func (c *Coordinator) RecordFailure(ctx context.Context, orgID uuid.UUID, deviceID string, action Action, status models.AttendanceStatus, reason string) error {
	ev := &models.AttendanceEvent{
		OrgID:     orgID,
		DeviceID:  deviceIDPtr(deviceID),
		Timestamp: time.Now(),
		Type:      models.AttendanceType(action),
		Status:    status,
		Meta:      map[string]any{"reason": reason},
	}
	if err := c.db.InsertAttendanceEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert failed attendance: %w", err)
	}
	observability.AttendanceEvents.WithLabelValues(string(action), string(status)).Inc()
	return nil
}

// computeLateness derives on_time/late from the org's check-in deadline
// ("HH:MM" local) plus its grace period; a malformed deadline defaults to
// on_time rather than rejecting the check-in outright.
func computeLateness(org *models.Organization, ts time.Time) models.AttendanceStatus {
	parts := strings.Split(org.CheckInEnd, ":")
	if len(parts) != 2 {
		return models.StatusOnTime
	}
	hh, errH := strconv.Atoi(parts[0])
	mm, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return models.StatusOnTime
	}

	deadline := time.Date(ts.Year(), ts.Month(), ts.Day(), hh, mm, 0, 0, ts.Location()).
		Add(time.Duration(org.LateThresholdMinutes) * time.Minute)
	if ts.After(deadline) {
		return models.StatusLate
	}
	return models.StatusOnTime
}

func deviceIDPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
