package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lunarithm/facelogix/internal/config"
	"github.com/lunarithm/facelogix/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), used by the coordinator to recognize a race
// on the daily check-in partial unique index.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// --- Organizations ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	org.ID = uuid.New()
	return s.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, name, recognition_threshold, check_in_end, late_threshold_minutes)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		org.ID, org.Name, org.RecognitionThreshold, org.CheckInEnd, org.LateThresholdMinutes,
	).Scan(&org.CreatedAt, &org.UpdatedAt)
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, recognition_threshold, check_in_end, late_threshold_minutes, created_at, updated_at
		 FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.RecognitionThreshold, &org.CheckInEnd, &org.LateThresholdMinutes,
		&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, recognition_threshold, check_in_end, late_threshold_minutes, created_at, updated_at
		 FROM organizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.RecognitionThreshold, &o.CheckInEnd, &o.LateThresholdMinutes,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	u.ID = uuid.New()
	if u.Metadata == nil {
		u.Metadata = []byte("{}")
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO users (id, org_id, name, metadata) VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		u.ID, u.OrgID, u.Name, u.Metadata,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, metadata, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.OrgID, &u.Name, &u.Metadata, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, orgID uuid.UUID) ([]models.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, name, metadata, created_at, updated_at FROM users WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Name, &u.Metadata, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// --- Face records (gallery) ---

// AddFaceRecord inserts a new enrolled embedding. If isPrimary is true, any
// existing primary record for the user is demoted first so at most one
// is_primary=true row per user holds without a deferred constraint.
func (s *PostgresStore) AddFaceRecord(ctx context.Context, fr *models.FaceRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	fr.ID = uuid.New()
	if fr.IsPrimary {
		if _, err := tx.Exec(ctx,
			`UPDATE face_records SET is_primary = false WHERE user_id = $1 AND is_primary = true`,
			fr.UserID); err != nil {
			return fmt.Errorf("demote prior primary: %w", err)
		}
	}

	vec := pgvector.NewVector(fr.Embedding)
	if err := tx.QueryRow(ctx,
		`INSERT INTO face_records (id, user_id, org_id, embedding, quality, is_primary, source_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		fr.ID, fr.UserID, fr.OrgID, vec, fr.Quality, fr.IsPrimary, fr.SourceKey,
	).Scan(&fr.CreatedAt); err != nil {
		return fmt.Errorf("insert face record: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListFaceRecords(ctx context.Context, userID uuid.UUID) ([]models.FaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, org_id, quality, is_primary, source_key, created_at
		 FROM face_records WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list face records: %w", err)
	}
	defer rows.Close()

	var out []models.FaceRecord
	for rows.Next() {
		var fr models.FaceRecord
		if err := rows.Scan(&fr.ID, &fr.UserID, &fr.OrgID, &fr.Quality, &fr.IsPrimary, &fr.SourceKey, &fr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face record: %w", err)
		}
		out = append(out, fr)
	}
	return out, nil
}

func (s *PostgresStore) CountFaceRecords(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_records WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

func (s *PostgresStore) DeleteFaceRecord(ctx context.Context, userID, faceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM face_records WHERE id = $1 AND user_id = $2`, faceID, userID)
	if err != nil {
		return fmt.Errorf("delete face record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face record not found")
	}
	return nil
}

// SearchMatch is one result row from a gallery similarity search.
type SearchMatch struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Score  float32   `json:"score"`
}

// SearchFaces finds the closest matching users in orgID's gallery for a
// given query embedding, using pgvector's cosine-distance operator
// (<=>); score = 1 - cos_distance, the same metric the embeddings were
// L2-normalized for.
func (s *PostgresStore) SearchFaces(ctx context.Context, embedding []float32, orgID *uuid.UUID, threshold float64, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	var rows pgx.Rows
	var err error
	if orgID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT fr.user_id, u.name, 1 - (fr.embedding <=> $1) AS score
			FROM face_records fr
			JOIN users u ON u.id = fr.user_id
			WHERE u.org_id = $2
			  AND 1 - (fr.embedding <=> $1) >= $3
			ORDER BY fr.embedding <=> $1
			LIMIT $4`, vec, *orgID, threshold, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT fr.user_id, u.name, 1 - (fr.embedding <=> $1) AS score
			FROM face_records fr
			JOIN users u ON u.id = fr.user_id
			WHERE 1 - (fr.embedding <=> $1) >= $2
			ORDER BY fr.embedding <=> $1
			LIMIT $3`, vec, threshold, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var m SearchMatch
		if err := rows.Scan(&m.UserID, &m.Name, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// --- Attendance ---

// InsertAttendanceEvent writes one attendance row. Relies on the partial
// unique index in migrations/0001_init.sql to reject a concurrent second
// check_in for the same user/day; callers should treat
// IsUniqueViolation(err) as AlreadyCheckedIn rather than a hard failure.
func (s *PostgresStore) InsertAttendanceEvent(ctx context.Context, ev *models.AttendanceEvent) error {
	ev.ID = uuid.New()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO attendance_events (id, org_id, user_id, device_id, ts, type, status, confidence_score, meta, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
		ev.ID, ev.OrgID, ev.UserID, ev.DeviceID, ev.Timestamp, ev.Type, ev.Status, ev.Confidence, meta, ev.SnapshotKey,
	).Scan(&ev.CreatedAt)
}

// HasCheckedInToday reports whether userID already has a non-unknown
// check_in row for the current day.
func (s *PostgresStore) HasCheckedInToday(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_events
			WHERE user_id = $1
			  AND type = 'check_in'
			  AND status != 'unknown_user'
			  AND ts::date = now()::date
		)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check daily check-in: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetAttendanceEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	ev := &models.AttendanceEvent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, user_id, device_id, ts, type, status, confidence_score, meta, snapshot_key, created_at
		FROM attendance_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.OrgID, &ev.UserID, &ev.DeviceID, &ev.Timestamp, &ev.Type, &ev.Status,
		&ev.Confidence, &ev.Meta, &ev.SnapshotKey, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance event: %w", err)
	}
	return ev, nil
}

// ListAttendanceEvents returns a page of attendance_events for orgID,
// optionally filtered by userID, status, and a [from, to] time range (both
// ends inclusive), most recent first.
func (s *PostgresStore) ListAttendanceEvents(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, status string, from, to *time.Time, limit, offset int) ([]models.AttendanceEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := "WHERE org_id = $1"
	args := []interface{}{orgID}
	argIdx := 2

	if userID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *userID)
		argIdx++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if from != nil {
		where += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		where += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attendance events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, org_id, user_id, device_id, ts, type, status, confidence_score, meta, snapshot_key, created_at
		FROM attendance_events %s ORDER BY ts DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query attendance events: %w", err)
	}
	defer rows.Close()

	var events []models.AttendanceEvent
	for rows.Next() {
		var ev models.AttendanceEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.UserID, &ev.DeviceID, &ev.Timestamp, &ev.Type, &ev.Status,
			&ev.Confidence, &ev.Meta, &ev.SnapshotKey, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan attendance event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}
