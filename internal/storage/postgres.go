package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceguard/internal/config"
	"github.com/your-org/faceguard/internal/models"
)

// PostgresStore is the record store for users, templates, the audit log,
// devices and attendance history. Lookups return nil, nil when no row
// matches.
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

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	var pin *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, active, locked_until, pin_hash FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.OrgID, &u.Active, &u.LockedUntil, &pin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if pin != nil {
		u.PINHash = *pin
	}
	return u, nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id uuid.UUID, active bool, lockedUntil *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET active = $1, locked_until = $2 WHERE id = $3`, active, lockedUntil, id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

func (s *PostgresStore) SetPINHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET pin_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("set pin hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// ReactivateExpired lifts locks whose time has passed and returns how many
// users were reactivated.
func (s *PostgresStore) ReactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET active = true, locked_until = NULL
		 WHERE active = false AND locked_until IS NOT NULL AND locked_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reactivate users: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Face templates ---

func (s *PostgresStore) GetTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error) {
	t := &models.FaceTemplate{}
	var vec pgvector.Vector
	var imageKey *string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, org_id, descriptor, sample_count, image_key, created_at, updated_at
		 FROM face_templates WHERE user_id = $1`, userID,
	).Scan(&t.UserID, &t.OrgID, &vec, &t.SampleCount, &imageKey, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.Descriptor = vec.Slice()
	if imageKey != nil {
		t.ImageKey = *imageKey
	}
	return t, nil
}

func (s *PostgresStore) SaveTemplate(ctx context.Context, t *models.FaceTemplate) error {
	vec := pgvector.NewVector(t.Descriptor)
	var imageKey *string
	if t.ImageKey != "" {
		imageKey = &t.ImageKey
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_templates (user_id, org_id, descriptor, sample_count, image_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE
		   SET descriptor = EXCLUDED.descriptor,
		       sample_count = EXCLUDED.sample_count,
		       image_key = EXCLUDED.image_key,
		       updated_at = EXCLUDED.updated_at
		 RETURNING created_at`,
		t.UserID, t.OrgID, vec, t.SampleCount, imageKey, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error) {
	t := &models.FaceTemplate{}
	var imageKey *string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM face_templates WHERE user_id = $1 RETURNING user_id, org_id, sample_count, image_key`, userID,
	).Scan(&t.UserID, &t.OrgID, &t.SampleCount, &imageKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete template: %w", err)
	}
	if imageKey != nil {
		t.ImageKey = *imageKey
	}
	return t, nil
}

// --- Attendance ---

// AttendanceSince returns the user's clock events from since onwards,
// oldest first.
func (s *PostgresStore) AttendanceSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, clock_in, clock_out, lat, lon
		 FROM attendance_records WHERE user_id = $1 AND clock_in >= $2 ORDER BY clock_in`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		var lat, lon *float64
		if err := rows.Scan(&r.UserID, &r.ClockIn, &r.ClockOut, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		r.Location = location(lat, lon, nil)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveOrgs lists organizations with attempts since the given time.
func (s *PostgresStore) ActiveOrgs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT org_id FROM verification_attempts WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("list active orgs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan org id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func location(lat, lon, accuracy *float64) *models.Location {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Location{Lat: *lat, Lon: *lon, Accuracy: accuracy}
}
