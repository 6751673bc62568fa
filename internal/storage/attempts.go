package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/models"
)

const attemptColumns = `id, user_id, org_id, verification_type, success, face_confidence, liveness_score,
	lat, lon, accuracy, device_info, failure_reason, metadata, created_at`

// AppendAttempt inserts an audit record. Re-inserting the same ID is a
// no-op so spooled records can be retried.
func (s *PostgresStore) AppendAttempt(ctx context.Context, a *models.Attempt) error {
	info, err := json.Marshal(a.Device)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	var lat, lon, acc *float64
	if a.Location != nil {
		lat, lon, acc = &a.Location.Lat, &a.Location.Lon, a.Location.Accuracy
	}
	var reason *string
	if a.FailureReason != "" {
		reason = &a.FailureReason
	}
	meta := []byte(a.Metadata)
	if len(meta) == 0 {
		meta = []byte("{}")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO verification_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.UserID, a.OrgID, a.Type, a.Success, a.FaceScore, a.LivenessScore,
		lat, lon, acc, info, reason, meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// buildAttemptWhere turns a filter into a WHERE clause with positional
// arguments. The returned index is the next free placeholder.
func buildAttemptWhere(f models.AttemptFilter) (string, []any, int) {
	var conds []string
	var args []any
	idx := 1
	add := func(cond string, v any) {
		conds = append(conds, fmt.Sprintf(cond, idx))
		args = append(args, v)
		idx++
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.OrgID != nil {
		add("org_id = $%d", *f.OrgID)
	}
	if f.Type != "" {
		add("verification_type = $%d", string(f.Type))
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", args, idx
	}
	return "WHERE " + strings.Join(conds, " AND "), args, idx
}

func (s *PostgresStore) QueryAttempts(ctx context.Context, f models.AttemptFilter) ([]models.Attempt, int, error) {
	limit, offset := audit.PageBounds(f.Limit, f.Offset)
	where, args, idx := buildAttemptWhere(f)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verification_attempts "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM verification_attempts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		attemptColumns, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query attempts: %w", err)
	}
	out, err := scanAttempts(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AttemptsSince returns an organization's attempts from since onwards,
// oldest first.
func (s *PostgresStore) AttemptsSince(ctx context.Context, orgID uuid.UUID, since time.Time) ([]models.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM verification_attempts
		 WHERE org_id = $1 AND created_at >= $2 ORDER BY created_at`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("query attempts since: %w", err)
	}
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]models.Attempt, error) {
	defer rows.Close()
	var out []models.Attempt
	for rows.Next() {
		var a models.Attempt
		var lat, lon, acc *float64
		var info, meta []byte
		var reason *string
		if err := rows.Scan(&a.ID, &a.UserID, &a.OrgID, &a.Type, &a.Success, &a.FaceScore, &a.LivenessScore,
			&lat, &lon, &acc, &info, &reason, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Location = location(lat, lon, acc)
		if len(info) > 0 {
			if err := json.Unmarshal(info, &a.Device); err != nil {
				return nil, fmt.Errorf("decode device info for %s: %w", a.ID, err)
			}
		}
		if reason != nil {
			a.FailureReason = *reason
		}
		a.Metadata = meta
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RepeatedFailures(ctx context.Context, orgID uuid.UUID, since time.Time, minFailures int) ([]models.FailureCluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COUNT(*), MAX(created_at)
		 FROM verification_attempts
		 WHERE org_id = $1 AND success = false AND created_at >= $2
		 GROUP BY user_id
		 HAVING COUNT(*) >= $3
		 ORDER BY COUNT(*) DESC`, orgID, since, minFailures)
	if err != nil {
		return nil, fmt.Errorf("query repeated failures: %w", err)
	}
	defer rows.Close()

	var out []models.FailureCluster
	for rows.Next() {
		c := models.FailureCluster{OrgID: orgID}
		if err := rows.Scan(&c.UserID, &c.Failures, &c.LastAt); err != nil {
			return nil, fmt.Errorf("scan failure cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MultiLocationUsers buckets each user's fixes with audit.LocationKey and
// keeps users with at least minDistinct buckets.
func (s *PostgresStore) MultiLocationUsers(ctx context.Context, orgID uuid.UUID, since time.Time, minDistinct int) ([]models.LocationSpread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, lat, lon FROM verification_attempts
		 WHERE org_id = $1 AND created_at >= $2 AND lat IS NOT NULL AND lon IS NOT NULL
		 ORDER BY created_at`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("query attempt locations: %w", err)
	}
	defer rows.Close()

	seen := map[uuid.UUID]map[[2]float64]bool{}
	spread := map[uuid.UUID][]models.Location{}
	var order []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var loc models.Location
		if err := rows.Scan(&id, &loc.Lat, &loc.Lon); err != nil {
			return nil, fmt.Errorf("scan attempt location: %w", err)
		}
		if seen[id] == nil {
			seen[id] = map[[2]float64]bool{}
			order = append(order, id)
		}
		k := audit.LocationKey(loc)
		if seen[id][k] {
			continue
		}
		seen[id][k] = true
		spread[id] = append(spread[id], loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []models.LocationSpread
	for _, id := range order {
		if len(spread[id]) >= minDistinct {
			out = append(out, models.LocationSpread{UserID: id, OrgID: orgID, Locations: spread[id]})
		}
	}
	return out, nil
}

func (s *PostgresStore) PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verification_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
