package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
)

const deviceColumns = `user_id, fingerprint, info, first_seen, last_seen, trusted, active, verification_count`

func scanDevice(row pgx.Row) (*models.Device, error) {
	d := &models.Device{}
	var info []byte
	if err := row.Scan(&d.UserID, &d.Fingerprint, &info, &d.FirstSeen, &d.LastSeen, &d.Trusted, &d.Active, &d.Count); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &d.Info); err != nil {
			return nil, fmt.Errorf("decode device info: %w", err)
		}
	}
	return d, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, userID uuid.UUID, fingerprint string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// UpsertDevice keeps first_seen and trusted from the stored row.
func (s *PostgresStore) UpsertDevice(ctx context.Context, d *models.Device) error {
	info, err := json.Marshal(d.Info)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_devices (`+deviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, fingerprint) DO UPDATE
		   SET info = EXCLUDED.info,
		       last_seen = EXCLUDED.last_seen,
		       active = EXCLUDED.active,
		       verification_count = EXCLUDED.verification_count`,
		d.UserID, d.Fingerprint, info, d.FirstSeen, d.LastSeen, d.Trusted, d.Active, d.Count)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, userID uuid.UUID) ([]models.Device, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 ORDER BY last_seen DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	out := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetDeviceTrusted(ctx context.Context, userID uuid.UUID, fingerprint string, trusted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_devices SET trusted = $1 WHERE user_id = $2 AND fingerprint = $3`, trusted, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("set device trusted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return device.ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return device.ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) LastLocation(ctx context.Context, userID uuid.UUID) (*models.LocationFix, error) {
	fix := &models.LocationFix{UserID: userID}
	var fp *string
	err := s.pool.QueryRow(ctx,
		`SELECT lat, lon, accuracy, fingerprint, recorded_at FROM location_history
		 WHERE user_id = $1 ORDER BY recorded_at DESC LIMIT 1`, userID,
	).Scan(&fix.Location.Lat, &fix.Location.Lon, &fix.Location.Accuracy, &fp, &fix.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last location: %w", err)
	}
	if fp != nil {
		fix.Fingerprint = *fp
	}
	return fix, nil
}

func (s *PostgresStore) AppendLocation(ctx context.Context, fix models.LocationFix) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location_history (user_id, lat, lon, accuracy, fingerprint, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fix.UserID, fix.Location.Lat, fix.Location.Lon, fix.Location.Accuracy, fix.Fingerprint, fix.RecordedAt)
	if err != nil {
		return fmt.Errorf("append location: %w", err)
	}
	return nil
}
