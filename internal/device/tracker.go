package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/geo"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
)

var ErrDeviceNotFound = errors.New("device not found")

const (
	KindNewDevice        = "new_device"
	KindImpossibleTravel = "impossible_travel"
)

// Store persists known devices and the location trail per user.
type Store interface {
	GetDevice(ctx context.Context, userID uuid.UUID, fingerprint string) (*models.Device, error)
	UpsertDevice(ctx context.Context, d *models.Device) error
	ListDevices(ctx context.Context, userID uuid.UUID) ([]models.Device, error)
	SetDeviceTrusted(ctx context.Context, userID uuid.UUID, fingerprint string, trusted bool) error
	DeleteDevice(ctx context.Context, userID uuid.UUID, fingerprint string) error
	LastLocation(ctx context.Context, userID uuid.UUID) (*models.LocationFix, error)
	AppendLocation(ctx context.Context, fix models.LocationFix) error
}

// ActivityDetails is the metadata carried by a finding. Travel fields are
// set only for impossible travel.
type ActivityDetails struct {
	Fingerprint    string             `json:"fingerprint"`
	DeviceInfo     *models.DeviceInfo `json:"device_info,omitempty"`
	DistanceKm     float64            `json:"distance_km,omitempty"`
	ElapsedMinutes float64            `json:"elapsed_minutes,omitempty"`
	From           *models.Location   `json:"from,omitempty"`
	To             *models.Location   `json:"to,omitempty"`
}

// Activity is one suspicious-activity finding for an attempt.
type Activity struct {
	Kind        string          `json:"kind"`
	Severity    models.Severity `json:"severity"`
	Description string          `json:"description"`
	Details     ActivityDetails `json:"details"`
}

// Observation is the device and location context of one attempt.
type Observation struct {
	UserID   uuid.UUID
	OrgID    uuid.UUID
	Info     models.DeviceInfo
	Location *models.Location
	At       time.Time
}

type Config struct {
	TravelDistanceKm float64
	TravelWindow     time.Duration
}

func DefaultConfig() Config {
	return Config{TravelDistanceKm: 100, TravelWindow: time.Hour}
}

// Tracker maintains known devices and flags new devices and impossible
// travel.
type Tracker struct {
	store Store
	cfg   Config
}

func NewTracker(store Store, cfg Config) *Tracker {
	if cfg.TravelDistanceKm <= 0 {
		cfg.TravelDistanceKm = DefaultConfig().TravelDistanceKm
	}
	if cfg.TravelWindow <= 0 {
		cfg.TravelWindow = DefaultConfig().TravelWindow
	}
	return &Tracker{store: store, cfg: cfg}
}

// Observe records the attempt's device and location and returns any
// suspicious activity. Findings computed before a storage failure are still
// returned alongside the error.
func (t *Tracker) Observe(ctx context.Context, obs Observation) ([]Activity, error) {
	var found []Activity
	fp := obs.Info.Fingerprint

	dev, err := t.store.GetDevice(ctx, obs.UserID, fp)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if dev == nil {
		info := obs.Info
		found = append(found, Activity{
			Kind:        KindNewDevice,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("verification from unrecognized device (%s on %s)", orUnknown(info.Browser), orUnknown(info.OS)),
			Details:     ActivityDetails{Fingerprint: fp, DeviceInfo: &info},
		})
		dev = &models.Device{
			UserID:      obs.UserID,
			Fingerprint: fp,
			Info:        obs.Info,
			FirstSeen:   obs.At,
			Active:      true,
		}
	}
	dev.LastSeen = obs.At
	dev.Count++
	dev.Info = obs.Info

	var storeErr error
	if err := t.store.UpsertDevice(ctx, dev); err != nil {
		storeErr = fmt.Errorf("upsert device: %w", err)
	}

	if obs.Location != nil {
		travel, err := t.checkTravel(ctx, obs)
		if err != nil {
			storeErr = errors.Join(storeErr, err)
		}
		if travel != nil {
			found = append(found, *travel)
		}
	}

	for _, a := range found {
		observability.SuspiciousActivity.WithLabelValues(a.Kind, string(a.Severity)).Inc()
		slog.Warn("suspicious activity",
			"kind", a.Kind,
			"severity", a.Severity,
			"user_id", obs.UserID,
			"org_id", obs.OrgID,
			"fingerprint", fp,
		)
	}
	return found, storeErr
}

func (t *Tracker) checkTravel(ctx context.Context, obs Observation) (*Activity, error) {
	last, err := t.store.LastLocation(ctx, obs.UserID)
	if err != nil {
		return nil, fmt.Errorf("last location: %w", err)
	}

	var found *Activity
	if last != nil {
		from := geo.Point{Lat: last.Location.Lat, Lon: last.Location.Lon}
		to := geo.Point{Lat: obs.Location.Lat, Lon: obs.Location.Lon}
		dist := geo.DistanceKm(from, to)
		elapsed := obs.At.Sub(last.RecordedAt)

		if dist > t.cfg.TravelDistanceKm && elapsed >= 0 && elapsed < t.cfg.TravelWindow {
			prev := last.Location
			cur := *obs.Location
			found = &Activity{
				Kind:     KindImpossibleTravel,
				Severity: models.SeverityHigh,
				Description: fmt.Sprintf("impossible travel: %.1f km in %.0f minutes",
					dist, elapsed.Minutes()),
				Details: ActivityDetails{
					Fingerprint:    obs.Info.Fingerprint,
					DistanceKm:     dist,
					ElapsedMinutes: elapsed.Minutes(),
					From:           &prev,
					To:             &cur,
				},
			}
		}
	}

	err = t.store.AppendLocation(ctx, models.LocationFix{
		UserID:      obs.UserID,
		Location:    *obs.Location,
		Fingerprint: obs.Info.Fingerprint,
		RecordedAt:  obs.At,
	})
	if err != nil {
		return found, fmt.Errorf("append location: %w", err)
	}
	return found, nil
}

func (t *Tracker) Devices(ctx context.Context, userID uuid.UUID) ([]models.Device, error) {
	return t.store.ListDevices(ctx, userID)
}

// Trust marks a known device as trusted.
func (t *Tracker) Trust(ctx context.Context, userID uuid.UUID, fingerprint string, trusted bool) error {
	dev, err := t.store.GetDevice(ctx, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}
	if dev == nil {
		return ErrDeviceNotFound
	}
	return t.store.SetDeviceTrusted(ctx, userID, fingerprint, trusted)
}

// Remove forgets a device; its next use is reported as new.
func (t *Tracker) Remove(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	dev, err := t.store.GetDevice(ctx, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}
	if dev == nil {
		return ErrDeviceNotFound
	}
	return t.store.DeleteDevice(ctx, userID, fingerprint)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
