package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceguard/internal/config"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
)

// Source is the read-only history the detectors work from.
type Source interface {
	AttemptsSince(ctx context.Context, orgID uuid.UUID, since time.Time) ([]models.Attempt, error)
	AttendanceSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.AttendanceRecord, error)
}

type Config struct {
	Lookback     time.Duration  `yaml:"lookback"`
	BaselineDays int            `yaml:"baseline_days"`
	Timezone     *time.Location `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{Lookback: 24 * time.Hour, BaselineDays: 30, Timezone: time.UTC}
}

// ConfigFrom reads the engine settings from the service config.
func ConfigFrom(c config.AnomalyConfig) (Config, error) {
	cfg := Config{Lookback: c.Lookback, BaselineDays: c.BaselineDays, Timezone: time.UTC}
	if c.Timezone != "" {
		tz, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("load timezone: %w", err)
		}
		cfg.Timezone = tz
	}
	return cfg, nil
}

// Report is the result of one scan.
type Report struct {
	OrgID       uuid.UUID `json:"org_id"`
	Findings    []Finding `json:"findings"`
	RiskScore   int       `json:"risk_score"`
	Failures    int       `json:"failed_attempts"`
	PINUses     int       `json:"pin_uses"`
	From        time.Time `json:"from"`
	GeneratedAt time.Time `json:"generated_at"`
}

type detector struct {
	name string
	run  func(ctx context.Context, orgID uuid.UUID, since time.Time) ([]Finding, error)
}

type Engine struct {
	src       Source
	cfg       Config
	now       func() time.Time
	detectors []detector
}

func NewEngine(src Source, cfg Config) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.BaselineDays <= 0 {
		cfg.BaselineDays = DefaultConfig().BaselineDays
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	e := &Engine{src: src, cfg: cfg, now: time.Now}
	e.detectors = []detector{
		{"time", e.timeAnomalies},
		{"location", e.locationAnomalies},
		{"frequency", e.frequencyAnomalies},
		{"behavior", e.behaviorAnomalies},
	}
	return e
}

// SetClock overrides the engine's notion of now.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Detect runs every detector over the lookback window. A failing detector
// contributes no findings; the others still run.
func (e *Engine) Detect(ctx context.Context, orgID uuid.UUID, lookback time.Duration) ([]Finding, error) {
	if lookback <= 0 {
		lookback = e.cfg.Lookback
	}
	since := e.now().Add(-lookback)

	var (
		mu  sync.Mutex
		all []Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range e.detectors {
		d := d
		g.Go(func() error {
			start := time.Now()
			found, err := d.run(gctx, orgID, since)
			observability.AnomalyScanDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
			if err != nil {
				slog.Error("anomaly detector failed", "detector", d.name, "org_id", orgID, "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Sort(all)
	for _, f := range all {
		observability.AnomalyFindings.WithLabelValues(f.Type, string(f.Severity)).Inc()
	}
	return all, nil
}

// Analyze runs Detect and folds the result into a risk score.
func (e *Engine) Analyze(ctx context.Context, orgID uuid.UUID, lookback time.Duration) (*Report, error) {
	if lookback <= 0 {
		lookback = e.cfg.Lookback
	}
	findings, err := e.Detect(ctx, orgID, lookback)
	if err != nil {
		return nil, err
	}

	now := e.now()
	since := now.Add(-lookback)
	r := &Report{OrgID: orgID, Findings: findings, From: since, GeneratedAt: now}
	attempts, err := e.src.AttemptsSince(ctx, orgID, since)
	if err != nil {
		slog.Error("load attempts for risk score", "org_id", orgID, "error", err)
	}
	for _, a := range attempts {
		if !a.Success {
			r.Failures++
		}
		if a.Type == models.VerificationPIN {
			r.PINUses++
		}
	}
	r.RiskScore = RiskScore(r.Failures, r.PINUses, len(findings))
	return r, nil
}

// byUser groups attempts per user, preserving chronological order.
func byUser(attempts []models.Attempt) (map[uuid.UUID][]models.Attempt, []uuid.UUID) {
	groups := make(map[uuid.UUID][]models.Attempt)
	var order []uuid.UUID
	for _, a := range attempts {
		if _, ok := groups[a.UserID]; !ok {
			order = append(order, a.UserID)
		}
		groups[a.UserID] = append(groups[a.UserID], a)
	}
	return groups, order
}

func userRef(id uuid.UUID) *uuid.UUID { return &id }
