package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/models"
)

type OrgLister interface {
	ActiveOrgs(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, orgID uuid.UUID, lookback time.Duration) (*anomaly.Report, error)
}

type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// Reactivator clears lockouts whose locked_until has passed.
type Reactivator interface {
	ReactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type Publisher interface {
	PublishSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error
}

type Handlers struct {
	Orgs          OrgLister
	Analyzer      Analyzer
	Events        Publisher
	Audit         Purger
	Users         Reactivator
	Lookback      time.Duration
	RetentionDays int
	Now           func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Mux routes every task type to its handler.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnomalyScan, h.HandleAnomalyScan)
	mux.HandleFunc(TypeAuditPurge, h.HandleAuditPurge)
	mux.HandleFunc(TypeLockoutReactivate, h.HandleLockoutReactivate)
	return mux
}

// HandleAnomalyScan analyzes each org and publishes its findings. One org
// failing does not stop the others.
func (h *Handlers) HandleAnomalyScan(ctx context.Context, t *asynq.Task) error {
	var p ScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			slog.Error("decode anomaly scan payload", "error", err)
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = h.Lookback
	}
	if lookback <= 0 {
		lookback = anomaly.DefaultConfig().Lookback
	}

	orgs := []uuid.UUID{}
	if p.OrgID != nil {
		orgs = append(orgs, *p.OrgID)
	} else {
		var err error
		orgs, err = h.Orgs.ActiveOrgs(ctx, h.now().Add(-lookback))
		if err != nil {
			return fmt.Errorf("list active orgs: %w", err)
		}
	}

	total := 0
	for _, org := range orgs {
		report, err := h.Analyzer.Analyze(ctx, org, lookback)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("anomaly scan", "org_id", org, "error", err)
			continue
		}
		total += len(report.Findings)
		for _, f := range report.Findings {
			if h.Events == nil {
				break
			}
			if err := h.Events.PublishSecurityEvent(ctx, FindingEvent(f, report.GeneratedAt)); err != nil {
				slog.Warn("publish anomaly finding", "org_id", org, "type", f.Type, "error", err)
			}
		}
		if len(report.Findings) > 0 {
			slog.Info("anomalies found", "org_id", org, "findings", len(report.Findings), "risk_score", report.RiskScore)
		}
	}
	slog.Info("anomaly scan done", "orgs", len(orgs), "findings", total, "lookback", lookback)
	return nil
}

func (h *Handlers) HandleAuditPurge(ctx context.Context, t *asynq.Task) error {
	var p PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	days := p.Days
	if days <= 0 {
		days = h.RetentionDays
	}
	_, err := h.Audit.PurgeOlderThan(ctx, days)
	return err
}

func (h *Handlers) HandleLockoutReactivate(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Users.ReactivateExpired(ctx, h.now())
	if err != nil {
		return fmt.Errorf("reactivate users: %w", err)
	}
	if n > 0 {
		slog.Info("users reactivated", "count", n)
	}
	return nil
}

// FindingEvent wraps a finding for the security bus.
func FindingEvent(f anomaly.Finding, at time.Time) *models.SecurityEvent {
	meta, _ := json.Marshal(struct {
		Confidence float64         `json:"confidence"`
		Details    anomaly.Details `json:"details"`
	}{f.Confidence, f.Details})
	return &models.SecurityEvent{
		ID:          uuid.New(),
		Kind:        models.EventAnomaly,
		Type:        f.Type,
		OrgID:       f.OrgID,
		UserID:      f.UserID,
		Severity:    f.Severity,
		Description: f.Description,
		Metadata:    meta,
		CreatedAt:   at,
	}
}
