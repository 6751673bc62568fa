package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
)

const (
	DefaultRetentionDays = 90
	// RepeatedFailureMin and MultiLocationMin define the ready-made alert feeds.
	RepeatedFailureMin = 3
	MultiLocationMin   = 3
	alertWindow        = 24 * time.Hour
	writeTimeout       = 5 * time.Second
)

// Store is the durable, append-only attempt log.
type Store interface {
	AppendAttempt(ctx context.Context, a *models.Attempt) error
	QueryAttempts(ctx context.Context, f models.AttemptFilter) ([]models.Attempt, int, error)
	AttemptsSince(ctx context.Context, orgID uuid.UUID, since time.Time) ([]models.Attempt, error)
	RepeatedFailures(ctx context.Context, orgID uuid.UUID, since time.Time, min int) ([]models.FailureCluster, error)
	MultiLocationUsers(ctx context.Context, orgID uuid.UUID, since time.Time, min int) ([]models.LocationSpread, error)
	PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Spool takes records the store rejected so they can be retried later.
type Spool interface {
	SpoolAttempt(ctx context.Context, a *models.Attempt) error
}

type Option func(*Logger)

func WithSpool(s Spool) Option {
	return func(l *Logger) { l.spool = s }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger writes one record per verification attempt. Writes never fail the
// caller.
type Logger struct {
	store Store
	spool Spool
	now   func() time.Time
}

func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log persists the attempt. Failures are logged, counted and handed to the
// spool; they are never returned.
func (l *Logger) Log(ctx context.Context, a *models.Attempt) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := l.store.AppendAttempt(wctx, a)
	if err == nil {
		return
	}

	observability.AuditWriteFailures.Inc()
	slog.Error("write audit record",
		"error", err,
		"attempt_id", a.ID,
		"user_id", a.UserID,
		"org_id", a.OrgID,
		"type", a.Type,
	)
	if l.spool == nil {
		return
	}
	if err := l.spool.SpoolAttempt(wctx, a); err != nil {
		slog.Error("spool audit record", "error", err, "attempt_id", a.ID)
	}
}

// Retry re-appends a spooled record. Appends are idempotent on ID.
func (l *Logger) Retry(ctx context.Context, a *models.Attempt) error {
	if err := l.store.AppendAttempt(ctx, a); err != nil {
		return fmt.Errorf("retry audit record %s: %w", a.ID, err)
	}
	return nil
}

func (l *Logger) Query(ctx context.Context, f models.AttemptFilter) ([]models.Attempt, int, error) {
	return l.store.QueryAttempts(ctx, f)
}

// ByUser lists a user's attempts, newest first.
func (l *Logger) ByUser(ctx context.Context, userID uuid.UUID, f models.AttemptFilter) ([]models.Attempt, int, error) {
	f.UserID = &userID
	return l.store.QueryAttempts(ctx, f)
}

// ByOrg lists an organization's attempts, newest first.
func (l *Logger) ByOrg(ctx context.Context, orgID uuid.UUID, f models.AttemptFilter) ([]models.Attempt, int, error) {
	f.OrgID = &orgID
	return l.store.QueryAttempts(ctx, f)
}

// FailedAttempts returns failed attempts in the org over the last hours.
func (l *Logger) FailedAttempts(ctx context.Context, orgID uuid.UUID, hours int) ([]models.Attempt, error) {
	failed := false
	return l.recent(ctx, orgID, hours, models.AttemptFilter{Success: &failed})
}

// PINUsage returns PIN attempts in the org over the last hours.
func (l *Logger) PINUsage(ctx context.Context, orgID uuid.UUID, hours int) ([]models.Attempt, error) {
	return l.recent(ctx, orgID, hours, models.AttemptFilter{Type: models.VerificationPIN})
}

func (l *Logger) recent(ctx context.Context, orgID uuid.UUID, hours int, f models.AttemptFilter) ([]models.Attempt, error) {
	if hours <= 0 {
		hours = 24
	}
	from := l.now().Add(-time.Duration(hours) * time.Hour)
	f.OrgID = &orgID
	f.From = &from
	f.Limit = maxPage
	out, _, err := l.store.QueryAttempts(ctx, f)
	return out, err
}

// RepeatedFailures lists users with three or more failures in 24h.
func (l *Logger) RepeatedFailures(ctx context.Context, orgID uuid.UUID) ([]models.FailureCluster, error) {
	return l.store.RepeatedFailures(ctx, orgID, l.now().Add(-alertWindow), RepeatedFailureMin)
}

// MultiLocation lists users seen at more than two distinct locations in 24h.
func (l *Logger) MultiLocation(ctx context.Context, orgID uuid.UUID) ([]models.LocationSpread, error) {
	return l.store.MultiLocationUsers(ctx, orgID, l.now().Add(-alertWindow), MultiLocationMin)
}

// PurgeOlderThan deletes records older than days and returns the count.
func (l *Logger) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := l.now().AddDate(0, 0, -days)
	n, err := l.store.PurgeAttemptsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	slog.Info("purged audit records", "deleted", n, "older_than_days", days)
	return n, nil
}
