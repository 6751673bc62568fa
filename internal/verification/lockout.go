package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/ratelimit"
)

// Lockout deactivates users whose authentication limit trips, until the
// block ends. Register Handle with ratelimit.WithBlockHandler.
type Lockout struct {
	users  UserStore
	events Publisher
}

func NewLockout(users UserStore, events Publisher) *Lockout {
	return &Lockout{users: users, events: events}
}

type blockMetadata struct {
	LimitType    ratelimit.Type `json:"limit_type"`
	Key          string         `json:"key"`
	IP           string         `json:"ip,omitempty"`
	BlockedUntil time.Time      `json:"blocked_until"`
}

// Handle runs on the check that starts a block. Only user-keyed face and
// PIN limits lock the account.
func (l *Lockout) Handle(ctx context.Context, ev ratelimit.BlockEvent) {
	if ev.Type != ratelimit.Face && ev.Type != ratelimit.PIN {
		return
	}
	if ev.Subject.UserID == "" {
		return
	}
	id, err := uuid.Parse(ev.Subject.UserID)
	if err != nil {
		slog.Warn("lockout for unparseable user id", "user_id", ev.Subject.UserID)
		return
	}
	if err := l.lock(ctx, id, ev); err != nil {
		slog.Error("lock user", "error", err, "user_id", id, "type", ev.Type)
	}
}

func (l *Lockout) lock(ctx context.Context, id uuid.UUID, ev ratelimit.BlockEvent) error {
	user, err := l.users.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	until := ev.BlockedUntil
	if err := l.users.SetUserActive(ctx, id, false, &until); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	slog.Warn("user locked", "user_id", id, "org_id", user.OrgID, "type", ev.Type, "locked_until", until)

	if l.events == nil {
		return nil
	}
	meta, _ := json.Marshal(blockMetadata{LimitType: ev.Type, Key: ev.Key, IP: ev.Subject.IP, BlockedUntil: until})
	return l.events.PublishSecurityEvent(ctx, &models.SecurityEvent{
		ID:          uuid.New(),
		Kind:        models.EventRateLimitBlock,
		Type:        string(ev.Type),
		OrgID:       user.OrgID,
		UserID:      &id,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("%s attempts exceeded, account locked until %s", ev.Type, until.Format(time.RFC3339)),
		Metadata:    meta,
		CreatedAt:   time.Now(),
	})
}
