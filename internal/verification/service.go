package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/matcher"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
	"github.com/your-org/faceguard/internal/ratelimit"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user is inactive")
	ErrNoTemplate   = errors.New("no face template registered")
)

const (
	ReasonRateLimited = "rate limited"
	ReasonInactive    = "user inactive"
	ReasonNoTemplate  = "no face template"
	ReasonNoPIN       = "no pin set"
	ReasonWrongPIN    = "incorrect pin"
)

// RateLimitedError is returned when a limiter rejects the attempt.
type RateLimitedError struct {
	Type     ratelimit.Type
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	if e.Decision.BlockedUntil != nil {
		return fmt.Sprintf("%s rate limit exceeded, blocked until %s", e.Type, e.Decision.BlockedUntil.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Type)
}

// UserStore is the slice of the record store verification needs. Lookups
// return nil, nil when nothing matches.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetUserActive(ctx context.Context, id uuid.UUID, active bool, lockedUntil *time.Time) error
	SetPINHash(ctx context.Context, id uuid.UUID, hash string) error
	GetTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error)
	SaveTemplate(ctx context.Context, t *models.FaceTemplate) error
	DeleteTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error)
}

// ImageStore keeps reference images next to templates.
type ImageStore interface {
	PutReference(ctx context.Context, userID uuid.UUID, data []byte, contentType string) (string, error)
	DeleteReference(ctx context.Context, key string) error
}

// Publisher fans security events out to live consumers.
type Publisher interface {
	PublishSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error
}

type Option func(*Service)

func WithImages(s ImageStore) Option { return func(svc *Service) { svc.images = s } }

func WithPublisher(p Publisher) Option { return func(svc *Service) { svc.events = p } }

func WithGeo(g device.GeoResolver) Option { return func(svc *Service) { svc.geo = g } }

func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// Service runs the verification flow: rate limit, compare, audit, then
// device tracking.
type Service struct {
	users   UserStore
	limiter *ratelimit.Limiter
	matcher *matcher.Matcher
	audit   *audit.Logger
	devices *device.Tracker
	images  ImageStore
	events  Publisher
	geo     device.GeoResolver
	now     func() time.Time
}

func NewService(users UserStore, limiter *ratelimit.Limiter, m *matcher.Matcher, log *audit.Logger, devices *device.Tracker, opts ...Option) *Service {
	s := &Service{
		users:   users,
		limiter: limiter,
		matcher: m,
		audit:   log,
		devices: devices,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request carries the context shared by face and PIN verification.
type Request struct {
	UserID   uuid.UUID
	OrgID    uuid.UUID
	Location *models.Location
	Client   device.Attributes
}

type FaceRequest struct {
	Request
	Descriptor    descriptor.Descriptor
	LivenessScore *float64
}

// Result is what the caller gets back. Suspicious lists device findings for
// this attempt; it never changes Verified.
type Result struct {
	matcher.Decision
	AttemptID  uuid.UUID          `json:"attempt_id"`
	Limit      ratelimit.Decision `json:"rate_limit"`
	Suspicious []device.Activity  `json:"suspicious,omitempty"`
}

// faceMetadata is the metadata stored with every face attempt.
type faceMetadata struct {
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Tier      string  `json:"tier"`
	Reason    string  `json:"reason"`
}

// VerifyFace compares the probe against the user's template.
func (s *Service) VerifyFace(ctx context.Context, req FaceRequest) (*Result, error) {
	if err := req.Descriptor.Validate(); err != nil {
		return nil, err
	}
	user, err := s.user(ctx, req.Request)
	if err != nil {
		return nil, err
	}

	info := device.ParseInfo(req.Client, s.geo)
	at := s.newAttempt(req.Request, models.VerificationFace, info)
	at.LivenessScore = req.LivenessScore

	subj := subject(user.ID, info.IP)
	limit, err := s.gate(ctx, ratelimit.Face, subj, user, at)
	if err != nil {
		return nil, err
	}

	tpl, err := s.users.GetTemplate(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tpl == nil {
		s.reject(ctx, at, ReasonNoTemplate)
		return nil, ErrNoTemplate
	}

	d, err := s.matcher.Compare(tpl.Descriptor, req.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("compare with stored template: %w", err)
	}

	at.Success = d.Verified
	score := max(0, 1-d.Distance)
	at.FaceScore = &score
	if !d.Verified {
		at.FailureReason = d.Reason
	}
	at.Metadata, _ = json.Marshal(faceMetadata{Distance: d.Distance, Threshold: d.Threshold, Tier: d.Tier, Reason: d.Reason})

	if d.Verified {
		s.refund(ctx, ratelimit.Face, subj, &limit)
	}

	s.audit.Log(ctx, at)
	observability.Verifications.WithLabelValues(string(models.VerificationFace), result(d.Verified), d.Tier).Inc()
	observability.VerificationDistance.Observe(d.Distance)
	slog.Info("face verification",
		"user_id", user.ID,
		"org_id", user.OrgID,
		"verified", d.Verified,
		"distance", d.Distance,
		"tier", d.Tier,
	)

	return &Result{
		Decision:   d,
		AttemptID:  at.ID,
		Limit:      limit,
		Suspicious: s.observe(ctx, at),
	}, nil
}

func (s *Service) user(ctx context.Context, req Request) (*models.User, error) {
	user, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.OrgID != req.OrgID {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *Service) newAttempt(req Request, typ models.VerificationType, info models.DeviceInfo) *models.Attempt {
	return &models.Attempt{
		ID:        uuid.New(),
		UserID:    req.UserID,
		OrgID:     req.OrgID,
		Type:      typ,
		Location:  req.Location,
		Device:    info,
		CreatedAt: s.now(),
	}
}

// gate applies the rate limit and the active check. Refusals are audited.
// The returned decision is the limiter's view after counting this attempt.
func (s *Service) gate(ctx context.Context, t ratelimit.Type, subj ratelimit.Subject, user *models.User, at *models.Attempt) (ratelimit.Decision, error) {
	dec, err := s.limiter.Check(ctx, t, subj, false)
	if err != nil {
		return dec, err
	}
	if !dec.Allowed {
		s.reject(ctx, at, ReasonRateLimited)
		return dec, &RateLimitedError{Type: t, Decision: dec}
	}
	if !s.active(user) {
		s.reject(ctx, at, ReasonInactive)
		return dec, ErrUserInactive
	}
	return dec, nil
}

// refund gives back the attempt a successful verification used and
// updates dec to match.
func (s *Service) refund(ctx context.Context, t ratelimit.Type, subj ratelimit.Subject, dec *ratelimit.Decision) {
	if err := s.limiter.RecordSuccess(ctx, t, subj); err != nil {
		slog.Warn("refund rate limit", "error", err, "user_id", subj.UserID, "type", t)
		return
	}
	if p, ok := s.limiter.Policy(t); ok && p.SkipSuccessful && dec.Remaining < p.Max {
		dec.Remaining++
	}
}

// active treats an expired lock as lifted even before the worker clears it.
func (s *Service) active(u *models.User) bool {
	if u.Active {
		return true
	}
	return u.LockedUntil != nil && !s.now().Before(*u.LockedUntil)
}

func (s *Service) reject(ctx context.Context, at *models.Attempt, reason string) {
	at.Success = false
	at.FailureReason = reason
	s.audit.Log(ctx, at)
	observability.Verifications.WithLabelValues(string(at.Type), "refused", reason).Inc()
	slog.Info("verification refused", "user_id", at.UserID, "org_id", at.OrgID, "type", at.Type, "reason", reason)
}

// observe updates device history. Storage errors are logged, not returned.
func (s *Service) observe(ctx context.Context, at *models.Attempt) []device.Activity {
	found, err := s.devices.Observe(ctx, device.Observation{
		UserID:   at.UserID,
		OrgID:    at.OrgID,
		Info:     at.Device,
		Location: at.Location,
		At:       at.CreatedAt,
	})
	if err != nil {
		slog.Error("update device history", "error", err, "user_id", at.UserID, "org_id", at.OrgID)
	}
	for _, a := range found {
		s.publish(ctx, ActivityEvent(at.OrgID, at.UserID, a, at.CreatedAt))
	}
	return found
}

func (s *Service) publish(ctx context.Context, ev *models.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSecurityEvent(ctx, ev); err != nil {
		slog.Error("publish security event", "error", err, "org_id", ev.OrgID, "type", ev.Type)
	}
}

// ActivityEvent wraps a device finding for the security bus.
func ActivityEvent(orgID, userID uuid.UUID, a device.Activity, at time.Time) *models.SecurityEvent {
	meta, _ := json.Marshal(a.Details)
	return &models.SecurityEvent{
		ID:          uuid.New(),
		Kind:        models.EventSuspiciousActivity,
		Type:        a.Kind,
		OrgID:       orgID,
		UserID:      &userID,
		Severity:    a.Severity,
		Description: a.Description,
		Metadata:    meta,
		CreatedAt:   at,
	}
}

func subject(userID uuid.UUID, ip string) ratelimit.Subject {
	return ratelimit.Subject{UserID: userID.String(), IP: ip}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
