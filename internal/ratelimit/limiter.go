package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/faceguard/internal/config"
	"github.com/your-org/faceguard/internal/observability"
)

var ErrUnknownType = errors.New("unknown rate limit type")

// Type identifies which verification flow a limit applies to.
type Type string

const (
	Face     Type = "face"
	PIN      Type = "pin"
	PINSetup Type = "pin_setup"
)

// Policy is the window, budget and lockout for one limit type.
type Policy struct {
	Window         time.Duration `yaml:"window"`
	Max            int           `yaml:"max"`
	Block          time.Duration `yaml:"block"`
	SkipSuccessful bool          `yaml:"skip_successful"`
}

func DefaultPolicies() map[Type]Policy {
	return map[Type]Policy{
		Face:     {Window: 5 * time.Minute, Max: 5, Block: 15 * time.Minute, SkipSuccessful: true},
		PIN:      {Window: 15 * time.Minute, Max: 5, Block: 30 * time.Minute, SkipSuccessful: true},
		PINSetup: {Window: time.Hour, Max: 3, Block: 2 * time.Hour},
	}
}

// Subject is who is being limited. UserID wins over IP when set.
type Subject struct {
	UserID string
	IP     string
}

// Key builds the counter key: "type:user:<id>" or "type:ip:<addr>".
func Key(t Type, s Subject) string {
	if s.UserID != "" {
		return fmt.Sprintf("%s:user:%s", t, s.UserID)
	}
	return fmt.Sprintf("%s:ip:%s", t, s.IP)
}

// Decision is the result of one check.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	Remaining    int           `json:"remaining"`
	ResetAt      time.Time     `json:"reset_at"`
	BlockedUntil *time.Time    `json:"blocked_until,omitempty"`
	RetryAfter   time.Duration `json:"-"`
	// JustBlocked is set on the check that tripped the block.
	JustBlocked bool `json:"-"`
}

// Store holds counters. Implementations must make CheckAndIncrement atomic
// per key.
type Store interface {
	CheckAndIncrement(ctx context.Context, key string, p Policy, now time.Time, count bool) (Decision, error)
	Decrement(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// BlockEvent is emitted when a subject first exceeds its limit.
type BlockEvent struct {
	Type         Type
	Key          string
	Subject      Subject
	BlockedUntil time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPolicy overrides the policy for one type.
func WithPolicy(t Type, p Policy) Option {
	return func(l *Limiter) { l.policies[t] = p }
}

// PolicyOptions turns configured overrides into WithPolicy options. Zero
// fields keep the default for that type.
func PolicyOptions(overrides map[string]config.PolicyConfig) ([]Option, error) {
	defaults := DefaultPolicies()
	var opts []Option
	for name, o := range overrides {
		t := Type(name)
		p, ok := defaults[t]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
		}
		if o.Window > 0 {
			p.Window = o.Window
		}
		if o.Max > 0 {
			p.Max = o.Max
		}
		if o.Block > 0 {
			p.Block = o.Block
		}
		p.SkipSuccessful = p.SkipSuccessful || o.SkipSuccessful
		opts = append(opts, WithPolicy(t, p))
	}
	return opts, nil
}

// WithBlockHandler registers a callback run synchronously when a block
// starts.
func WithBlockHandler(fn func(ctx context.Context, ev BlockEvent)) Option {
	return func(l *Limiter) { l.onBlock = append(l.onBlock, fn) }
}

// Limiter applies per-type policies over a swappable Store.
type Limiter struct {
	store    Store
	policies map[Type]Policy
	now      func() time.Time
	onBlock  []func(ctx context.Context, ev BlockEvent)
}

// New returns a Limiter over store with the default policies, adjusted by opts.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: DefaultPolicies(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Policy(t Type) (Policy, bool) {
	p, ok := l.policies[t]
	return p, ok
}

// Check counts one attempt for the subject. Attempts marked successful are
// not counted when the policy skips successes. While blocked, the attempt
// is rejected without touching the counter.
func (l *Limiter) Check(ctx context.Context, t Type, s Subject, successful bool) (Decision, error) {
	p, ok := l.policies[t]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	key := Key(t, s)
	now := l.now()

	d, err := l.store.CheckAndIncrement(ctx, key, p, now, !(successful && p.SkipSuccessful))
	if err != nil {
		return Decision{}, fmt.Errorf("check rate limit %s: %w", key, err)
	}
	if d.BlockedUntil != nil {
		d.RetryAfter = d.BlockedUntil.Sub(now)
	}

	if d.JustBlocked {
		observability.RateLimitBlocks.WithLabelValues(string(t)).Inc()
		slog.Warn("rate limit exceeded",
			"type", t,
			"key", key,
			"user_id", s.UserID,
			"ip", s.IP,
			"blocked_until", d.BlockedUntil,
		)
		ev := BlockEvent{Type: t, Key: key, Subject: s, BlockedUntil: *d.BlockedUntil}
		for _, fn := range l.onBlock {
			fn(ctx, ev)
		}
	}
	return d, nil
}

// RecordSuccess refunds an attempt already counted by Check when the
// policy skips successful attempts.
func (l *Limiter) RecordSuccess(ctx context.Context, t Type, s Subject) error {
	p, ok := l.policies[t]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if !p.SkipSuccessful {
		return nil
	}
	return l.store.Decrement(ctx, Key(t, s))
}

// Reset clears the counter and any block for the subject.
func (l *Limiter) Reset(ctx context.Context, t Type, s Subject) error {
	return l.store.Reset(ctx, Key(t, s))
}

// RunSweeper purges expired entries every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.store.Sweep(ctx, l.now())
			if err != nil {
				slog.Warn("rate limit sweep", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("rate limit sweep", "purged", n)
			}
		}
	}
}
