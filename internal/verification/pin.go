package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
	"github.com/your-org/faceguard/internal/ratelimit"
)

var (
	ErrInvalidPIN = errors.New("pin must be 4 to 8 digits")
	ErrNoPIN      = errors.New("no pin set")
)

const (
	minPINLen = 4
	maxPINLen = 8
)

// ValidPIN reports whether pin is 4 to 8 ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) < minPINLen || len(pin) > maxPINLen {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type PINRequest struct {
	Request
	PIN string
}

type PINResult struct {
	Verified   bool               `json:"verified"`
	Reason     string             `json:"reason,omitempty"`
	AttemptID  uuid.UUID          `json:"attempt_id"`
	Limit      ratelimit.Decision `json:"rate_limit"`
	Suspicious []device.Activity  `json:"suspicious,omitempty"`
}

// VerifyPIN is the fallback when face capture is not possible.
func (s *Service) VerifyPIN(ctx context.Context, req PINRequest) (*PINResult, error) {
	if !ValidPIN(req.PIN) {
		return nil, ErrInvalidPIN
	}
	user, err := s.user(ctx, req.Request)
	if err != nil {
		return nil, err
	}

	info := device.ParseInfo(req.Client, s.geo)
	at := s.newAttempt(req.Request, models.VerificationPIN, info)
	subj := subject(user.ID, info.IP)
	limit, err := s.gate(ctx, ratelimit.PIN, subj, user, at)
	if err != nil {
		return nil, err
	}
	if user.PINHash == "" {
		s.reject(ctx, at, ReasonNoPIN)
		return nil, ErrNoPIN
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(req.PIN))
	switch {
	case err == nil:
		at.Success = true
		s.refund(ctx, ratelimit.PIN, subj, &limit)
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		at.FailureReason = ReasonWrongPIN
	default:
		return nil, fmt.Errorf("compare pin hash: %w", err)
	}

	s.audit.Log(ctx, at)
	observability.Verifications.WithLabelValues(string(models.VerificationPIN), result(at.Success), "").Inc()
	slog.Info("pin verification", "user_id", user.ID, "org_id", user.OrgID, "verified", at.Success)

	return &PINResult{
		Verified:   at.Success,
		Reason:     at.FailureReason,
		AttemptID:  at.ID,
		Limit:      limit,
		Suspicious: s.observe(ctx, at),
	}, nil
}

// SetPIN hashes and stores a new PIN. It is limited per user under the
// pin_setup policy.
func (s *Service) SetPIN(ctx context.Context, req PINRequest) error {
	user, err := s.user(ctx, req.Request)
	if err != nil {
		return err
	}
	subj := subject(user.ID, device.ParseInfo(req.Client, nil).IP)
	dec, err := s.limiter.Check(ctx, ratelimit.PINSetup, subj, false)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return &RateLimitedError{Type: ratelimit.PINSetup, Decision: dec}
	}
	if !ValidPIN(req.PIN) {
		return ErrInvalidPIN
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := s.users.SetPINHash(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("store pin hash: %w", err)
	}
	slog.Info("pin updated", "user_id", user.ID, "org_id", user.OrgID)
	return nil
}
