package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, critical highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Device is a fingerprint known for a user.
type Device struct {
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	Fingerprint string     `json:"fingerprint" db:"fingerprint"`
	Info        DeviceInfo `json:"info" db:"info"`
	FirstSeen   time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen    time.Time  `json:"last_seen" db:"last_seen"`
	Trusted     bool       `json:"trusted" db:"trusted"`
	Active      bool       `json:"active" db:"active"`
	Count       int        `json:"verification_count" db:"verification_count"`
}

// LocationFix is a timestamped location in a user's history.
type LocationFix struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Location    Location  `json:"location" db:"location"`
	Fingerprint string    `json:"fingerprint,omitempty" db:"fingerprint"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
}

type SecurityEventKind string

const (
	EventSuspiciousActivity SecurityEventKind = "suspicious_activity"
	EventRateLimitBlock     SecurityEventKind = "rate_limit_block"
	EventAnomaly            SecurityEventKind = "anomaly"
)

// SecurityEvent travels on the security bus and out to websocket clients.
type SecurityEvent struct {
	ID          uuid.UUID         `json:"id"`
	Kind        SecurityEventKind `json:"kind"`
	Type        string            `json:"type"`
	OrgID       uuid.UUID         `json:"org_id"`
	UserID      *uuid.UUID        `json:"user_id,omitempty"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
