package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type VerificationType string

const (
	VerificationFace VerificationType = "face"
	VerificationPIN  VerificationType = "pin"
)

// Location is a GPS fix attached to an attempt.
type Location struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// DeviceInfo is the parsed request context stored with every attempt.
type DeviceInfo struct {
	Fingerprint    string `json:"fingerprint,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	Device         string `json:"device,omitempty"`
	IP             string `json:"ip,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// Attempt is one immutable audit record of a verification.
type Attempt struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	OrgID         uuid.UUID        `json:"org_id" db:"org_id"`
	Type          VerificationType `json:"type" db:"verification_type"`
	Success       bool             `json:"success" db:"success"`
	FaceScore     *float64         `json:"face_score,omitempty" db:"face_confidence"`
	LivenessScore *float64         `json:"liveness_score,omitempty" db:"liveness_score"`
	Location      *Location        `json:"location,omitempty" db:"location"`
	Device        DeviceInfo       `json:"device" db:"device_info"`
	FailureReason string           `json:"failure_reason,omitempty" db:"failure_reason"`
	Metadata      json.RawMessage  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// AttemptFilter narrows audit queries. Zero values mean "any".
type AttemptFilter struct {
	UserID  *uuid.UUID
	OrgID   *uuid.UUID
	Type    VerificationType
	Success *bool
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// FailureCluster is a user with repeated failures inside a window.
type FailureCluster struct {
	UserID   uuid.UUID `json:"user_id"`
	OrgID    uuid.UUID `json:"org_id"`
	Failures int       `json:"failures"`
	LastAt   time.Time `json:"last_at"`
}

// LocationSpread is a user seen at several distinct locations inside a window.
type LocationSpread struct {
	UserID    uuid.UUID  `json:"user_id"`
	OrgID     uuid.UUID  `json:"org_id"`
	Locations []Location `json:"locations"`
}
