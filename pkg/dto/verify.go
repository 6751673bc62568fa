package dto

import (
	"github.com/google/uuid"
)

// Location is a client GPS fix.
type Location struct {
	Lat      float64  `json:"lat" binding:"gte=-90,lte=90"`
	Lon      float64  `json:"lon" binding:"gte=-180,lte=180"`
	Accuracy *float64 `json:"accuracy,omitempty" binding:"omitempty,gte=0"`
}

// DeviceHints are optional client-side properties folded into the device
// fingerprint.
type DeviceHints struct {
	ScreenResolution string `json:"screen_resolution,omitempty" binding:"max=32"`
	Timezone         string `json:"timezone,omitempty" binding:"max=64"`
	Platform         string `json:"platform,omitempty" binding:"max=64"`
	Browser          string `json:"browser,omitempty" binding:"max=64"`
	DeviceType       string `json:"device_type,omitempty" binding:"max=32"`
}

type VerifyFaceRequest struct {
	UserID        uuid.UUID    `json:"user_id" binding:"required"`
	OrgID         uuid.UUID    `json:"org_id" binding:"required"`
	Descriptor    []float32    `json:"descriptor" binding:"required,descriptor"`
	Location      *Location    `json:"location,omitempty"`
	DeviceHints   *DeviceHints `json:"device_hints,omitempty"`
	LivenessScore *float64     `json:"liveness_score,omitempty" binding:"omitempty,gte=0,lte=100"`
}

type VerifyPINRequest struct {
	UserID      uuid.UUID    `json:"user_id" binding:"required"`
	OrgID       uuid.UUID    `json:"org_id" binding:"required"`
	PIN         string       `json:"pin" binding:"required,pin"`
	Location    *Location    `json:"location,omitempty"`
	DeviceHints *DeviceHints `json:"device_hints,omitempty"`
}

type SetPINRequest struct {
	OrgID uuid.UUID `json:"org_id" binding:"required"`
	PIN   string    `json:"pin" binding:"required"`
}

// SuspiciousActivity is a device finding reported with a verification.
type SuspiciousActivity struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Details     any    `json:"details,omitempty"`
}

type VerifyResponse struct {
	Verified   bool                 `json:"verified"`
	Distance   *float64             `json:"distance,omitempty"`
	Threshold  *float64             `json:"threshold,omitempty"`
	Tier       string               `json:"tier,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	AttemptID  uuid.UUID            `json:"attempt_id"`
	Remaining  *int                 `json:"remaining,omitempty"`
	ResetAt    string               `json:"reset_at,omitempty"`
	Suspicious []SuspiciousActivity `json:"suspicious"`
}

type RegisterFaceRequest struct {
	OrgID   uuid.UUID   `json:"org_id" binding:"required"`
	Samples [][]float32 `json:"samples" binding:"required,min=1,max=10,dive,descriptor"`
}

type TemplateResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	OrgID       uuid.UUID `json:"org_id"`
	SampleCount int       `json:"sample_count"`
	HasImage    bool      `json:"has_image"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

type CaptureCheckResponse struct {
	OK            bool        `json:"ok"`
	Gate          string      `json:"gate,omitempty"`
	Message       string      `json:"message,omitempty"`
	QualityScore  float64     `json:"quality_score"`
	LivenessScore *float64    `json:"liveness_score,omitempty"`
	Reflection    *Reflection `json:"reflection,omitempty"`
	Blur          float64     `json:"blur,omitempty"`
	Brightness    float64     `json:"brightness,omitempty"`
	Box           *[4]float32 `json:"box,omitempty"`
	Confidence    *float32    `json:"confidence,omitempty"`
}

// Reflection is the screen-replay check on the uploaded frame.
type Reflection struct {
	Suspected       bool    `json:"suspected"`
	SaturationRatio float64 `json:"saturation_ratio"`
	ValueStd        float64 `json:"value_std"`
	Confidence      float64 `json:"confidence"`
}

type ErrorResponse struct {
	Error             string `json:"error"`
	Remaining         *int   `json:"remaining,omitempty"`
	ResetAt           string `json:"reset_at,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	BlockedUntil      string `json:"blocked_until,omitempty"`
}
