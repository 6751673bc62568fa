package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
)

type DeviceResponse struct {
	Fingerprint string `json:"fingerprint"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	Trusted     bool   `json:"trusted"`
	Count       int    `json:"verification_count"`
	FirstSeen   string `json:"first_seen"`
	LastSeen    string `json:"last_seen"`
}

type Page struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type AttemptsResponse struct {
	Attempts []models.Attempt `json:"attempts"`
	Page
}

type AnomalyResponse struct {
	OrgID          uuid.UUID `json:"org_id"`
	Findings       any       `json:"findings"`
	RiskScore      int       `json:"risk_score"`
	FailedAttempts int       `json:"failed_attempts"`
	PINUses        int       `json:"pin_uses"`
	From           string    `json:"from"`
	GeneratedAt    string    `json:"generated_at"`
}

type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
	Days    int   `json:"days"`
}
