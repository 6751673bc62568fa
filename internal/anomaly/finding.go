package anomaly

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
)

const (
	TypeTime      = "time_anomaly"
	TypeLocation  = "location_anomaly"
	TypeFrequency = "frequency_anomaly"
	TypeBehavior  = "behavior_anomaly"
)

// TimeDetails describe a clock-in far from the user's baseline.
type TimeDetails struct {
	BaselineHour float64  `json:"baseline_hour"`
	ActualHour   float64  `json:"actual_hour"`
	GapHours     float64  `json:"gap_hours,omitempty"`
	Weekday      string   `json:"weekday,omitempty"`
	TypicalDays  []string `json:"typical_days,omitempty"`
}

type LocationDetails struct {
	NearestKm float64         `json:"nearest_km"`
	Location  models.Location `json:"location"`
	Typical   int             `json:"typical_locations"`
}

type FrequencyDetails struct {
	Attempts int     `json:"attempts"`
	Failures int     `json:"failures"`
	PINUses  int     `json:"pin_uses"`
	Rate     float64 `json:"rate,omitempty"`
	Signal   string  `json:"signal"`
}

type BehaviorDetails struct {
	RunLength int       `json:"run_length"`
	Signal    string    `json:"signal"`
	FirstAt   time.Time `json:"first_at"`
	LastAt    time.Time `json:"last_at"`
}

// Details holds exactly one populated member, matching the finding type.
type Details struct {
	Time      *TimeDetails      `json:"time,omitempty"`
	Location  *LocationDetails  `json:"location,omitempty"`
	Frequency *FrequencyDetails `json:"frequency,omitempty"`
	Behavior  *BehaviorDetails  `json:"behavior,omitempty"`
}

// Finding is one anomaly. Findings are recomputed on every run.
type Finding struct {
	Type        string          `json:"type"`
	Severity    models.Severity `json:"severity"`
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	UserID      *uuid.UUID      `json:"user_id,omitempty"`
	OrgID       uuid.UUID       `json:"org_id"`
	Details     Details         `json:"details"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Sort orders findings by severity, then confidence, both descending.
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].Confidence > findings[j].Confidence
	})
}

// RiskScore is a capped weighted sum: 3 points per failure (max 30), 2 per
// PIN use (max 20) and 5 per finding (max 50).
func RiskScore(failures, pinUses, findings int) int {
	return min(30, 3*failures) + min(20, 2*pinUses) + min(50, 5*findings)
}
