package matcher

import (
	"fmt"

	"github.com/your-org/faceguard/internal/descriptor"
)

const DefaultThreshold = 0.6

// Tier labels recorded with every decision.
const (
	TierHigh     = "high confidence"
	TierMedium   = "medium confidence"
	TierLow      = "low confidence"
	TierRejected = "rejected"
)

// Upper distance bounds for each accepting tier. Nothing above boundLow is
// ever accepted, whatever the configured threshold.
const (
	boundHigh   = 0.15
	boundMedium = 0.20
	boundLow    = 0.25
)

// Decision is the outcome of comparing a probe to a stored template.
type Decision struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Tier      string  `json:"tier"`
	Reason    string  `json:"reason"`
}

// Matcher compares normalized descriptors against a tiered policy.
type Matcher struct {
	threshold float64
}

// New returns a Matcher; a non-positive threshold falls back to DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold is the distance above which a comparison is rejected.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Compare normalizes both descriptors and classifies their distance.
func (m *Matcher) Compare(template, probe descriptor.Descriptor) (Decision, error) {
	if len(template) != len(probe) {
		return Decision{}, fmt.Errorf("compare: %w: template %d, probe %d",
			descriptor.ErrDimensionMismatch, len(template), len(probe))
	}
	dist, err := descriptor.Distance(descriptor.Normalize(template), descriptor.Normalize(probe))
	if err != nil {
		return Decision{}, fmt.Errorf("compare: %w", err)
	}
	return m.Classify(dist), nil
}

// Classify maps a raw distance onto a tier.
func (m *Matcher) Classify(dist float64) Decision {
	d := Decision{Distance: dist, Threshold: m.threshold}

	switch {
	case dist > m.threshold:
		d.Tier = TierRejected
		d.Reason = fmt.Sprintf("distance %.4f exceeds threshold %.2f", dist, m.threshold)
	case dist <= boundHigh:
		d.Verified = true
		d.Tier = TierHigh
		d.Reason = fmt.Sprintf("distance %.4f within %.2f", dist, boundHigh)
	case dist <= boundMedium:
		d.Verified = true
		d.Tier = TierMedium
		d.Reason = fmt.Sprintf("distance %.4f within %.2f", dist, boundMedium)
	case dist <= boundLow:
		d.Verified = true
		d.Tier = TierLow
		d.Reason = fmt.Sprintf("distance %.4f within %.2f", dist, boundLow)
	default:
		d.Tier = TierRejected
		d.Reason = fmt.Sprintf("distance %.4f above acceptance cap %.2f", dist, boundLow)
	}
	return d
}

// TierRank orders tiers from most (3) to least (0) confident.
func TierRank(tier string) int {
	switch tier {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}
