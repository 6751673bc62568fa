package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/geo"
	"github.com/your-org/faceguard/internal/models"
)

const (
	clockGapHours     = 2.0
	unusualDistanceKm = 5.0
	farDistanceKm     = 50.0
	burstAttempts     = 10
	heavyAttempts     = 20
	rapidGap          = 5 * time.Second
	rapidRun          = 3
	failureStreak     = 5
)

// Baseline summarizes a user's attendance history.
type Baseline struct {
	ClockIn  float64
	ClockOut float64
	Weekdays map[time.Weekday]bool
	Places   []geo.Point
	Records  int
}

func hourOf(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

// BuildBaseline averages clock-in/out times and collects weekdays and
// distinct places. Times are read in tz.
func BuildBaseline(records []models.AttendanceRecord, tz *time.Location) Baseline {
	b := Baseline{Weekdays: make(map[time.Weekday]bool)}
	seen := make(map[[2]float64]bool)
	var in, out float64
	var outs int
	for _, r := range records {
		ci := r.ClockIn.In(tz)
		in += hourOf(ci)
		b.Weekdays[ci.Weekday()] = true
		if r.ClockOut != nil {
			out += hourOf(r.ClockOut.In(tz))
			outs++
		}
		if r.Location != nil {
			k := audit.LocationKey(*r.Location)
			if !seen[k] {
				seen[k] = true
				b.Places = append(b.Places, geo.Point{Lat: r.Location.Lat, Lon: r.Location.Lon})
			}
		}
	}
	b.Records = len(records)
	if b.Records > 0 {
		b.ClockIn = in / float64(b.Records)
	}
	if outs > 0 {
		b.ClockOut = out / float64(outs)
	}
	return b
}

func (b Baseline) days() []string {
	var out []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if b.Weekdays[d] {
			out = append(out, d.String())
		}
	}
	return out
}

func (e *Engine) baseline(ctx context.Context, userID uuid.UUID) (Baseline, error) {
	since := e.now().AddDate(0, 0, -e.cfg.BaselineDays)
	records, err := e.src.AttendanceSince(ctx, userID, since)
	if err != nil {
		return Baseline{}, fmt.Errorf("attendance history for %s: %w", userID, err)
	}
	return BuildBaseline(records, e.cfg.Timezone), nil
}

func (e *Engine) timeAnomalies(ctx context.Context, orgID uuid.UUID, since time.Time) ([]Finding, error) {
	attempts, err := e.src.AttemptsSince(ctx, orgID, since)
	if err != nil {
		return nil, err
	}
	groups, users := byUser(attempts)

	var out []Finding
	for _, uid := range users {
		b, err := e.baseline(ctx, uid)
		if err != nil {
			return nil, err
		}
		if b.Records == 0 {
			continue
		}
		for _, a := range groups[uid] {
			at := a.CreatedAt.In(e.cfg.Timezone)
			h := hourOf(at)
			gap := math.Abs(h - b.ClockIn)
			if gap > clockGapHours {
				sev := models.SeverityLow
				switch {
				case gap > 4:
					sev = models.SeverityHigh
				case gap > 3:
					sev = models.SeverityMedium
				}
				out = append(out, Finding{
					Type:        TypeTime,
					Severity:    sev,
					Description: fmt.Sprintf("clock-in at %s is %.1fh from the usual %s", at.Format("15:04"), gap, clock(b.ClockIn)),
					Confidence:  math.Min(95, gap*15),
					UserID:      userRef(uid),
					OrgID:       orgID,
					Details:     Details{Time: &TimeDetails{BaselineHour: b.ClockIn, ActualHour: h, GapHours: gap}},
					Timestamp:   a.CreatedAt,
				})
			}
			if !b.Weekdays[at.Weekday()] {
				out = append(out, Finding{
					Type:        TypeTime,
					Severity:    models.SeverityMedium,
					Description: fmt.Sprintf("attempt on %s, which is not a usual working day", at.Weekday()),
					Confidence:  80,
					UserID:      userRef(uid),
					OrgID:       orgID,
					Details: Details{Time: &TimeDetails{
						BaselineHour: b.ClockIn,
						ActualHour:   h,
						Weekday:      at.Weekday().String(),
						TypicalDays:  b.days(),
					}},
					Timestamp: a.CreatedAt,
				})
			}
		}
	}
	return out, nil
}

func clock(h float64) string {
	m := int(math.Round(h * 60))
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func (e *Engine) locationAnomalies(ctx context.Context, orgID uuid.UUID, since time.Time) ([]Finding, error) {
	attempts, err := e.src.AttemptsSince(ctx, orgID, since)
	if err != nil {
		return nil, err
	}
	groups, users := byUser(attempts)

	var out []Finding
	for _, uid := range users {
		var tagged []models.Attempt
		for _, a := range groups[uid] {
			if a.Location != nil {
				tagged = append(tagged, a)
			}
		}
		if len(tagged) == 0 {
			continue
		}
		b, err := e.baseline(ctx, uid)
		if err != nil {
			return nil, err
		}
		if len(b.Places) == 0 {
			continue
		}
		for _, a := range tagged {
			p := geo.Point{Lat: a.Location.Lat, Lon: a.Location.Lon}
			km, ok := geo.Nearest(p, b.Places)
			if !ok {
				continue
			}
			if km <= unusualDistanceKm {
				continue
			}
			sev := models.SeverityMedium
			if km > farDistanceKm {
				sev = models.SeverityHigh
			}
			out = append(out, Finding{
				Type:        TypeLocation,
				Severity:    sev,
				Description: fmt.Sprintf("attempt %.1f km from the nearest usual location", km),
				Confidence:  math.Min(95, 50+km),
				UserID:      userRef(uid),
				OrgID:       orgID,
				Details:     Details{Location: &LocationDetails{NearestKm: km, Location: *a.Location, Typical: len(b.Places)}},
				Timestamp:   a.CreatedAt,
			})
		}
	}
	return out, nil
}

func (e *Engine) frequencyAnomalies(ctx context.Context, orgID uuid.UUID, since time.Time) ([]Finding, error) {
	attempts, err := e.src.AttemptsSince(ctx, orgID, since)
	if err != nil {
		return nil, err
	}
	groups, users := byUser(attempts)
	now := e.now()

	var out []Finding
	for _, uid := range users {
		list := groups[uid]
		total := len(list)
		var failures, pins int
		for _, a := range list {
			if !a.Success {
				failures++
			}
			if a.Type == models.VerificationPIN {
				pins++
			}
		}
		details := func(signal string, rate float64) Details {
			return Details{Frequency: &FrequencyDetails{Attempts: total, Failures: failures, PINUses: pins, Rate: rate, Signal: signal}}
		}
		finding := func(sev models.Severity, conf float64, desc string, d Details) Finding {
			return Finding{Type: TypeFrequency, Severity: sev, Description: desc, Confidence: conf, UserID: userRef(uid), OrgID: orgID, Details: d, Timestamp: now}
		}

		if total > burstAttempts {
			sev := models.SeverityMedium
			if total > heavyAttempts {
				sev = models.SeverityHigh
			}
			out = append(out, finding(sev, math.Min(95, float64(total)*5),
				fmt.Sprintf("%d verification attempts in the window", total), details("volume", 0)))
		}

		failRate := float64(failures) / float64(total)
		if total >= 3 && failRate > 0.5 {
			sev := models.SeverityMedium
			if failRate > 0.8 {
				sev = models.SeverityHigh
			}
			out = append(out, finding(sev, math.Min(95, failRate*100),
				fmt.Sprintf("%d of %d attempts failed", failures, total), details("failure_rate", failRate)))
		}

		pinRate := float64(pins) / float64(total)
		if pinRate > 0.3 {
			sev := models.SeverityMedium
			if pinRate > 0.6 {
				sev = models.SeverityHigh
			}
			out = append(out, finding(sev, math.Min(95, pinRate*100),
				fmt.Sprintf("PIN used for %d of %d attempts", pins, total), details("pin_rate", pinRate)))
		}
	}
	return out, nil
}

func (e *Engine) behaviorAnomalies(ctx context.Context, orgID uuid.UUID, since time.Time) ([]Finding, error) {
	attempts, err := e.src.AttemptsSince(ctx, orgID, since)
	if err != nil {
		return nil, err
	}
	groups, users := byUser(attempts)

	var out []Finding
	for _, uid := range users {
		list := groups[uid]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

		for _, run := range rapidRuns(list) {
			first, last := run[0].CreatedAt, run[len(run)-1].CreatedAt
			out = append(out, Finding{
				Type:        TypeBehavior,
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("%d attempts less than %s apart", len(run), rapidGap),
				Confidence:  90,
				UserID:      userRef(uid),
				OrgID:       orgID,
				Details:     Details{Behavior: &BehaviorDetails{RunLength: len(run), Signal: "rapid_attempts", FirstAt: first, LastAt: last}},
				Timestamp:   last,
			})
		}
		for _, run := range failureRuns(list) {
			n := len(run)
			sev := models.SeverityMedium
			switch {
			case n >= 15:
				sev = models.SeverityCritical
			case n >= 10:
				sev = models.SeverityHigh
			}
			first, last := run[0].CreatedAt, run[n-1].CreatedAt
			out = append(out, Finding{
				Type:        TypeBehavior,
				Severity:    sev,
				Description: fmt.Sprintf("%d consecutive failed attempts", n),
				Confidence:  math.Min(95, float64(n)*15),
				UserID:      userRef(uid),
				OrgID:       orgID,
				Details:     Details{Behavior: &BehaviorDetails{RunLength: n, Signal: "failure_streak", FirstAt: first, LastAt: last}},
				Timestamp:   last,
			})
		}
	}
	return out, nil
}

// rapidRuns returns maximal runs of at least rapidRun attempts where each
// consecutive pair is under rapidGap apart.
func rapidRuns(list []models.Attempt) [][]models.Attempt {
	var runs [][]models.Attempt
	start := 0
	for i := 1; i <= len(list); i++ {
		if i < len(list) && list[i].CreatedAt.Sub(list[i-1].CreatedAt) < rapidGap {
			continue
		}
		if i-start >= rapidRun {
			runs = append(runs, list[start:i])
		}
		start = i
	}
	return runs
}

// failureRuns returns maximal runs of more than failureStreak failures.
func failureRuns(list []models.Attempt) [][]models.Attempt {
	var runs [][]models.Attempt
	start := -1
	for i := 0; i <= len(list); i++ {
		if i < len(list) && !list[i].Success {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start > failureStreak {
			runs = append(runs, list[start:i])
		}
		start = -1
	}
	return runs
}
