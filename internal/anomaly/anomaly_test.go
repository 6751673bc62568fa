package anomaly_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
)

// Saturday.
var now = time.Date(2026, 5, 9, 15, 0, 0, 0, time.UTC)

var office = models.Location{Lat: 52.5200, Lon: 13.4050}

type source struct {
	*audit.MemoryStore
	attendance  map[uuid.UUID][]models.AttendanceRecord
	failHistory bool
}

func newSource() *source {
	return &source{MemoryStore: audit.NewMemoryStore(), attendance: map[uuid.UUID][]models.AttendanceRecord{}}
}

func (s *source) AttendanceSince(_ context.Context, userID uuid.UUID, since time.Time) ([]models.AttendanceRecord, error) {
	if s.failHistory {
		return nil, errors.New("attendance table unavailable")
	}
	var out []models.AttendanceRecord
	for _, r := range s.attendance[userID] {
		if !r.ClockIn.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *source) add(user, org uuid.UUID, typ models.VerificationType, ok bool, at time.Time, loc *models.Location) {
	_ = s.AppendAttempt(context.Background(), &models.Attempt{
		ID: uuid.New(), UserID: user, OrgID: org, Type: typ, Success: ok, CreatedAt: at, Location: loc,
	})
}

// weekdayHistory clocks the user in at 09:00 and out at 17:00 at the office
// on every weekday of the previous four weeks.
func weekdayHistory(s *source, user uuid.UUID) {
	for d := 1; d <= 28; d++ {
		day := now.AddDate(0, 0, -d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		in := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
		out := in.Add(8 * time.Hour)
		loc := office
		s.attendance[user] = append(s.attendance[user], models.AttendanceRecord{UserID: user, ClockIn: in, ClockOut: &out, Location: &loc})
	}
}

func engine(s *source) *anomaly.Engine {
	e := anomaly.NewEngine(s, anomaly.DefaultConfig())
	e.SetClock(func() time.Time { return now })
	return e
}

func ofType(fs []anomaly.Finding, typ string) []anomaly.Finding {
	var out []anomaly.Finding
	for _, f := range fs {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestTimeAnomalies(t *testing.T) {
	Convey("Given a user who always clocks in at 09:00 on weekdays", t, func() {
		s := newSource()
		org, user := uuid.New(), uuid.New()
		weekdayHistory(s, user)

		Convey("When they clock in at 14:00 on a Saturday", func() {
			s.add(user, org, models.VerificationFace, true, time.Date(2026, 5, 9, 14, 0, 0, 0, time.UTC), &office)
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)

			timeFindings := ofType(found, anomaly.TypeTime)
			So(len(timeFindings), ShouldEqual, 2)

			Convey("Then the hour gap is a high severity finding for that user", func() {
				gap := timeFindings[0]
				So(*gap.UserID, ShouldEqual, user)
				So(gap.Severity, ShouldEqual, models.SeverityHigh)
				So(gap.Confidence, ShouldAlmostEqual, 75)
				So(gap.Details.Time.BaselineHour, ShouldAlmostEqual, 9)
				So(gap.Details.Time.GapHours, ShouldAlmostEqual, 5)
			})

			Convey("And the weekday is flagged at medium severity", func() {
				day := timeFindings[1]
				So(day.Severity, ShouldEqual, models.SeverityMedium)
				So(day.Confidence, ShouldEqual, 80)
				So(day.Details.Time.Weekday, ShouldEqual, "Saturday")
				So(day.Details.Time.TypicalDays, ShouldNotContain, "Saturday")
			})
		})

		Convey("When they clock in at 10:30", func() {
			s.add(user, org, models.VerificationFace, true, time.Date(2026, 5, 8, 10, 30, 0, 0, time.UTC), &office)
			found, err := engine(s).Detect(context.Background(), org, 48*time.Hour)
			So(err, ShouldBeNil)
			So(ofType(found, anomaly.TypeTime), ShouldBeEmpty)
		})

		Convey("When they clock in at 12:30 on a Friday", func() {
			s.add(user, org, models.VerificationFace, true, time.Date(2026, 5, 8, 12, 30, 0, 0, time.UTC), &office)
			found, err := engine(s).Detect(context.Background(), org, 48*time.Hour)
			So(err, ShouldBeNil)
			tf := ofType(found, anomaly.TypeTime)
			So(len(tf), ShouldEqual, 1)
			So(tf[0].Severity, ShouldEqual, models.SeverityMedium)
		})
	})

	Convey("Given a user with no attendance history", t, func() {
		s := newSource()
		org := uuid.New()
		s.add(uuid.New(), org, models.VerificationFace, true, now.Add(-time.Hour), nil)
		found, err := engine(s).Detect(context.Background(), org, 0)
		So(err, ShouldBeNil)
		So(ofType(found, anomaly.TypeTime), ShouldBeEmpty)
	})
}

func TestLocationAnomalies(t *testing.T) {
	Convey("Given a user who always works at the office", t, func() {
		s := newSource()
		org, user := uuid.New(), uuid.New()
		weekdayHistory(s, user)

		Convey("An attempt 4 km away is not flagged", func() {
			near := models.Location{Lat: office.Lat + 0.036, Lon: office.Lon}
			s.add(user, org, models.VerificationFace, true, now.Add(-time.Hour), &near)
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			So(ofType(found, anomaly.TypeLocation), ShouldBeEmpty)
		})

		Convey("An attempt 20 km away is medium", func() {
			mid := models.Location{Lat: office.Lat + 0.18, Lon: office.Lon}
			s.add(user, org, models.VerificationFace, true, now.Add(-time.Hour), &mid)
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			lf := ofType(found, anomaly.TypeLocation)
			So(len(lf), ShouldEqual, 1)
			So(lf[0].Severity, ShouldEqual, models.SeverityMedium)
			So(lf[0].Details.Location.NearestKm, ShouldAlmostEqual, 20, 0.5)
		})

		Convey("An attempt 200 km away is high", func() {
			far := models.Location{Lat: office.Lat + 1.8, Lon: office.Lon}
			s.add(user, org, models.VerificationFace, true, now.Add(-time.Hour), &far)
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			lf := ofType(found, anomaly.TypeLocation)
			So(len(lf), ShouldEqual, 1)
			So(lf[0].Severity, ShouldEqual, models.SeverityHigh)
			So(lf[0].Confidence, ShouldEqual, 95)
		})
	})
}

func TestKnownDeviceTravel(t *testing.T) {
	Convey("Given a user with ten usual places and a known device", t, func() {
		ctx := context.Background()
		s := newSource()
		org, user := uuid.New(), uuid.New()
		for i := 0; i < 10; i++ {
			loc := models.Location{Lat: office.Lat + float64(i)*0.002, Lon: office.Lon}
			in := now.AddDate(0, 0, -(i + 1))
			s.attendance[user] = append(s.attendance[user], models.AttendanceRecord{UserID: user, ClockIn: in, Location: &loc})
		}

		tracker := device.NewTracker(device.NewMemoryStore(), device.DefaultConfig())
		info := models.DeviceInfo{Fingerprint: "fp-laptop", Browser: "Firefox", OS: "Linux"}
		_, err := tracker.Observe(ctx, device.Observation{UserID: user, OrgID: org, Info: info, Location: &office, At: now.Add(-3 * time.Hour)})
		So(err, ShouldBeNil)

		nearby := models.Location{Lat: office.Lat - 0.04, Lon: office.Lon}
		found, err := tracker.Observe(ctx, device.Observation{UserID: user, OrgID: org, Info: info, Location: &nearby, At: now.Add(-time.Hour)})
		So(err, ShouldBeNil)
		So(found, ShouldBeEmpty)
		s.add(user, org, models.VerificationFace, true, now.Add(-time.Hour), &nearby)

		Convey("An attempt about 5 km from the usual places is not a location anomaly", func() {
			findings, err := engine(s).Detect(ctx, org, 0)
			So(err, ShouldBeNil)
			So(ofType(findings, anomaly.TypeLocation), ShouldBeEmpty)
		})

		Convey("The same device 200 km away 30 minutes later is impossible travel", func() {
			far := models.Location{Lat: nearby.Lat + 1.8, Lon: office.Lon}
			found, err := tracker.Observe(ctx, device.Observation{UserID: user, OrgID: org, Info: info, Location: &far, At: now.Add(-30 * time.Minute)})
			So(err, ShouldBeNil)
			So(len(found), ShouldEqual, 1)
			So(found[0].Kind, ShouldEqual, device.KindImpossibleTravel)
			So(found[0].Severity, ShouldEqual, models.SeverityHigh)
			So(found[0].Details.DistanceKm, ShouldAlmostEqual, 200, 2)

			s.add(user, org, models.VerificationFace, true, now.Add(-30*time.Minute), &far)
			findings, err := engine(s).Detect(ctx, org, 0)
			So(err, ShouldBeNil)
			lf := ofType(findings, anomaly.TypeLocation)
			So(len(lf), ShouldEqual, 1)
			So(lf[0].Severity, ShouldEqual, models.SeverityHigh)
		})
	})
}

func TestFrequencyAnomalies(t *testing.T) {
	Convey("Given an org with one noisy user", t, func() {
		s := newSource()
		org, user := uuid.New(), uuid.New()

		Convey("Twelve successful face attempts spread out are a volume finding", func() {
			for i := 0; i < 12; i++ {
				s.add(user, org, models.VerificationFace, true, now.Add(-time.Duration(i+1)*time.Minute), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			ff := ofType(found, anomaly.TypeFrequency)
			So(len(ff), ShouldEqual, 1)
			So(ff[0].Severity, ShouldEqual, models.SeverityMedium)
			So(ff[0].Confidence, ShouldEqual, 60)
			So(ff[0].Details.Frequency.Signal, ShouldEqual, "volume")
		})

		Convey("Four failures out of five are a medium failure-rate finding", func() {
			for i := 0; i < 5; i++ {
				s.add(user, org, models.VerificationFace, i == 0, now.Add(-time.Duration(i+1)*time.Minute), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			ff := ofType(found, anomaly.TypeFrequency)
			So(len(ff), ShouldEqual, 1)
			So(ff[0].Severity, ShouldEqual, models.SeverityMedium)
			So(ff[0].Details.Frequency.Rate, ShouldAlmostEqual, 0.8)
		})

		Convey("Two failures out of two are below the minimum sample", func() {
			s.add(user, org, models.VerificationFace, false, now.Add(-time.Minute), nil)
			s.add(user, org, models.VerificationFace, false, now.Add(-2*time.Minute), nil)
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			So(ofType(found, anomaly.TypeFrequency), ShouldBeEmpty)
		})

		Convey("Mostly PIN usage is a high PIN-rate finding", func() {
			for i := 0; i < 4; i++ {
				typ := models.VerificationPIN
				if i == 0 {
					typ = models.VerificationFace
				}
				s.add(user, org, typ, true, now.Add(-time.Duration(i+1)*time.Hour), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			ff := ofType(found, anomaly.TypeFrequency)
			So(len(ff), ShouldEqual, 1)
			So(ff[0].Severity, ShouldEqual, models.SeverityHigh)
			So(ff[0].Details.Frequency.Signal, ShouldEqual, "pin_rate")
		})
	})
}

func TestBehaviorAnomalies(t *testing.T) {
	Convey("Given a user hammering the endpoint", t, func() {
		s := newSource()
		org, user := uuid.New(), uuid.New()
		start := now.Add(-time.Hour)

		Convey("Three attempts two seconds apart are an automated-attack signal", func() {
			for i := 0; i < 3; i++ {
				s.add(user, org, models.VerificationFace, true, start.Add(time.Duration(i)*2*time.Second), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			bf := ofType(found, anomaly.TypeBehavior)
			So(len(bf), ShouldEqual, 1)
			So(bf[0].Severity, ShouldEqual, models.SeverityHigh)
			So(bf[0].Confidence, ShouldEqual, 90)
			So(bf[0].Details.Behavior.RunLength, ShouldEqual, 3)
		})

		Convey("Six failures a minute apart are a failure streak", func() {
			for i := 0; i < 6; i++ {
				s.add(user, org, models.VerificationFace, false, start.Add(time.Duration(i)*time.Minute), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			bf := ofType(found, anomaly.TypeBehavior)
			So(len(bf), ShouldEqual, 1)
			So(bf[0].Severity, ShouldEqual, models.SeverityMedium)
			So(bf[0].Confidence, ShouldEqual, 90)
			So(bf[0].Details.Behavior.Signal, ShouldEqual, "failure_streak")
		})

		Convey("Five failures are not a streak", func() {
			for i := 0; i < 5; i++ {
				s.add(user, org, models.VerificationFace, false, start.Add(time.Duration(i)*time.Minute), nil)
			}
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			So(ofType(found, anomaly.TypeBehavior), ShouldBeEmpty)
		})
	})
}

func TestDetectorIsolation(t *testing.T) {
	Convey("Given attendance history that cannot be loaded", t, func() {
		s := newSource()
		s.failHistory = true
		org, user := uuid.New(), uuid.New()
		for i := 0; i < 12; i++ {
			s.add(user, org, models.VerificationFace, true, now.Add(-time.Duration(i+1)*time.Minute), &office)
		}

		Convey("The other detectors still report", func() {
			found, err := engine(s).Detect(context.Background(), org, 0)
			So(err, ShouldBeNil)
			So(ofType(found, anomaly.TypeTime), ShouldBeEmpty)
			So(ofType(found, anomaly.TypeLocation), ShouldBeEmpty)
			So(len(ofType(found, anomaly.TypeFrequency)), ShouldEqual, 1)
		})
	})
}

func TestSortAndRisk(t *testing.T) {
	Convey("Findings sort by severity then confidence", t, func() {
		fs := []anomaly.Finding{
			{Severity: models.SeverityLow, Confidence: 99},
			{Severity: models.SeverityHigh, Confidence: 50},
			{Severity: models.SeverityCritical, Confidence: 10},
			{Severity: models.SeverityHigh, Confidence: 90},
		}
		anomaly.Sort(fs)
		So(fs[0].Severity, ShouldEqual, models.SeverityCritical)
		So(fs[1].Confidence, ShouldEqual, 90)
		So(fs[2].Confidence, ShouldEqual, 50)
		So(fs[3].Severity, ShouldEqual, models.SeverityLow)
	})

	Convey("Risk score is capped per component", t, func() {
		So(anomaly.RiskScore(0, 0, 0), ShouldEqual, 0)
		So(anomaly.RiskScore(2, 1, 1), ShouldEqual, 13)
		So(anomaly.RiskScore(50, 50, 50), ShouldEqual, 100)
		So(anomaly.RiskScore(10, 0, 0), ShouldEqual, 30)
	})

	Convey("Analyze folds counts into the report", t, func() {
		s := newSource()
		org, user := uuid.New(), uuid.New()
		s.add(user, org, models.VerificationPIN, false, now.Add(-3*time.Hour), nil)
		s.add(user, org, models.VerificationFace, false, now.Add(-2*time.Hour), nil)
		report, err := engine(s).Analyze(context.Background(), org, 0)
		So(err, ShouldBeNil)
		So(report.Failures, ShouldEqual, 2)
		So(report.PINUses, ShouldEqual, 1)
		So(report.RiskScore, ShouldEqual, anomaly.RiskScore(2, 1, len(report.Findings)))
	})
}
