package device

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceguard/internal/models"
)

const chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func baseAttrs() Attributes {
	return Attributes{
		UserAgent:      chromeMac,
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		IP:             "198.51.100.4",
		Hints:          Hints{ScreenResolution: "1920x1080", Timezone: "Europe/Berlin"},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := baseAttrs()
	require.Equal(t, Fingerprint(a), Fingerprint(baseAttrs()))
	require.Len(t, Fingerprint(a), 64)
}

func TestFingerprintChangesWithAnyInput(t *testing.T) {
	base := Fingerprint(baseAttrs())
	mutations := []func(*Attributes){
		func(a *Attributes) { a.UserAgent += " Edg/120" },
		func(a *Attributes) { a.AcceptLanguage = "de-DE" },
		func(a *Attributes) { a.AcceptEncoding = "gzip" },
		func(a *Attributes) { a.IP = "198.51.100.5" },
		func(a *Attributes) { a.Hints.ScreenResolution = "1280x720" },
		func(a *Attributes) { a.Hints.Timezone = "UTC" },
		func(a *Attributes) { a.Hints.Platform = "MacIntel" },
		func(a *Attributes) { a.Hints.Browser = "Chrome" },
		func(a *Attributes) { a.Hints.DeviceType = "desktop" },
	}
	for i, mutate := range mutations {
		a := baseAttrs()
		mutate(&a)
		require.NotEqual(t, base, Fingerprint(a), "mutation %d", i)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.9:51234"
	require.Equal(t, "10.0.0.9", ClientIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.2")
	require.Equal(t, "203.0.113.1", ClientIP(r))
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/verify/face", nil)
	r.Header.Set("User-Agent", chromeMac)
	r.Header.Set("Accept-Language", "en-US")
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("X-Forwarded-For", "203.0.113.50")

	a := FromRequest(r, Hints{Timezone: "UTC"})
	require.Equal(t, chromeMac, a.UserAgent)
	require.Equal(t, "203.0.113.50", a.IP)
	require.Equal(t, "UTC", a.Hints.Timezone)
}

type stubGeo struct{ loc *IPLocation }

func (s stubGeo) Lookup(string) (*IPLocation, error) {
	if s.loc == nil {
		return nil, errors.New("not found")
	}
	return s.loc, nil
}

func TestParseInfo(t *testing.T) {
	info := ParseInfo(baseAttrs(), stubGeo{loc: &IPLocation{Country: "DE", City: "Berlin"}})
	require.Equal(t, "Chrome", info.Browser)
	require.Equal(t, "macOS", info.OS)
	require.Equal(t, "desktop", info.DeviceType)
	require.Equal(t, "DE", info.Country)
	require.Equal(t, "Berlin", info.City)
	require.Equal(t, Fingerprint(baseAttrs()), info.Fingerprint)

	noGeo := ParseInfo(baseAttrs(), stubGeo{})
	require.Empty(t, noGeo.Country)
}

func newTracker() (*Tracker, *MemoryStore) {
	store := NewMemoryStore()
	return NewTracker(store, DefaultConfig()), store
}

func TestObserveNewDevice(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker()
	user := uuid.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	info := ParseInfo(baseAttrs(), nil)

	found, err := tr.Observe(ctx, Observation{UserID: user, Info: info, At: now})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, KindNewDevice, found[0].Kind)
	require.Equal(t, models.SeverityMedium, found[0].Severity)

	found, err = tr.Observe(ctx, Observation{UserID: user, Info: info, At: now.Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, found)

	dev, err := store.GetDevice(ctx, user, info.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, 2, dev.Count)
	require.Equal(t, now, dev.FirstSeen)
	require.Equal(t, now.Add(time.Hour), dev.LastSeen)
	require.True(t, dev.Active)
}

func TestObserveImpossibleTravel(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	user := uuid.New()
	info := ParseInfo(baseAttrs(), nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	office := models.Location{Lat: 52.5200, Lon: 13.4050}
	// Ten fixes within a few km of the office.
	for i := 0; i < 10; i++ {
		loc := models.Location{Lat: office.Lat + float64(i)*0.004, Lon: office.Lon}
		_, err := tr.Observe(ctx, Observation{UserID: user, Info: info, Location: &loc, At: now.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	// 5 km away, known device: nothing.
	near := models.Location{Lat: office.Lat + 0.045, Lon: office.Lon}
	last := now.Add(10 * time.Hour)
	found, err := tr.Observe(ctx, Observation{UserID: user, Info: info, Location: &near, At: last})
	require.NoError(t, err)
	require.Empty(t, found)

	// 200 km away 30 minutes later.
	far := models.Location{Lat: office.Lat + 1.8, Lon: office.Lon}
	found, err = tr.Observe(ctx, Observation{UserID: user, Info: info, Location: &far, At: last.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, KindImpossibleTravel, found[0].Kind)
	require.Equal(t, models.SeverityHigh, found[0].Severity)
	require.InDelta(t, 195, found[0].Details.DistanceKm, 10)
	require.InDelta(t, 30, found[0].Details.ElapsedMinutes, 1e-9)
	require.Equal(t, near, *found[0].Details.From)
	require.Equal(t, far, *found[0].Details.To)
}

func TestObserveFarButSlowIsFine(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	user := uuid.New()
	info := ParseInfo(baseAttrs(), nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	a := models.Location{Lat: 48.1351, Lon: 11.5820}
	b := models.Location{Lat: 52.5200, Lon: 13.4050}
	_, err := tr.Observe(ctx, Observation{UserID: user, Info: info, Location: &a, At: now})
	require.NoError(t, err)
	found, err := tr.Observe(ctx, Observation{UserID: user, Info: info, Location: &b, At: now.Add(5 * time.Hour)})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestTrustAndRemove(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker()
	user := uuid.New()
	info := ParseInfo(baseAttrs(), nil)
	now := time.Now()

	require.ErrorIs(t, tr.Trust(ctx, user, info.Fingerprint, true), ErrDeviceNotFound)

	_, err := tr.Observe(ctx, Observation{UserID: user, Info: info, At: now})
	require.NoError(t, err)
	require.NoError(t, tr.Trust(ctx, user, info.Fingerprint, true))

	devs, err := tr.Devices(ctx, user)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	require.True(t, devs[0].Trusted)

	require.NoError(t, tr.Remove(ctx, user, info.Fingerprint))
	dev, err := store.GetDevice(ctx, user, info.Fingerprint)
	require.NoError(t, err)
	require.Nil(t, dev)

	found, err := tr.Observe(ctx, Observation{UserID: user, Info: info, At: now.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, KindNewDevice, found[0].Kind)
	require.ErrorIs(t, tr.Remove(ctx, uuid.New(), info.Fingerprint), ErrDeviceNotFound)
}
