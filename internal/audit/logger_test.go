package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceguard/internal/models"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) AppendAttempt(ctx context.Context, a *models.Attempt) error {
	if f.fail {
		return errors.New("connection refused")
	}
	return f.MemoryStore.AppendAttempt(ctx, a)
}

type recordingSpool struct {
	got []*models.Attempt
}

func (r *recordingSpool) SpoolAttempt(_ context.Context, a *models.Attempt) error {
	r.got = append(r.got, a)
	return nil
}

func attempt(org, user uuid.UUID, typ models.VerificationType, ok bool, at time.Time, loc *models.Location) *models.Attempt {
	return &models.Attempt{UserID: user, OrgID: org, Type: typ, Success: ok, CreatedAt: at, Location: loc}
}

func TestLogAssignsIDAndTimestamp(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, WithClock(func() time.Time { return now }))

	a := &models.Attempt{UserID: uuid.New(), OrgID: uuid.New(), Type: models.VerificationFace}
	l.Log(context.Background(), a)

	require.NotEqual(t, uuid.Nil, a.ID)
	require.Equal(t, now, a.CreatedAt)
	require.Equal(t, 1, store.Len())
}

func TestLogSwallowsStoreFailureAndSpools(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), fail: true}
	spool := &recordingSpool{}
	l := NewLogger(store, WithSpool(spool))

	a := &models.Attempt{UserID: uuid.New(), OrgID: uuid.New(), Type: models.VerificationPIN}
	require.NotPanics(t, func() { l.Log(context.Background(), a) })
	require.Zero(t, store.Len())
	require.Len(t, spool.got, 1)

	// Retry after recovery is idempotent.
	store.fail = false
	require.NoError(t, l.Retry(context.Background(), spool.got[0]))
	require.NoError(t, l.Retry(context.Background(), spool.got[0]))
	require.Equal(t, 1, store.Len())
}

func TestLogSurvivesCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Log(ctx, &models.Attempt{UserID: uuid.New(), OrgID: uuid.New()})
	require.Equal(t, 1, store.Len())
}

func TestQueriesAndFeeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLogger(store, WithClock(func() time.Time { return now }))
	org, other := uuid.New(), uuid.New()
	alice, bob := uuid.New(), uuid.New()

	berlin := &models.Location{Lat: 52.52, Lon: 13.405}
	berlinNear := &models.Location{Lat: 52.52001, Lon: 13.40502}
	hamburg := &models.Location{Lat: 53.55, Lon: 9.99}
	munich := &models.Location{Lat: 48.137, Lon: 11.575}

	for _, a := range []*models.Attempt{
		attempt(org, alice, models.VerificationFace, false, now.Add(-1*time.Hour), berlin),
		attempt(org, alice, models.VerificationFace, false, now.Add(-2*time.Hour), hamburg),
		attempt(org, alice, models.VerificationPIN, false, now.Add(-3*time.Hour), munich),
		attempt(org, alice, models.VerificationPIN, true, now.Add(-4*time.Hour), berlinNear),
		attempt(org, bob, models.VerificationFace, true, now.Add(-30*time.Minute), berlin),
		attempt(org, bob, models.VerificationFace, false, now.Add(-30*time.Hour), berlin),
		attempt(other, bob, models.VerificationPIN, false, now.Add(-time.Hour), nil),
	} {
		l.Log(ctx, a)
	}

	failed, err := l.FailedAttempts(ctx, org, 24)
	require.NoError(t, err)
	require.Len(t, failed, 3)

	failed48, err := l.FailedAttempts(ctx, org, 48)
	require.NoError(t, err)
	require.Len(t, failed48, 4)

	pins, err := l.PINUsage(ctx, org, 24)
	require.NoError(t, err)
	require.Len(t, pins, 2)

	clusters, err := l.RepeatedFailures(ctx, org)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, alice, clusters[0].UserID)
	require.Equal(t, 3, clusters[0].Failures)

	spread, err := l.MultiLocation(ctx, org)
	require.NoError(t, err)
	require.Len(t, spread, 1)
	require.Equal(t, alice, spread[0].UserID)
	require.Len(t, spread[0].Locations, 3)

	page, total, err := l.ByUser(ctx, alice, models.AttemptFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, page, 2)
	require.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	success := true
	orgPage, total, err := l.ByOrg(ctx, org, models.AttemptFilter{Success: &success, Type: models.VerificationFace})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, bob, orgPage[0].UserID)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLogger(store, WithClock(func() time.Time { return now }))
	org, user := uuid.New(), uuid.New()

	l.Log(ctx, attempt(org, user, models.VerificationFace, true, now.AddDate(0, 0, -120), nil))
	l.Log(ctx, attempt(org, user, models.VerificationFace, true, now.AddDate(0, 0, -91), nil))
	l.Log(ctx, attempt(org, user, models.VerificationFace, true, now.AddDate(0, 0, -10), nil))

	n, err := l.PurgeOlderThan(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 1, store.Len())

	n, err = l.PurgeOlderThan(ctx, 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPageBounds(t *testing.T) {
	l, o := PageBounds(0, -3)
	require.Equal(t, 50, l)
	require.Zero(t, o)
	l, _ = PageBounds(10000, 0)
	require.Equal(t, 500, l)
}
