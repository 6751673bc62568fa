package audit

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
)

const (
	defaultPage = 50
	maxPage     = 500
)

// PageBounds clamps a requested page size the same way for every store.
func PageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPage
	}
	if limit > maxPage {
		limit = maxPage
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// LocationKey buckets a location to roughly 100 m so nearby fixes count as
// one place.
func LocationKey(l models.Location) [2]float64 {
	return [2]float64{math.Round(l.Lat*1000) / 1000, math.Round(l.Lon*1000) / 1000}
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts []models.Attempt
	ids      map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[uuid.UUID]struct{})}
}

func (m *MemoryStore) AppendAttempt(_ context.Context, a *models.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[a.ID]; dup {
		return nil
	}
	m.ids[a.ID] = struct{}{}
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}

func matches(a models.Attempt, f models.AttemptFilter) bool {
	switch {
	case f.UserID != nil && a.UserID != *f.UserID:
		return false
	case f.OrgID != nil && a.OrgID != *f.OrgID:
		return false
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.Success != nil && a.Success != *f.Success:
		return false
	case f.From != nil && a.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && a.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func (m *MemoryStore) QueryAttempts(_ context.Context, f models.AttemptFilter) ([]models.Attempt, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []models.Attempt
	for _, a := range m.attempts {
		if matches(a, f) {
			hits = append(hits, a)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })

	total := len(hits)
	limit, offset := PageBounds(f.Limit, f.Offset)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return hits[offset:end], total, nil
}

func (m *MemoryStore) AttemptsSince(_ context.Context, orgID uuid.UUID, since time.Time) ([]models.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Attempt
	for _, a := range m.attempts {
		if a.OrgID == orgID && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RepeatedFailures(_ context.Context, orgID uuid.UUID, since time.Time, minFailures int) ([]models.FailureCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byUser := map[uuid.UUID]*models.FailureCluster{}
	for _, a := range m.attempts {
		if a.OrgID != orgID || a.Success || a.CreatedAt.Before(since) {
			continue
		}
		c := byUser[a.UserID]
		if c == nil {
			c = &models.FailureCluster{UserID: a.UserID, OrgID: a.OrgID}
			byUser[a.UserID] = c
		}
		c.Failures++
		if a.CreatedAt.After(c.LastAt) {
			c.LastAt = a.CreatedAt
		}
	}
	var out []models.FailureCluster
	for _, c := range byUser {
		if c.Failures >= minFailures {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Failures > out[j].Failures })
	return out, nil
}

func (m *MemoryStore) MultiLocationUsers(_ context.Context, orgID uuid.UUID, since time.Time, minDistinct int) ([]models.LocationSpread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type acc struct {
		seen map[[2]float64]struct{}
		locs []models.Location
	}
	byUser := map[uuid.UUID]*acc{}
	for _, a := range m.attempts {
		if a.OrgID != orgID || a.Location == nil || a.CreatedAt.Before(since) {
			continue
		}
		u := byUser[a.UserID]
		if u == nil {
			u = &acc{seen: map[[2]float64]struct{}{}}
			byUser[a.UserID] = u
		}
		k := LocationKey(*a.Location)
		if _, ok := u.seen[k]; ok {
			continue
		}
		u.seen[k] = struct{}{}
		u.locs = append(u.locs, *a.Location)
	}
	var out []models.LocationSpread
	for id, u := range byUser {
		if len(u.locs) >= minDistinct {
			out = append(out, models.LocationSpread{UserID: id, OrgID: orgID, Locations: u.locs})
		}
	}
	return out, nil
}

func (m *MemoryStore) PurgeAttemptsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var n int64
	for _, a := range m.attempts {
		if a.CreatedAt.Before(cutoff) {
			delete(m.ids, a.ID)
			n++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return n, nil
}
