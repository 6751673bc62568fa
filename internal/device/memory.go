package device

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
)

// MemoryStore is an in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[uuid.UUID]map[string]models.Device
	locations map[uuid.UUID][]models.LocationFix
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[uuid.UUID]map[string]models.Device),
		locations: make(map[uuid.UUID][]models.LocationFix),
	}
}

func (m *MemoryStore) GetDevice(_ context.Context, userID uuid.UUID, fp string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[userID][fp]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) UpsertDevice(_ context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devices[d.UserID] == nil {
		m.devices[d.UserID] = make(map[string]models.Device)
	}
	m.devices[d.UserID][d.Fingerprint] = *d
	return nil
}

func (m *MemoryStore) ListDevices(_ context.Context, userID uuid.UUID) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.devices[userID]))
	for _, d := range m.devices[userID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (m *MemoryStore) SetDeviceTrusted(_ context.Context, userID uuid.UUID, fp string, trusted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[userID][fp]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Trusted = trusted
	m.devices[userID][fp] = d
	return nil
}

func (m *MemoryStore) DeleteDevice(_ context.Context, userID uuid.UUID, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[userID][fp]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices[userID], fp)
	return nil
}

func (m *MemoryStore) LastLocation(_ context.Context, userID uuid.UUID) (*models.LocationFix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fixes := m.locations[userID]
	if len(fixes) == 0 {
		return nil, nil
	}
	last := fixes[len(fixes)-1]
	return &last, nil
}

func (m *MemoryStore) AppendLocation(_ context.Context, fix models.LocationFix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[fix.UserID] = append(m.locations[fix.UserID], fix)
	return nil
}
