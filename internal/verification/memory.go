package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/models"
)

// MemoryStore is an in-process UserStore for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]models.User
	templates map[uuid.UUID]models.FaceTemplate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]models.User),
		templates: make(map[uuid.UUID]models.FaceTemplate),
	}
}

func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) SetUserActive(_ context.Context, id uuid.UUID, active bool, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Active = active
	u.LockedUntil = lockedUntil
	m.users[id] = u
	return nil
}

func (m *MemoryStore) SetPINHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PINHash = hash
	m.users[id] = u
	return nil
}

// ReactivateExpired clears locks that ended before now.
func (m *MemoryStore) ReactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, u := range m.users {
		if !u.Active && u.LockedUntil != nil && !u.LockedUntil.After(now) {
			u.Active = true
			u.LockedUntil = nil
			m.users[id] = u
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, userID uuid.UUID) (*models.FaceTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[userID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) SaveTemplate(_ context.Context, t *models.FaceTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.UserID] = *t
	return nil
}

func (m *MemoryStore) DeleteTemplate(_ context.Context, userID uuid.UUID) (*models.FaceTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[userID]
	if !ok {
		return nil, nil
	}
	delete(m.templates, userID)
	return &t, nil
}
