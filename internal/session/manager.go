package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 1024
	DefaultTTL      = 30 * time.Minute
)

// Manager keeps live sessions in memory. Idle sessions expire after the TTL
// and the least recently touched one is evicted when capacity is reached.
type Manager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[uuid.UUID, *Session]
	now      func() time.Time
}

func NewManager(capacity int, ttl time.Duration) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: expirable.NewLRU[uuid.UUID, *Session](capacity, nil, ttl),
		now:      time.Now,
	}
}

// Create starts a session in Intake and returns a snapshot of it.
func (m *Manager) Create() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := New(m.now())
	m.sessions.Add(s.ID, s)
	return *s.clone()
}

func (m *Manager) Get(id uuid.UUID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s.clone(), nil
}

// Update applies fn to a copy of the session and stores the copy only when
// fn succeeds, so a rejected transition leaves no partial change.
func (m *Manager) Update(id uuid.UUID, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	next := s.clone()
	if err := fn(next); err != nil {
		return *s.clone(), err
	}
	next.UpdatedAt = m.now().UTC()
	m.sessions.Add(id, next)
	return *next.clone(), nil
}

func (m *Manager) Delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Remove(id)
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}
