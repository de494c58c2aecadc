package session

import (
	"context"
	"sort"
	"sync"

	"github.com/probeai/orchestrator/internal/metrics"
)

// Store persists research sessions. Implementations copy on the way in and out,
// so callers may mutate what they get back without affecting stored state.
type Store interface {
	Save(ctx context.Context, s *ResearchSession) error
	// Get returns ErrSessionNotFound if no session has the given id.
	Get(ctx context.Context, id string) (*ResearchSession, error)
	// List returns every session, newest first.
	List(ctx context.Context) ([]*ResearchSession, error)
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ResearchSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*ResearchSession)}
}

func (m *MemoryStore) Save(_ context.Context, s *ResearchSession) error {
	if s == nil || s.ID == "" {
		return &PersistenceError{Op: "save", Err: ErrInvalidSession}
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	metrics.StoreOperations.WithLabelValues("memory", "save", "success").Inc()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*ResearchSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*ResearchSession, error) {
	m.mu.RLock()
	out := make([]*ResearchSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// SortNewestFirst orders sessions by CreatedAt descending, id as tiebreaker.
func SortNewestFirst(list []*ResearchSession) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
