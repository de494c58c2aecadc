package session

import "context"

// Mirror receives best-effort copies of saved sessions, typically a
// relational store kept for querying and audit.
type Mirror interface {
	Enqueue(s *ResearchSession)
	EnqueueDelete(id string)
}

// MirroredStore writes through to a primary Store and forwards successful
// writes to a Mirror. Mirror failures never fail the primary operation.
type MirroredStore struct {
	Store
	mirror Mirror
}

// NewMirroredStore wraps primary. A nil mirror returns primary unchanged.
func NewMirroredStore(primary Store, mirror Mirror) Store {
	if mirror == nil {
		return primary
	}
	return &MirroredStore{Store: primary, mirror: mirror}
}

func (m *MirroredStore) Save(ctx context.Context, s *ResearchSession) error {
	if err := m.Store.Save(ctx, s); err != nil {
		return err
	}
	m.mirror.Enqueue(s.Clone())
	return nil
}

func (m *MirroredStore) Delete(ctx context.Context, id string) error {
	if err := m.Store.Delete(ctx, id); err != nil {
		return err
	}
	m.mirror.EnqueueDelete(id)
	return nil
}
