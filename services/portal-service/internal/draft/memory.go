package draft

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]Draft
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: map[string]Draft{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, session string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[session], nil
}

func (s *MemoryStore) SetData(_ context.Context, session string, p Partial) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drafts[session].Merge(p)
	d.UpdatedAt = s.now().UTC()
	s.drafts[session] = d
	return d, nil
}

func (s *MemoryStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, session)
	return nil
}
