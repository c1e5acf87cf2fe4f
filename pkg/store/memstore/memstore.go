// Package memstore keeps authority state in process memory. It backs
// tests and ephemeral deployments where persistence across restarts is
// not needed.
package memstore

import (
	"context"
	"sync"

	"github.com/dominusproject/dominus-status/pkg/store"
)

type memoryStore struct {
	mu        sync.Mutex
	authority *store.Authority
}

// New returns an empty in-memory store.
func New() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) ReadAuthority(ctx context.Context) (store.Authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authority == nil {
		return store.Authority{}, store.ErrNotExist
	}
	return *s.authority, nil
}

func (s *memoryStore) WriteAuthority(ctx context.Context, a store.Authority) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authority = &a
	return nil
}
