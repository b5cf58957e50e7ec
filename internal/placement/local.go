package placement

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/objectid"
)

// LocalStore is an in-memory Store, suitable for single-node deployments
// or tests. Share the *LocalStore returned by NewLocalStore; the struct
// holds its mutex by value, so a copied value would not share the lock.
type LocalStore struct {
	mu        sync.RWMutex
	placement map[objectid.ID]objectid.Address
}

// NewLocalStore returns an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		placement: make(map[objectid.ID]objectid.Address),
	}
}

var (
	_ Store            = (*LocalStore)(nil)
	_ ConditionalStore = (*LocalStore)(nil)
)

// Update implements Store.
func (s *LocalStore) Update(_ context.Context, id objectid.ID, addr fn.Option[objectid.Address]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.IsSome() {
		s.placement[id] = addr.UnwrapOr("")
		return nil
	}

	delete(s.placement, id)
	return nil
}

// Lookup implements Store.
func (s *LocalStore) Lookup(_ context.Context, id objectid.ID) (fn.Option[objectid.Address], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.placement[id]
	if !ok {
		return fn.None[objectid.Address](), nil
	}
	return fn.Some(addr), nil
}

// CleanServer implements Store.
func (s *LocalStore) CleanServer(_ context.Context, addr objectid.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.placement {
		if existing.Equal(addr) {
			delete(s.placement, id)
		}
	}
	return nil
}

// Remove implements Store.
func (s *LocalStore) Remove(_ context.Context, id objectid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.placement, id)
	return nil
}

// UpdateIfAbsent implements ConditionalStore.
func (s *LocalStore) UpdateIfAbsent(_ context.Context, id objectid.ID, addr objectid.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.placement[id]; exists {
		return false, nil
	}
	s.placement[id] = addr
	return true, nil
}
