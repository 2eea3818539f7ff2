package memstore

import (
	"context"
	"fmt"
	"reflect"

	"coreapp/internal/core/id"
)

// Session is one transactional view of the store. Writes land in the
// staging overlay; reads see staging first, then the committed tables.
// A session serves a single unit of work and is not goroutine-safe.
type Session struct {
	store    *Store
	staging  map[reflect.Type]map[string]map[id.ID][]byte
	finished bool
}

// Repository returns the registered repository for the entity type.
func (s *Session) Repository(entityType reflect.Type) (any, error) {
	s.store.mu.RLock()
	ctor, ok := s.store.ctors[entityType]
	s.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memstore: entity type %s is not registered", entityType)
	}
	return ctor(s), nil
}

// Commit applies the overlay to the shared tables atomically.
func (s *Session) Commit(ctx context.Context) error {
	if s.finished {
		return fmt.Errorf("memstore: session already finished")
	}
	s.store.apply(s.staging)
	s.finished = true
	return nil
}

// Rollback discards the overlay. Calling it after Commit or a previous
// Rollback is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	if s.finished {
		return nil
	}
	s.staging = make(map[reflect.Type]map[string]map[id.ID][]byte)
	s.finished = true
	return nil
}

// stage records one serialized entity in the overlay.
func (s *Session) stage(t reflect.Type, tenantID string, entityID id.ID, data []byte) error {
	if s.finished {
		return fmt.Errorf("memstore: session already finished")
	}
	tenants, ok := s.staging[t]
	if !ok {
		tenants = make(map[string]map[id.ID][]byte)
		s.staging[t] = tenants
	}
	if tenants[tenantID] == nil {
		tenants[tenantID] = make(map[id.ID][]byte)
	}
	tenants[tenantID][entityID] = data
	return nil
}

// staged reads one row from the overlay.
func (s *Session) staged(t reflect.Type, tenantID string, entityID id.ID) ([]byte, bool) {
	data, ok := s.staging[t][tenantID][entityID]
	return data, ok
}

// view merges committed rows with the overlay for one tenant.
func (s *Session) view(t reflect.Type, tenantID string) map[id.ID][]byte {
	merged := s.store.snapshot(t, tenantID)
	for entityID, data := range s.staging[t][tenantID] {
		merged[entityID] = data
	}
	return merged
}
