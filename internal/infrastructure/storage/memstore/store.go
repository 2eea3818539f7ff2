// Package memstore is the in-memory storage backend. Sessions stage
// writes in a copy-on-write overlay; Commit applies the overlay to the
// shared tables atomically. Entities are kept serialized, so no caller
// ever aliases stored state. It backs the core's own tests and
// single-node development; it has no native savepoint support.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"coreapp/internal/core/id"
	"coreapp/internal/domain"
)

// rows holds one entity table: tenant -> entity id -> serialized entity.
type rows map[string]map[id.ID][]byte

// Store is the shared in-memory database.
type Store struct {
	mu     sync.RWMutex
	tables map[reflect.Type]rows
	ctors  map[reflect.Type]func(*Session) any
}

// NewStore creates an empty store. Entity types must be registered with
// Register before sessions can open repositories for them.
func NewStore() *Store {
	return &Store{
		tables: make(map[reflect.Type]rows),
		ctors:  make(map[reflect.Type]func(*Session) any),
	}
}

// Register makes the store able to serve Repository[T] handles.
// Registration is not safe concurrently with open sessions; do it at
// wiring time.
func Register[T domain.Entity](s *Store) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("memstore: entity type must be a struct pointer, got %s", t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t]; !ok {
		s.tables[t] = make(rows)
	}
	s.ctors[t] = func(sess *Session) any {
		return &repository[T]{sess: sess, typ: t, name: t.Elem().String()}
	}
}

// Begin opens a session with an empty staging overlay.
func (s *Store) Begin(ctx context.Context) (domain.Session, error) {
	return &Session{
		store:   s,
		staging: make(map[reflect.Type]map[string]map[id.ID][]byte),
	}, nil
}

// lookup reads one row from the committed tables.
func (s *Store) lookup(t reflect.Type, tenantID string, entityID id.ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.tables[t]
	if !ok {
		return nil, false
	}
	data, ok := table[tenantID][entityID]
	return data, ok
}

// snapshot copies the committed rows of one tenant's table.
func (s *Store) snapshot(t reflect.Type, tenantID string) map[id.ID][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[id.ID][]byte)
	for entityID, data := range s.tables[t][tenantID] {
		out[entityID] = data
	}
	return out
}

// apply promotes a staging overlay into the committed tables.
func (s *Store) apply(staging map[reflect.Type]map[string]map[id.ID][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, tenants := range staging {
		table, ok := s.tables[t]
		if !ok {
			table = make(rows)
			s.tables[t] = table
		}
		for tenantID, entities := range tenants {
			if table[tenantID] == nil {
				table[tenantID] = make(map[id.ID][]byte)
			}
			for entityID, data := range entities {
				table[tenantID][entityID] = data
			}
		}
	}
}
