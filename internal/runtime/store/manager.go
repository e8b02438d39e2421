package store

import (
	"fmt"
	"sort"
	"sync"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// managed is the type-erased view of a Store kept by the Manager.
type managed interface {
	Name() string
	IsInitialized() bool
	Reset()
	whenReadyAny(fn func(map[Identifier]any))
}

func (s *Store[T]) whenReadyAny(fn func(map[Identifier]any)) {
	s.WhenReady(func(items map[Identifier]T) {
		erased := make(map[Identifier]any, len(items))
		for id, value := range items {
			erased[id] = value
		}
		fn(erased)
	})
}

// Manager keeps the named stores of one bus.
type Manager struct {
	bus *buspkg.Bus

	mu     sync.Mutex
	stores map[string]managed
}

// NewManager creates an empty manager for b.
func NewManager(b *buspkg.Bus) *Manager {
	return &Manager{bus: b, stores: make(map[string]managed)}
}

// Open returns the store called name, creating it when absent. It fails with
// ErrStoreTypeMismatch when the existing store holds another value type.
func Open[T any](m *Manager, name string, opts ...Option) (*Store[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.stores[name]; ok {
		s, ok := existing.(*Store[T])
		if !ok {
			return nil, fmt.Errorf("%w: store %q holds %T", errspkg.ErrStoreTypeMismatch, name, existing)
		}
		return s, nil
	}
	s, err := New[T](m.bus, name, opts...)
	if err != nil {
		return nil, err
	}
	m.stores[name] = s
	return s, nil
}

// Get returns an existing store.
func Get[T any](m *Manager, name string) (*Store[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrStoreNotFound, name)
	}
	s, ok := existing.(*Store[T])
	if !ok {
		return nil, fmt.Errorf("%w: store %q holds %T", errspkg.ErrStoreTypeMismatch, name, existing)
	}
	return s, nil
}

// Destroy resets the store called name and forgets it. It reports whether the
// store existed.
func (m *Manager) Destroy(name string) bool {
	m.mu.Lock()
	s, ok := m.stores[name]
	delete(m.stores, name)
	m.mu.Unlock()
	if ok {
		s.Reset()
	}
	return ok
}

// Names returns the managed store names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadyJoin runs fn once, after every named store is initialized, with each
// store's table keyed by store name.
func (m *Manager) ReadyJoin(names []string, fn func(map[string]map[Identifier]any)) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	m.mu.Lock()
	stores := make([]managed, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		s, ok := m.stores[name]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("%w: %q", errspkg.ErrStoreNotFound, name)
		}
		stores = append(stores, s)
	}
	m.mu.Unlock()

	if len(stores) == 0 {
		fn(map[string]map[Identifier]any{})
		return nil
	}

	var (
		mu        sync.Mutex
		results   = make(map[string]map[Identifier]any, len(stores))
		remaining = len(stores)
	)
	for _, s := range stores {
		name := s.Name()
		s.whenReadyAny(func(items map[Identifier]any) {
			mu.Lock()
			results[name] = items
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				fn(results)
			}
		})
	}
	return nil
}
