// Package store implements a reactive keyed object store on top of the bus.
// Every store owns two channels: one broadcasting state changes and one
// carrying mutation requests to an external responder.
package store

import (
	"sync"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// Identifier keys store entries.
type Identifier = modelpkg.Identifier

// Change is broadcast on the state channel after every Put and Remove.
type Change[T any] struct {
	ID      Identifier
	Value   T
	State   any
	Version int64
	Store   string
}

// StateChannel returns the name of the channel broadcasting changes of the
// store called name.
func StateChannel(name string) string {
	return "store::" + name + "::state"
}

// MutationChannel returns the name of the channel carrying mutation requests
// for the store called name.
func MutationChannel(name string) string {
	return "store::" + name + "::mutations"
}

// Option tunes a store.
type Option func(*options)

type options struct {
	resetClearsReadiness *bool
}

// WithResetClearsReadiness overrides the bus-wide reset policy for one store.
func WithResetClearsReadiness(clear bool) Option {
	return func(o *options) { o.resetClearsReadiness = &clear }
}

// Store is a keyed table of T values. Reads and writes copy values in and out
// of the internal map. Change broadcasts are enqueued while the store lock is
// held so every subscriber observes them in version order; no callback ever
// runs under the lock.
type Store[T any] struct {
	name            string
	bus             *buspkg.Bus
	logger          loggingpkg.ServiceLogger
	stateChannel    string
	mutationChannel string
	from            string

	resetClearsReadiness bool

	mu          sync.RWMutex
	items       map[Identifier]T
	version     int64
	initialized bool
	ready       []func(map[Identifier]T)

	pendingMu sync.Mutex
	pending   map[Identifier]*pendingMutation
}

// New creates a store called name on b.
func New[T any](b *buspkg.Bus, name string, opts ...Option) (*Store[T], error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if name == "" {
		return nil, errspkg.ErrStoreNameRequired
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	resetClears := b.Config().StoreResetClearsReadiness
	if o.resetClearsReadiness != nil {
		resetClears = *o.resetClearsReadiness
	}

	s := &Store[T]{
		name:                 name,
		bus:                  b,
		logger:               b.Logger().With(loggingpkg.LogFields{"store": name}),
		stateChannel:         StateChannel(name),
		mutationChannel:      MutationChannel(name),
		from:                 "store:" + name,
		resetClearsReadiness: resetClears,
		items:                make(map[Identifier]T),
		pending:              make(map[Identifier]*pendingMutation),
	}
	s.logger.Debug("Store created", nil)
	return s, nil
}

// Name returns the store name.
func (s *Store[T]) Name() string { return s.name }

// Version returns the store-wide version, incremented by every Put and
// successful Remove.
func (s *Store[T]) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Put upserts value under id and broadcasts the change with state.
func (s *Store[T]) Put(id Identifier, value T, state any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = value
	s.version++
	s.broadcastLocked(Change[T]{ID: id, Value: value, State: state, Version: s.version, Store: s.name})
}

// Get returns the value stored under id.
func (s *Store[T]) Get(id Identifier) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[id]
	return value, ok
}

// AllValues returns every value in unspecified order.
func (s *Store[T]) AllValues() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]T, 0, len(s.items))
	for _, value := range s.items {
		values = append(values, value)
	}
	return values
}

// AllValuesAsMap returns a copy of the whole table.
func (s *Store[T]) AllValuesAsMap() map[Identifier]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Len returns the number of entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Remove deletes id and broadcasts the removed value with state. It reports
// whether an entry existed.
func (s *Store[T]) Remove(id Identifier, state any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.items[id]
	if !ok {
		return false
	}
	delete(s.items, id)
	s.version++
	s.broadcastLocked(Change[T]{ID: id, Value: value, State: state, Version: s.version, Store: s.name})
	return true
}

// Populate bulk-loads items into an empty store without broadcasting. It
// returns false and writes nothing when the store already has entries.
func (s *Store[T]) Populate(items map[Identifier]T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) > 0 {
		return false
	}
	for id, value := range items {
		s.items[id] = value
	}
	return true
}

// Initialize sets the readiness latch and runs every pending WhenReady
// callback once with the current table. Later calls do nothing.
func (s *Store[T]) Initialize() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	callbacks := s.ready
	s.ready = nil
	snapshot := s.copyLocked()
	s.mu.Unlock()

	s.logger.Debug("Store initialized", loggingpkg.LogFields{"entries": len(snapshot), "callbacks": len(callbacks)})
	for _, cb := range callbacks {
		cb(cloneMap(snapshot))
	}
}

// IsInitialized reports whether the readiness latch is set.
func (s *Store[T]) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// WhenReady runs fn once with the full table: immediately when the store is
// initialized, otherwise when Initialize is called.
func (s *Store[T]) WhenReady(fn func(map[Identifier]T)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if !s.initialized {
		s.ready = append(s.ready, fn)
		s.mu.Unlock()
		return
	}
	snapshot := s.copyLocked()
	s.mu.Unlock()
	fn(snapshot)
}

// Reset clears the table and the version counter and fails every pending
// Mutate call. The readiness latch is left set unless the store was
// configured to clear it.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.items = make(map[Identifier]T)
	s.version = 0
	if s.resetClearsReadiness {
		s.initialized = false
	}
	s.mu.Unlock()

	s.abandonMutations()
}

func (s *Store[T]) broadcastLocked(change Change[T]) {
	md := metadatapkg.New(metadatapkg.KeyFrom, s.from)
	env := modelpkg.NewEnvelope(change.ID, s.stateChannel, modelpkg.Response, change, change.Version, md)
	// The envelope is keyed by the entry, including the nil key.
	env.ID = change.ID
	if err := s.bus.Publish(env); err != nil {
		s.logger.Error("Failed to broadcast store change", err, loggingpkg.LogFields{
			"id":      change.ID.String(),
			"version": change.Version,
		})
	}
}

func (s *Store[T]) copyLocked() map[Identifier]T {
	return cloneMap(s.items)
}

func cloneMap[T any](m map[Identifier]T) map[Identifier]T {
	out := make(map[Identifier]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
