package store

import (
	"slices"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// Stream is a lazy sequence of store changes. Nothing is subscribed until
// Subscribe is called, and every call opens an independent subscription.
type Stream[T any] struct {
	bus     *buspkg.Bus
	channel string
	id      Identifier
	keyed   bool
	states  []any
}

// OnChange streams the changes of the entry keyed by id, optionally limited
// to states. uuid.Nil is an ordinary key here.
func (s *Store[T]) OnChange(id Identifier, states ...any) *Stream[T] {
	return &Stream[T]{bus: s.bus, channel: s.stateChannel, id: id, keyed: true, states: states}
}

// OnAllChanges streams the changes of every entry, optionally limited to
// states.
func (s *Store[T]) OnAllChanges(states ...any) *Stream[T] {
	return &Stream[T]{bus: s.bus, channel: s.stateChannel, states: states}
}

// Subscribe delivers matching changes to fn until the transaction is closed.
func (st *Stream[T]) Subscribe(fn func(Change[T])) (*buspkg.Transaction, error) {
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return st.bus.ListenStream(st.channel, func(env modelpkg.Envelope) {
		change, ok := env.Payload.(Change[T])
		if !ok || (st.keyed && change.ID != st.id) || !matchesAny(st.states, change.State) {
			return
		}
		fn(change)
	}, nil)
}

// matchesAny reports whether value is one of filter. An empty filter matches
// everything.
func matchesAny(filter []any, value any) bool {
	return len(filter) == 0 || slices.Contains(filter, value)
}
