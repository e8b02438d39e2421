package store

import (
	"fmt"
	"sync/atomic"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// mutation is the payload of a mutation request envelope.
type mutation struct {
	Type    any
	Request any
}

// MutationRequest is handed to mutation responders. The responder applies the
// change, typically with Put or Remove, and answers with Success or Error.
type MutationRequest[T any] struct {
	ID      Identifier
	Type    any
	Request any

	bus     *buspkg.Bus
	channel string
	from    string
}

// Success answers the request with the resulting value.
func (r MutationRequest[T]) Success(value T) error {
	return r.bus.SendResponse(r.channel, value, buspkg.WithID(r.ID), buspkg.WithFrom(r.from))
}

// Error answers the request with a failure.
func (r MutationRequest[T]) Error(err error) error {
	return r.bus.SendError(r.channel, err, buspkg.WithID(r.ID), buspkg.WithFrom(r.from))
}

// pendingMutation is a Mutate call still waiting for its answer.
type pendingMutation struct {
	handler *buspkg.MessageHandler
	onError func(error)
	done    atomic.Bool
}

// Mutate asks the registered mutation responder to apply request. It returns
// false, without sending anything, when no responder listens on the store's
// mutation channel. The store itself is never modified by Mutate. A request
// still unanswered when the store is reset fails with ErrMutationNotAnswered.
func (s *Store[T]) Mutate(request any, mutationType any, onSuccess func(T), onError func(error)) bool {
	if s.bus.Listeners(s.mutationChannel, modelpkg.Request) == 0 {
		return false
	}

	id := idspkg.NewIdentifier()
	p := &pendingMutation{onError: onError}
	success := func(env modelpkg.Envelope) {
		if !s.settleMutation(id, p) {
			return
		}
		value, ok := env.Payload.(T)
		if !ok {
			if onError != nil {
				onError(fmt.Errorf("%w: got %T", errspkg.ErrMutationNotAnswered, env.Payload))
			}
			return
		}
		if onSuccess != nil {
			onSuccess(value)
		}
	}
	failure := func(env modelpkg.Envelope) {
		if s.settleMutation(id, p) && onError != nil {
			onError(env.Err())
		}
	}

	p.handler = s.bus.NewMessageHandler(buspkg.HandlerConfig{
		Channel:        s.mutationChannel,
		SingleResponse: true,
		CorrelationID:  id,
	})
	if _, err := p.handler.Handle(success, failure); err != nil {
		s.logger.Error("Failed to listen for mutation answer", err, loggingpkg.LogFields{"type": fmt.Sprint(mutationType)})
		return false
	}

	s.pendingMu.Lock()
	s.pending[id] = p
	s.pendingMu.Unlock()

	err := s.bus.SendRequest(s.mutationChannel, mutation{Type: mutationType, Request: request},
		buspkg.WithID(id), buspkg.WithFrom(s.from))
	if err != nil {
		s.settleMutation(id, p)
		p.handler.Close()
		s.logger.Error("Failed to send mutation request", err, loggingpkg.LogFields{"type": fmt.Sprint(mutationType)})
		return false
	}
	return true
}

// settleMutation marks p answered. Only the first caller gets true.
func (s *Store[T]) settleMutation(id Identifier, p *pendingMutation) bool {
	if !p.done.CompareAndSwap(false, true) {
		return false
	}
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
	return true
}

// abandonMutations closes every pending Mutate call and reports
// ErrMutationNotAnswered to its error callback.
func (s *Store[T]) abandonMutations() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[Identifier]*pendingMutation)
	s.pendingMu.Unlock()

	for _, p := range pending {
		if !p.done.CompareAndSwap(false, true) {
			continue
		}
		p.handler.Close()
		if p.onError != nil {
			p.onError(fmt.Errorf("%w: store %q was reset", errspkg.ErrMutationNotAnswered, s.name))
		}
	}
}

// MutationStream is a lazy sequence of mutation requests.
type MutationStream[T any] struct {
	store *Store[T]
	types []any
}

// OnMutationRequest streams incoming mutation requests, optionally limited to
// the given mutation types.
func (s *Store[T]) OnMutationRequest(types ...any) *MutationStream[T] {
	return &MutationStream[T]{store: s, types: types}
}

// Subscribe registers fn as a mutation responder until the transaction is
// closed.
func (ms *MutationStream[T]) Subscribe(fn func(MutationRequest[T])) (*buspkg.Transaction, error) {
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	s := ms.store
	return s.bus.ListenRequestStream(s.mutationChannel, func(env modelpkg.Envelope) {
		m, ok := env.Payload.(mutation)
		if !ok {
			return
		}
		if !matchesAny(ms.types, m.Type) {
			ms.reject(env, m)
			return
		}
		fn(MutationRequest[T]{
			ID:      env.ID,
			Type:    m.Type,
			Request: m.Request,
			bus:     s.bus,
			channel: s.mutationChannel,
			from:    s.from,
		})
	}, func(report modelpkg.Envelope) {
		// fn panicked; answer the requester instead of leaving it waiting.
		failure := &errspkg.ResponderError{RequestID: report.ID, Channel: s.mutationChannel, Err: report.Err()}
		if err := s.bus.SendError(s.mutationChannel, failure, buspkg.WithID(report.ID), buspkg.WithFrom(s.from)); err != nil {
			s.logger.Error("Failed to report mutation responder panic", err, nil)
		}
	})
}

// reject answers a mutation no responder will take. With several responders
// listening another one may still accept it, so the request is left alone.
func (ms *MutationStream[T]) reject(env modelpkg.Envelope, m mutation) {
	s := ms.store
	if s.bus.Listeners(s.mutationChannel, modelpkg.Request) > 1 {
		return
	}
	failure := fmt.Errorf("%w: no responder accepts mutation type %v", errspkg.ErrMutationNotAnswered, m.Type)
	if err := s.bus.SendError(s.mutationChannel, failure, buspkg.WithID(env.ID), buspkg.WithFrom(s.from)); err != nil {
		s.logger.Error("Failed to reject mutation request", err, loggingpkg.LogFields{"type": fmt.Sprint(m.Type)})
	}
}
