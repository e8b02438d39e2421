package registry

import (
	"fmt"
	"sync"

	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/model"
)

// Handler receives envelopes delivered to a slot.
type Handler func(model.Envelope)

// Slot is one subscriber's mailbox on one side of a channel. Enqueue never
// blocks; a drain goroutine runs only while the mailbox has pending envelopes
// and delivers them in order.
type Slot struct {
	id      uint64
	side    Side
	handler Handler
	logger  logging.ServiceLogger

	mu      sync.Mutex
	queue   []model.Envelope
	running bool
	closed  bool
}

func newSlot(id uint64, side Side, handler Handler, logger logging.ServiceLogger) *Slot {
	return &Slot{id: id, side: side, handler: handler, logger: logger}
}

// ID returns the slot identifier, unique within its registry.
func (s *Slot) ID() uint64 { return s.id }

// Side returns the side of the channel the slot listens on.
func (s *Slot) Side() Side { return s.side }

// Pending returns the number of envelopes waiting for delivery.
func (s *Slot) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether the slot stopped accepting envelopes.
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Slot) enqueue(env model.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, env)
	if !s.running {
		s.running = true
		go s.drain()
	}
	return true
}

func (s *Slot) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		env := s.queue[0]
		s.queue[0] = model.Envelope{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(env)
	}
}

func (s *Slot) deliver(env model.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Slot handler panicked", fmt.Errorf("%v", r), logging.LogFields{
				"channel": env.Channel,
				"slot":    s.id,
			})
		}
	}()
	s.handler(env)
}

// close drops every undelivered envelope. A delivery already handed to the
// handler runs to completion.
func (s *Slot) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	return true
}
