package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
	"github.com/drblury/relay/internal/runtime/registry"
)

// HandlerConfig configures a MessageHandler.
type HandlerConfig struct {
	// Channel is the channel to listen on.
	Channel string
	// RequestStream listens on the request side (responder role) instead of
	// the response side.
	RequestStream bool
	// SingleResponse closes the handler after the first accepted envelope.
	SingleResponse bool
	// CorrelationID, when set, ignores envelopes carrying another identifier.
	CorrelationID modelpkg.Identifier
}

// MessageHandler owns one subscription and applies the single-response or
// streaming consumption policy to it.
type MessageHandler struct {
	bus  *Bus
	conf HandlerConfig

	mu     sync.Mutex
	tx     *Transaction
	closed bool

	taken atomic.Bool
}

// NewMessageHandler creates a handler. Nothing is subscribed until Handle.
func (b *Bus) NewMessageHandler(conf HandlerConfig) *MessageHandler {
	return &MessageHandler{bus: b, conf: conf}
}

// Config returns the handler configuration.
func (h *MessageHandler) Config() HandlerConfig { return h.conf }

// Handle opens the subscription. onSuccess receives Request envelopes (request
// stream) or Response envelopes; onError receives Error envelopes and panics
// raised by onSuccess. Calling Handle again returns the existing transaction.
//
// With SingleResponse set the first accepted envelope, Response or Error,
// consumes the handler: it is delivered and the handler closes.
func (h *MessageHandler) Handle(onSuccess, onError MessageHandlerFunc) (*Transaction, error) {
	if onSuccess == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx != nil {
		return h.tx, nil
	}
	if h.closed {
		return nil, errspkg.ErrHandlerClosed
	}

	side := registry.ResponseSide
	if h.conf.RequestStream {
		side = registry.RequestSide
	}
	tx, err := h.bus.listen(h.conf.Channel, side, h.wrap(onSuccess), h.wrap(onError), onError)
	if err != nil {
		return nil, err
	}
	h.tx = tx
	return tx, nil
}

// wrap applies correlation filtering and the take-first policy. fn may be nil,
// in which case an accepted envelope is consumed without a callback.
func (h *MessageHandler) wrap(fn MessageHandlerFunc) MessageHandlerFunc {
	return func(env modelpkg.Envelope) {
		if !env.Matches(h.conf.CorrelationID) {
			return
		}
		if h.conf.SingleResponse {
			if !h.taken.CompareAndSwap(false, true) {
				return
			}
			defer h.Close()
		}
		if fn != nil {
			fn(env)
		}
	}
}

// Tick publishes payload as a Response on the handler channel, correlated to
// CorrelationID when set.
func (h *MessageHandler) Tick(payload any, opts ...Option) error {
	if h.IsClosed() {
		return errspkg.ErrHandlerClosed
	}
	o := newOptions(opts)
	if o.id == uuid.Nil {
		o.id = h.conf.CorrelationID
	}
	return h.bus.send(h.conf.Channel, modelpkg.Response, payload, o)
}

// Close unsubscribes. Calling Close more than once is a no-op.
func (h *MessageHandler) Close() {
	h.mu.Lock()
	h.closed = true
	tx := h.tx
	h.mu.Unlock()
	if tx != nil {
		tx.Close()
	}
}

// IsClosed reports whether the handler has been closed, either explicitly or
// after delivering its single response.
func (h *MessageHandler) IsClosed() bool {
	h.mu.Lock()
	closed, tx := h.closed, h.tx
	h.mu.Unlock()
	return closed || (tx != nil && tx.IsClosed())
}
