package bus

import (
	"github.com/google/uuid"

	idspkg "github.com/drblury/relay/internal/runtime/ids"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// RequestOnce publishes payload as a Request on channel and delivers the
// first answer arriving on the return channel: a Response to onSuccess or an
// Error to the WithErrorHandler callback. The exchange is channel-correlated:
// any answer on the return channel is accepted.
func (b *Bus) RequestOnce(channel string, payload any, onSuccess MessageHandlerFunc, opts ...Option) (*Transaction, error) {
	return b.request(uuid.Nil, channel, payload, onSuccess, true, opts)
}

// RequestOnceWithID is RequestOnce correlated to id: answers carrying another
// identifier are ignored.
func (b *Bus) RequestOnceWithID(id modelpkg.Identifier, channel string, payload any, onSuccess MessageHandlerFunc, opts ...Option) (*Transaction, error) {
	if id == uuid.Nil {
		id = idspkg.NewIdentifier()
	}
	return b.request(id, channel, payload, onSuccess, true, opts)
}

// RequestStream is RequestOnce that keeps delivering answers until the
// returned transaction is closed.
func (b *Bus) RequestStream(channel string, payload any, onSuccess MessageHandlerFunc, opts ...Option) (*Transaction, error) {
	return b.request(uuid.Nil, channel, payload, onSuccess, false, opts)
}

// RequestStreamWithID is RequestStream correlated to id.
func (b *Bus) RequestStreamWithID(id modelpkg.Identifier, channel string, payload any, onSuccess MessageHandlerFunc, opts ...Option) (*Transaction, error) {
	if id == uuid.Nil {
		id = idspkg.NewIdentifier()
	}
	return b.request(id, channel, payload, onSuccess, false, opts)
}

// request subscribes to the return channel before publishing so an answer
// can never overtake the subscription.
func (b *Bus) request(id modelpkg.Identifier, channel string, payload any, onSuccess MessageHandlerFunc, single bool, opts []Option) (*Transaction, error) {
	o := newOptions(opts)
	handler := b.NewMessageHandler(HandlerConfig{
		Channel:        o.returnChannelOr(channel),
		SingleResponse: single,
		CorrelationID:  id,
	})
	tx, err := handler.Handle(onSuccess, o.onError)
	if err != nil {
		return nil, err
	}

	if id != uuid.Nil {
		o.id = id
	}
	if err := b.send(channel, modelpkg.Request, payload, o); err != nil {
		handler.Close()
		return nil, err
	}
	return tx, nil
}
