package bus

import (
	"context"
	"time"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// Responder answers one Request. The returned payload is published as a
// Response carrying the request identifier; a returned error, or a panic, is
// published as an Error envelope whose payload is an *errors.ResponderError.
type Responder func(ctx context.Context, req modelpkg.Envelope) (any, error)

// RespondOnce answers the first Request arriving on channel and then
// unsubscribes.
func (b *Bus) RespondOnce(channel string, responder Responder, opts ...Option) (*Transaction, error) {
	return b.respond(channel, responder, true, opts)
}

// RespondStream answers every Request arriving on channel until the returned
// transaction is closed. A failing request never stops the responder.
func (b *Bus) RespondStream(channel string, responder Responder, opts ...Option) (*Transaction, error) {
	return b.respond(channel, responder, false, opts)
}

func (b *Bus) respond(channel string, responder Responder, once bool, opts []Option) (*Transaction, error) {
	if responder == nil {
		return nil, errspkg.ErrResponderRequired
	}
	o := newOptions(opts)
	returnChannel := o.returnChannelOr(channel)

	handler := b.NewMessageHandler(HandlerConfig{
		Channel:        channel,
		RequestStream:  true,
		SingleResponse: once,
		CorrelationID:  o.id,
	})
	return handler.Handle(func(req modelpkg.Envelope) {
		b.answer(returnChannel, req, responder, o)
	}, o.onError)
}

func (b *Bus) answer(returnChannel string, req modelpkg.Envelope, responder Responder, o options) {
	ctx, span := b.startRespondSpan(context.Background(), req, returnChannel)
	defer span.End()

	info := ResponderContext{
		Channel:       req.Channel,
		ReturnChannel: returnChannel,
		RequestID:     req.ID,
		Metadata:      req.Metadata,
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	err := runHook(func() { b.hooks.request(info) })
	var payload any
	if err == nil {
		payload, err = invokeResponder(ctx, responder, req)
	}
	info.Duration = time.Since(info.StartedAt)
	if err == nil {
		err = runHook(func() { b.hooks.response(info) })
	}
	endSpanWithError(span, err)

	reply := options{id: req.ID, from: o.from, metadata: o.metadata}
	if err != nil {
		b.metrics.recordResponderFailure(req.Channel)
		b.logger.Error("Responder failed", err, loggingpkg.LogFields{
			"channel":        req.Channel,
			"return_channel": returnChannel,
			"request_id":     req.ID.String(),
		})
		if hookErr := runHook(func() { b.hooks.failure(info, err) }); hookErr != nil {
			b.logger.Error("Responder failure hook panicked", hookErr, loggingpkg.LogFields{"channel": req.Channel})
		}
		failure := &errspkg.ResponderError{RequestID: req.ID, Channel: req.Channel, Err: err}
		if sendErr := b.send(returnChannel, modelpkg.Error, failure, reply); sendErr != nil {
			b.logger.Error("Failed to publish responder error", sendErr, loggingpkg.LogFields{"channel": returnChannel})
		}
		return
	}

	if sendErr := b.send(returnChannel, modelpkg.Response, payload, reply); sendErr != nil {
		b.logger.Error("Failed to publish response", sendErr, loggingpkg.LogFields{"channel": returnChannel})
	}
}

func invokeResponder(ctx context.Context, responder Responder, req modelpkg.Envelope) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, &errspkg.PanicError{Value: r}
		}
	}()
	return responder(ctx, req)
}

// runHook runs a responder hook, turning a panic into a *errors.PanicError so
// the requester is still answered.
func runHook(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r}
		}
	}()
	fn()
	return nil
}
