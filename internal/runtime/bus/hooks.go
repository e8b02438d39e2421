package bus

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// ResponderContext describes one responder invocation to hooks.
type ResponderContext struct {
	// Channel is the channel the request arrived on.
	Channel string
	// ReturnChannel is the channel the answer is published on.
	ReturnChannel string
	// RequestID is the identifier of the request being answered.
	RequestID modelpkg.Identifier
	// Metadata contains the request metadata.
	Metadata metadatapkg.Metadata
	// Context carries the responder span.
	Context context.Context
	// StartedAt is when the responder was invoked.
	StartedAt time.Time
	// Duration is how long the responder took (only set in OnResponse and OnFailure).
	Duration time.Duration
}

// ResponderHooks defines callbacks around every responder invocation.
// All hooks are optional - nil hooks are simply not called. A panic in
// OnRequest or OnResponse fails the request like a responder panic would.
type ResponderHooks struct {
	// OnRequest is called before the responder function runs.
	OnRequest func(ctx ResponderContext)

	// OnResponse is called after the responder returned a payload and before
	// the Response envelope is published.
	OnResponse func(ctx ResponderContext)

	// OnFailure is called when the responder returned an error or panicked.
	// The Error envelope is published after the hook returns.
	OnFailure func(ctx ResponderContext, err error)
}

// Merge combines two ResponderHooks, creating a new ResponderHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h ResponderHooks) Merge(other ResponderHooks) ResponderHooks {
	return ResponderHooks{
		OnRequest:  chainHooks(h.OnRequest, other.OnRequest),
		OnResponse: chainHooks(h.OnResponse, other.OnResponse),
		OnFailure:  chainFailureHooks(h.OnFailure, other.OnFailure),
	}
}

func chainHooks(a, b func(ResponderContext)) func(ResponderContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ResponderContext) {
		a(ctx)
		b(ctx)
	}
}

func chainFailureHooks(a, b func(ResponderContext, error)) func(ResponderContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ResponderContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h ResponderHooks) request(ctx ResponderContext) {
	if h.OnRequest != nil {
		h.OnRequest(ctx)
	}
}

func (h ResponderHooks) response(ctx ResponderContext) {
	if h.OnResponse != nil {
		h.OnResponse(ctx)
	}
}

func (h ResponderHooks) failure(ctx ResponderContext, err error) {
	if h.OnFailure != nil {
		h.OnFailure(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log responder activity.
func LoggingHooks(logger loggingpkg.ServiceLogger) ResponderHooks {
	return ResponderHooks{
		OnRequest: func(ctx ResponderContext) {
			logger.Debug("Responder invoked", loggingpkg.LogFields{
				"channel":        ctx.Channel,
				"return_channel": ctx.ReturnChannel,
				"request_id":     ctx.RequestID.String(),
			})
		},
		OnResponse: func(ctx ResponderContext) {
			logger.Debug("Responder answered", loggingpkg.LogFields{
				"channel":     ctx.Channel,
				"request_id":  ctx.RequestID.String(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnFailure: func(ctx ResponderContext, err error) {
			logger.Error("Responder failed", err, loggingpkg.LogFields{
				"channel":     ctx.Channel,
				"request_id":  ctx.RequestID.String(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that report responder outcomes per channel.
func MetricsHooks(onRequest, onResponse, onFailure func(channel string)) ResponderHooks {
	return ResponderHooks{
		OnRequest: func(ctx ResponderContext) {
			if onRequest != nil {
				onRequest(ctx.Channel)
			}
		},
		OnResponse: func(ctx ResponderContext) {
			if onResponse != nil {
				onResponse(ctx.Channel)
			}
		},
		OnFailure: func(ctx ResponderContext, err error) {
			if onFailure != nil {
				onFailure(ctx.Channel)
			}
		},
	}
}
