package bus

import (
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// MessageHandlerFunc receives one delivered envelope.
type MessageHandlerFunc func(env modelpkg.Envelope)

// Option tunes a single send, request or respond call.
type Option func(*options)

type options struct {
	id            modelpkg.Identifier
	from          string
	metadata      metadatapkg.Metadata
	version       int64
	returnChannel string
	onError       MessageHandlerFunc
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithID sets the envelope identifier. Without it the bus generates one.
func WithID(id modelpkg.Identifier) Option {
	return func(o *options) { o.id = id }
}

// WithFrom records the sender label in the envelope metadata.
func WithFrom(from string) Option {
	return func(o *options) { o.from = from }
}

// WithMetadata merges md into the envelope metadata.
func WithMetadata(md metadatapkg.Metadata) Option {
	return func(o *options) { o.metadata = o.metadata.WithAll(md) }
}

// WithVersion sets the envelope version.
func WithVersion(version int64) Option {
	return func(o *options) { o.version = version }
}

// WithReturnChannel makes requests listen, and responders answer, on channel
// instead of the send channel.
func WithReturnChannel(channel string) Option {
	return func(o *options) { o.returnChannel = channel }
}

// WithErrorHandler receives Error envelopes answering a request.
func WithErrorHandler(fn MessageHandlerFunc) Option {
	return func(o *options) { o.onError = fn }
}

func (o options) envelopeMetadata() metadatapkg.Metadata {
	if o.from == "" {
		return o.metadata
	}
	return o.metadata.With(metadatapkg.KeyFrom, o.from)
}

func (o options) returnChannelOr(channel string) string {
	if o.returnChannel == "" {
		return channel
	}
	return o.returnChannel
}
