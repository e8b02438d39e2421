// Package bridge exposes a Bus as a Watermill message.Publisher and
// message.Subscriber so transports and routers built on Watermill can feed
// envelopes into the bus and observe them.
package bridge

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	codecpkg "github.com/drblury/relay/internal/runtime/codec"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Codec decodes message payloads. Defaults to codec.JSON.
	Codec codecpkg.PayloadCodec
}

// Publisher publishes Watermill messages onto bus channels. The topic is the
// channel name. The envelope type, identifier and version are read from the
// relay_* metadata keys; a message without them becomes a Request with a
// fresh identifier.
type Publisher struct {
	bus    *buspkg.Bus
	codec  codecpkg.PayloadCodec
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

// NewPublisher creates a Publisher for b.
func NewPublisher(b *buspkg.Bus, conf PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if conf.Codec == nil {
		conf.Codec = codecpkg.JSON{}
	}
	return &Publisher{bus: b, codec: conf.Codec, logger: logger}, nil
}

// Publish implements message.Publisher.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errspkg.ErrBusClosed
	}
	for _, msg := range messages {
		env, err := p.toEnvelope(topic, msg)
		if err != nil {
			return err
		}
		p.logger.Trace("Publishing message to bus", watermill.LogFields{
			"uuid":    msg.UUID,
			"channel": topic,
			"type":    env.Type.String(),
		})
		if err := p.bus.Publish(env); err != nil {
			return fmt.Errorf("bridge: publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

func (p *Publisher) toEnvelope(topic string, msg *message.Message) (modelpkg.Envelope, error) {
	md := metadatapkg.FromWatermill(msg.Metadata)

	typ, err := modelpkg.ParseMessageType(md.Get(metadatapkg.KeyMessageType))
	if err != nil {
		return modelpkg.Envelope{}, fmt.Errorf("bridge: message %s: %w", msg.UUID, err)
	}
	id, err := idspkg.ParseIdentifier(md.Get(metadatapkg.KeyMessageID))
	if err != nil {
		return modelpkg.Envelope{}, fmt.Errorf("bridge: message %s: invalid identifier: %w", msg.UUID, err)
	}
	var version int64
	if raw := md.Get(metadatapkg.KeyVersion); raw != "" {
		if version, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return modelpkg.Envelope{}, fmt.Errorf("bridge: message %s: invalid version: %w", msg.UUID, err)
		}
	}
	payload, err := p.codec.DecodePayload(msg.Payload)
	if err != nil {
		return modelpkg.Envelope{}, fmt.Errorf("bridge: message %s: %w", msg.UUID, err)
	}

	for _, key := range []string{metadatapkg.KeyMessageType, metadatapkg.KeyMessageID, metadatapkg.KeyVersion, metadatapkg.KeyChannel} {
		delete(md, key)
	}
	return modelpkg.NewEnvelope(id, topic, typ, payload, version, md), nil
}

// Close implements message.Publisher.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}
