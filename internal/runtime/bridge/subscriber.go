package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	codecpkg "github.com/drblury/relay/internal/runtime/codec"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// Requests subscribes to the request side of the channel instead of the
	// response side.
	Requests bool
	// AckTimeout bounds the wait for Ack or Nack. Zero uses the bus
	// configuration; a negative value waits forever.
	AckTimeout time.Duration
	// Codec encodes envelope payloads. Defaults to codec.JSON.
	Codec codecpkg.PayloadCodec
}

// Subscriber turns bus envelopes into Watermill messages. Each Subscribe call
// opens an independent bus subscription; messages are emitted one at a time
// and the next one is sent only after the previous was acked, nacked or timed
// out. Nacked messages are not redelivered.
type Subscriber struct {
	bus    *buspkg.Bus
	conf   SubscriberConfig
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewSubscriber creates a Subscriber for b.
func NewSubscriber(b *buspkg.Bus, conf SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if conf.Codec == nil {
		conf.Codec = codecpkg.JSON{}
	}
	if conf.AckTimeout == 0 {
		conf.AckTimeout = b.Config().BridgeAckTimeout.Duration
	}
	return &Subscriber{
		bus:    b,
		conf:   conf,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}, nil
}

type subscription struct {
	topic   string
	out     chan *message.Message
	closing chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	closed bool
	tx     *buspkg.Transaction
}

// Subscribe implements message.Subscriber. The returned channel is closed when
// ctx is done or the Subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errspkg.ErrBusClosed
	}
	sub := &subscription{
		topic:   topic,
		out:     make(chan *message.Message),
		closing: make(chan struct{}),
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	deliver := func(env modelpkg.Envelope) { s.deliver(ctx, sub, env) }
	var (
		tx  *buspkg.Transaction
		err error
	)
	if s.conf.Requests {
		tx, err = s.bus.ListenRequestStream(topic, deliver, nil)
	} else {
		tx, err = s.bus.ListenStream(topic, deliver, deliver)
	}
	if err != nil {
		s.forget(sub)
		return nil, err
	}
	sub.mu.Lock()
	sub.tx = tx
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		tx.Close()
		return nil, errspkg.ErrBusClosed
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.closing:
		}
		s.closeSubscription(sub)
	}()

	s.logger.Debug("Subscribed to bus channel", watermill.LogFields{"channel": topic, "transaction": tx.ID()})
	return sub.out, nil
}

func (s *Subscriber) deliver(ctx context.Context, sub *subscription, env modelpkg.Envelope) {
	msg, err := s.toMessage(env)
	if err != nil {
		s.logger.Error("Cannot encode envelope payload", err, watermill.LogFields{"channel": env.Channel, "id": env.ID.String()})
		return
	}
	msg.SetContext(ctx)

	sub.mu.RLock()
	if sub.closed {
		sub.mu.RUnlock()
		return
	}
	select {
	case sub.out <- msg:
	case <-sub.closing:
		sub.mu.RUnlock()
		return
	}
	sub.mu.RUnlock()

	var timeout <-chan time.Time
	if s.conf.AckTimeout > 0 {
		timer := time.NewTimer(s.conf.AckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Info("Message nacked, dropping", watermill.LogFields{"uuid": msg.UUID, "channel": env.Channel})
	case <-timeout:
		s.logger.Info("Ack timeout, dropping", watermill.LogFields{"uuid": msg.UUID, "channel": env.Channel})
	case <-sub.closing:
	}
}

func (s *Subscriber) toMessage(env modelpkg.Envelope) (*message.Message, error) {
	payload, err := s.conf.Codec.EncodePayload(env.Payload)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(env.Metadata.WithAll(metadatapkg.Metadata{
		metadatapkg.KeyMessageID:   env.ID.String(),
		metadatapkg.KeyMessageType: env.Type.String(),
		metadatapkg.KeyChannel:     env.Channel,
		metadatapkg.KeyVersion:     strconv.FormatInt(env.Version, 10),
	}))
	return msg, nil
}

// closeSubscription stops the bus subscription and closes the output channel
// once no delivery holds it.
func (s *Subscriber) closeSubscription(sub *subscription) {
	sub.once.Do(func() {
		close(sub.closing)
		sub.mu.Lock()
		sub.closed = true
		tx := sub.tx
		close(sub.out)
		sub.mu.Unlock()
		if tx != nil {
			tx.Close()
		}
		s.forget(sub)
		s.logger.Debug("Bus subscription closed", watermill.LogFields{"channel": sub.topic})
	})
}

func (s *Subscriber) forget(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Close implements message.Subscriber.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.closeSubscription(sub)
	}
	return nil
}
