// Package bus implements the channel-scoped publish/subscribe engine, the
// request/response orchestration built on it and the typed message handler
// that encapsulates single-response and streaming consumption.
package bus

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
	"github.com/drblury/relay/internal/runtime/registry"
)

// ChannelInfo is a point-in-time view of one live channel.
type ChannelInfo = registry.ChannelInfo

// BusDependencies holds the optional collaborators of a Bus.
// Leave fields nil to use the defaults.
type BusDependencies struct {
	// Registerer receives the bus metrics when metrics are enabled. Defaults
	// to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// TracerProvider creates responder spans when tracing is enabled.
	// Defaults to the global provider.
	TracerProvider trace.TracerProvider
	// Hooks run around every responder invocation.
	Hooks ResponderHooks
}

// Bus is an explicitly constructed, process-local message bus. Create one at
// startup, pass it to every component that needs it and Close it at shutdown.
type Bus struct {
	conf     *configpkg.Config
	logger   loggingpkg.ServiceLogger
	registry *registry.Registry
	metrics  *busMetrics
	tracer   trace.Tracer
	hooks    ResponderHooks
	closed   atomic.Bool
}

// NewBus constructs a Bus and panics when the configuration is invalid.
func NewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) *Bus {
	b, err := TryNewBus(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBus constructs a Bus, returning an error instead of panicking.
func TryNewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("relay: invalid config: %w", err)
	}

	log = log.With(loggingpkg.LogFields{"bus": conf.Name})
	b := &Bus{
		conf:     conf,
		logger:   log,
		registry: registry.New(log),
		tracer:   newTracer(conf.TracingEnabled, deps.TracerProvider),
		hooks:    deps.Hooks,
	}

	if conf.MetricsEnabled {
		metrics, err := newBusMetrics(conf.MetricsNamespace, deps.Registerer, func() float64 {
			return float64(b.registry.Len())
		})
		if err != nil {
			return nil, fmt.Errorf("relay: register metrics: %w", err)
		}
		b.metrics = metrics
	}

	log.Info("Creating message bus", loggingpkg.LogFields{
		"metrics_enabled": conf.MetricsEnabled,
		"tracing_enabled": conf.TracingEnabled,
	})
	return b, nil
}

// Config returns the configuration the bus was built with.
func (b *Bus) Config() *configpkg.Config { return b.conf }

// Logger returns the bus logger.
func (b *Bus) Logger() loggingpkg.ServiceLogger { return b.logger }

// SendRequest publishes a Request envelope on channel.
func (b *Bus) SendRequest(channel string, payload any, opts ...Option) error {
	return b.send(channel, modelpkg.Request, payload, newOptions(opts))
}

// SendResponse publishes a Response envelope on channel.
func (b *Bus) SendResponse(channel string, payload any, opts ...Option) error {
	return b.send(channel, modelpkg.Response, payload, newOptions(opts))
}

// SendError publishes an Error envelope on channel.
func (b *Bus) SendError(channel string, payload any, opts ...Option) error {
	return b.send(channel, modelpkg.Error, payload, newOptions(opts))
}

func (b *Bus) send(channel string, typ modelpkg.MessageType, payload any, o options) error {
	if channel == "" {
		return errspkg.ErrChannelRequired
	}
	env := modelpkg.NewEnvelope(o.id, channel, typ, payload, o.version, o.envelopeMetadata())
	return b.Publish(env)
}

// Publish sends a prebuilt envelope to env.Channel. Zero listeners is not an
// error; the envelope is simply dropped.
func (b *Bus) Publish(env modelpkg.Envelope) error {
	if env.Channel == "" {
		return errspkg.ErrChannelRequired
	}
	if b.closed.Load() {
		return errspkg.ErrBusClosed
	}
	listeners, err := b.registry.Publish(env)
	if err != nil {
		return err
	}
	b.metrics.recordSend(env.Channel, env.Type.String(), listeners)
	if listeners == 0 {
		b.logger.Trace("No listeners, envelope dropped", loggingpkg.LogFields{
			"channel": env.Channel,
			"type":    env.Type.String(),
			"id":      env.ID.String(),
		})
	}
	return nil
}

// ListenRequestStream delivers every Request envelope published on channel
// to onNext until the transaction is closed.
func (b *Bus) ListenRequestStream(channel string, onNext, onError MessageHandlerFunc) (*Transaction, error) {
	return b.listen(channel, registry.RequestSide, onNext, onError, onError)
}

// ListenStream delivers Response envelopes on channel to onNext and Error
// envelopes to onError until the transaction is closed. Error envelopes are
// dropped when onError is nil.
func (b *Bus) ListenStream(channel string, onNext, onError MessageHandlerFunc) (*Transaction, error) {
	return b.listen(channel, registry.ResponseSide, onNext, onError, onError)
}

// listen attaches a subscriber. onPanic receives the Error envelope reporting
// a panic raised by onNext or onError.
func (b *Bus) listen(channel string, side registry.Side, onNext, onError, onPanic MessageHandlerFunc) (*Transaction, error) {
	if channel == "" {
		return nil, errspkg.ErrChannelRequired
	}
	if onNext == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if b.closed.Load() {
		return nil, errspkg.ErrBusClosed
	}

	tx := &Transaction{id: idspkg.CreateULID(), channel: channel}
	sub, err := b.registry.Subscribe(channel, side, func(env modelpkg.Envelope) {
		b.dispatch(tx, env, onNext, onError, onPanic)
	})
	if err != nil {
		return nil, err
	}
	tx.attach(sub)
	return tx, nil
}

func (b *Bus) dispatch(tx *Transaction, env modelpkg.Envelope, onNext, onError, onPanic MessageHandlerFunc) {
	if tx.closed.Load() {
		return
	}
	handler := onNext
	if env.Type == modelpkg.Error {
		handler = onError
	}
	if handler == nil {
		b.logger.Trace("No error handler, error envelope dropped", loggingpkg.LogFields{
			"channel": env.Channel,
			"id":      env.ID.String(),
		})
		return
	}
	if err := b.invoke(handler, env); err != nil {
		b.metrics.recordPanic(env.Channel)
		b.logger.Error("Subscriber callback panicked", err, loggingpkg.LogFields{
			"channel":     env.Channel,
			"transaction": tx.id,
			"id":          env.ID.String(),
		})
		if onPanic != nil {
			report := modelpkg.NewEnvelope(env.ID, env.Channel, modelpkg.Error, err, env.Version, env.Metadata)
			if perr := b.invoke(onPanic, report); perr != nil {
				b.logger.Error("Error handler panicked while reporting a panic", perr, loggingpkg.LogFields{
					"channel":     env.Channel,
					"transaction": tx.id,
				})
			}
		}
		return
	}
	b.metrics.recordDelivered(env.Channel, env.Type.String())
}

// invoke runs fn and converts a panic into a *errors.PanicError.
func (b *Bus) invoke(fn MessageHandlerFunc, env modelpkg.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r}
		}
	}()
	fn(env)
	return nil
}

// CloseChannel releases one reference on channel on behalf of from. The
// channel is torn down when the last reference goes.
func (b *Bus) CloseChannel(channel, from string) error {
	if err := b.registry.ReleaseNamed(channel); err != nil {
		return err
	}
	b.logger.Debug("Channel reference released", loggingpkg.LogFields{
		"channel":  channel,
		"from":     from,
		"refcount": b.registry.RefCount(channel),
	})
	return nil
}

// RefCount returns the number of references held on channel.
func (b *Bus) RefCount(channel string) int {
	return b.registry.RefCount(channel)
}

// Listeners returns the number of subscribers on the side of channel that
// carries envelopes of type typ.
func (b *Bus) Listeners(channel string, typ modelpkg.MessageType) int {
	return b.registry.Listeners(channel, registry.SideOf(typ))
}

// Channels returns a snapshot of every live channel.
func (b *Bus) Channels() []ChannelInfo {
	return b.registry.Snapshot()
}

// Close tears down every channel. Later sends and listens fail with
// ErrBusClosed. Calling Close twice is a no-op.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.registry.Close()
	b.logger.Info("Message bus closed", nil)
	return nil
}

// IsClosed reports whether Close has been called.
func (b *Bus) IsClosed() bool {
	return b.closed.Load()
}
