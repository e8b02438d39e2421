package bus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// busMetrics holds the Prometheus collectors of one bus. A nil *busMetrics
// records nothing.
type busMetrics struct {
	sent              *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	delivered         *prometheus.CounterVec
	callbackPanics    *prometheus.CounterVec
	responderFailures *prometheus.CounterVec
	channelsOpen      prometheus.GaugeFunc
}

func newBusCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newBusMetrics(namespace string, registerer prometheus.Registerer, openChannels func() float64) (*busMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &busMetrics{
		sent:              newBusCounterVec(namespace, "messages_sent_total", "Envelopes published, by channel and message type", []string{"channel", "type"}),
		dropped:           newBusCounterVec(namespace, "messages_dropped_total", "Envelopes published to a channel side without listeners", []string{"channel", "type"}),
		delivered:         newBusCounterVec(namespace, "messages_delivered_total", "Envelopes handed to subscriber callbacks", []string{"channel", "type"}),
		callbackPanics:    newBusCounterVec(namespace, "callback_panics_total", "Subscriber callbacks that panicked", []string{"channel"}),
		responderFailures: newBusCounterVec(namespace, "responder_failures_total", "Responder invocations that failed or panicked", []string{"channel"}),
		channelsOpen: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "channels_open",
				Help:      "Channels currently alive in the registry",
			},
			openChannels,
		),
	}

	var err error
	if m.sent, err = registerCounterVec(registerer, m.sent); err != nil {
		return nil, err
	}
	if m.dropped, err = registerCounterVec(registerer, m.dropped); err != nil {
		return nil, err
	}
	if m.delivered, err = registerCounterVec(registerer, m.delivered); err != nil {
		return nil, err
	}
	if m.callbackPanics, err = registerCounterVec(registerer, m.callbackPanics); err != nil {
		return nil, err
	}
	if m.responderFailures, err = registerCounterVec(registerer, m.responderFailures); err != nil {
		return nil, err
	}
	if err := registerer.Register(m.channelsOpen); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
	}
	return m, nil
}

// registerCounterVec registers c, reusing the collector that is already
// registered under the same descriptor.
func registerCounterVec(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *busMetrics) recordSend(channel, typ string, listeners int) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(channel, typ).Inc()
	if listeners == 0 {
		m.dropped.WithLabelValues(channel, typ).Inc()
	}
}

func (m *busMetrics) recordDelivered(channel, typ string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(channel, typ).Inc()
}

func (m *busMetrics) recordPanic(channel string) {
	if m == nil {
		return
	}
	m.callbackPanics.WithLabelValues(channel).Inc()
}

func (m *busMetrics) recordResponderFailure(channel string) {
	if m == nil {
		return
	}
	m.responderFailures.WithLabelValues(channel).Inc()
}
