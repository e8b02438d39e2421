// Package relay is an in-process message bus for decoupling the components of
// a single Go program. Components talk over named channels instead of holding
// references to each other: a channel is created lazily on first use and torn
// down when its last subscriber leaves.
//
// Every channel has two sides. Requests travel on the request side and are
// seen only by request listeners; responses and errors travel on the response
// side. Envelopes carry a correlation Identifier so a requester can pick its
// own answer out of a shared channel.
//
// # Messaging
//
// Bus offers fire-and-forget sends (SendRequest, SendResponse, SendError),
// stream listeners (ListenStream, ListenRequestStream) and request/response
// helpers (RequestOnce, RequestStream, RespondOnce, RespondStream). Each
// subscriber owns a mailbox drained by its own goroutine, so a slow subscriber
// never blocks a sender and envelopes from one sender arrive in send order.
// A panicking callback is isolated and reported to the subscriber's error
// callback as a PanicError.
//
// MessageHandler wraps a channel for code that repeatedly listens and ticks on
// the same channel, optionally filtering by correlation identifier and closing
// itself after the first answer.
//
// # Stores
//
// Store is a generic keyed collection that broadcasts every change on
// "store::<name>::state" and accepts mutation requests on
// "store::<name>::mutations". StoreManager hands out stores by name and can
// join the readiness of several stores into one callback.
//
// # Watermill
//
// Publisher and Subscriber expose the bus as Watermill message.Publisher and
// message.Subscriber so routers and middleware written for Watermill can
// consume and produce envelopes. Envelope metadata travels under the relay_*
// keys.
//
// # Observability
//
// Logging goes through ServiceLogger, backed by log/slog or any Watermill
// logger. Prometheus counters are registered when Config.MetricsEnabled is
// set, and responders open OpenTelemetry spans when Config.TracingEnabled is
// set.
package relay
