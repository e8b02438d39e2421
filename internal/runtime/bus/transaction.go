package bus

import (
	"sync"
	"sync/atomic"

	"github.com/drblury/relay/internal/runtime/registry"
)

// Transaction is the caller-owned handle of one subscription. The bus keeps no
// reference to it; dropping the handle without closing it leaks the
// subscription until the bus is closed.
type Transaction struct {
	id      string
	channel string

	closed atomic.Bool
	mu     sync.Mutex
	sub    *registry.Subscription
}

// ID returns the ULID label of the transaction.
func (t *Transaction) ID() string { return t.id }

// Channel returns the channel the transaction listens on.
func (t *Transaction) Channel() string { return t.channel }

// Close stops delivery. Envelopes not yet handed to the callback are dropped.
// Only the first call has any effect.
func (t *Transaction) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Unsubscribe is an alias for Close.
func (t *Transaction) Unsubscribe() { t.Close() }

// IsClosed reports whether the transaction was closed or its channel torn down.
func (t *Transaction) IsClosed() bool {
	if t.closed.Load() {
		return true
	}
	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	return sub != nil && sub.Cancelled()
}

func (t *Transaction) attach(sub *registry.Subscription) {
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
	if t.closed.Load() {
		sub.Cancel()
	}
}
