// Package registry owns the mapping from channel name to live channel, the
// reference counts that keep channels alive and the per-subscriber delivery
// slots.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/model"
)

// ChannelInfo is a point-in-time view of one channel.
type ChannelInfo struct {
	Name      string
	RefCount  int
	Requests  int
	Responses int
}

// Registry maps channel names to channels. The map is guarded by a single
// RWMutex; publishing only takes the read lock.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool

	nextSlot atomic.Uint64
	logger   logging.ServiceLogger
}

// New creates an empty registry. A nil logger discards output.
func New(logger logging.ServiceLogger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		channels: make(map[string]*Channel),
		logger:   logger,
	}
}

// Open returns the live channel called name, creating it when absent. Open
// does not take a reference.
func (r *Registry) Open(name string) (*Channel, error) {
	if name == "" {
		return nil, errspkg.ErrChannelRequired
	}

	r.mu.RLock()
	ch, ok := r.channels[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errspkg.ErrBusClosed
	}
	if ok {
		return ch, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(name)
}

func (r *Registry) openLocked(name string) (*Channel, error) {
	if r.closed {
		return nil, errspkg.ErrBusClosed
	}
	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}
	ch := newChannel(name)
	r.channels[name] = ch
	r.logger.Debug("Channel created", logging.LogFields{"channel": name})
	return ch, nil
}

// Lookup returns the live channel called name without creating it.
func (r *Registry) Lookup(name string) (*Channel, error) {
	if name == "" {
		return nil, errspkg.ErrChannelRequired
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, errspkg.ChannelNotFound(name)
	}
	return ch, nil
}

// Retain opens name and takes one reference on it atomically with respect to
// destruction: the returned channel stays alive until released.
func (r *Registry) Retain(name string) (*Channel, error) {
	if name == "" {
		return nil, errspkg.ErrChannelRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.openLocked(name)
	if err != nil {
		return nil, err
	}
	ch.mu.Lock()
	ch.refCount++
	ch.mu.Unlock()
	return ch, nil
}

// Release drops one reference from ch. When the count reaches zero the
// channel is removed from the registry and its slots are closed. Releasing a
// channel that was already destroyed is a no-op, so a reference is never
// released twice.
func (r *Registry) Release(ch *Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	slots, destroyed := r.releaseLocked(ch)
	r.mu.Unlock()

	if destroyed {
		closeSlots(slots)
		r.logger.Debug("Channel destroyed", logging.LogFields{"channel": ch.name})
	}
}

// ReleaseNamed drops one reference from the channel called name. A channel
// that was opened by a send but never retained is torn down immediately.
func (r *Registry) ReleaseNamed(name string) error {
	if name == "" {
		return errspkg.ErrChannelRequired
	}
	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return errspkg.ChannelNotFound(name)
	}
	slots, destroyed := r.releaseLocked(ch)
	r.mu.Unlock()

	if destroyed {
		closeSlots(slots)
		r.logger.Debug("Channel destroyed", logging.LogFields{"channel": name})
	}
	return nil
}

func (r *Registry) releaseLocked(ch *Channel) ([]*Slot, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.destroyed {
		return nil, false
	}
	if ch.refCount > 0 {
		ch.refCount--
	}
	if ch.refCount > 0 {
		return nil, false
	}
	if r.channels[ch.name] == ch {
		delete(r.channels, ch.name)
	}
	return ch.destroyLocked(), true
}

// Subscribe retains name and attaches a new slot on side. The returned
// Subscription owns both the slot and the reference.
func (r *Registry) Subscribe(name string, side Side, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	slot := newSlot(r.nextSlot.Add(1), side, handler, r.logger)
	for {
		ch, err := r.Retain(name)
		if err != nil {
			return nil, err
		}
		if ch.addSlot(slot) {
			return &Subscription{registry: r, channel: ch, slot: slot}, nil
		}
		// The channel was torn down between Retain and addSlot, either by a
		// CloseChannel or by Close. Retain fails once the registry is closed.
	}
}

// Publish enqueues env on every matching slot of the channel named by
// env.Channel, creating the channel when absent. It returns the number of
// slots that accepted the envelope and never blocks on a subscriber.
func (r *Registry) Publish(env model.Envelope) (int, error) {
	ch, err := r.Open(env.Channel)
	if err != nil {
		return 0, err
	}
	return ch.publish(env), nil
}

// RefCount returns the reference count of name, or zero if it does not exist.
func (r *Registry) RefCount(name string) int {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return ch.RefCount()
}

// Listeners returns the number of subscribers on one side of name.
func (r *Registry) Listeners(name string, side Side) int {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return ch.Listeners(side)
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Snapshot returns every live channel sorted by name.
func (r *Registry) Snapshot() []ChannelInfo {
	r.mu.RLock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	infos := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		ch.mu.Lock()
		infos = append(infos, ChannelInfo{
			Name:      ch.name,
			RefCount:  ch.refCount,
			Requests:  len(ch.requests),
			Responses: len(ch.responses),
		})
		ch.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close destroys every channel. Later opens fail with ErrBusClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var slots []*Slot
	for name, ch := range r.channels {
		ch.mu.Lock()
		slots = append(slots, ch.destroyLocked()...)
		ch.mu.Unlock()
		delete(r.channels, name)
	}
	r.mu.Unlock()

	closeSlots(slots)
	r.logger.Debug("Registry closed", logging.LogFields{"slots_closed": len(slots)})
}

func closeSlots(slots []*Slot) {
	for _, slot := range slots {
		slot.close()
	}
}

// Subscription ties one slot to the reference it holds on its channel.
type Subscription struct {
	registry *Registry
	channel  *Channel
	slot     *Slot
	done     atomic.Bool
}

// Channel returns the channel the subscription is attached to.
func (s *Subscription) Channel() *Channel { return s.channel }

// Slot returns the delivery slot.
func (s *Subscription) Slot() *Slot { return s.slot }

// Cancel detaches the slot, drops its pending envelopes and releases the
// channel reference. Only the first call has any effect.
func (s *Subscription) Cancel() bool {
	if !s.done.CompareAndSwap(false, true) {
		return false
	}
	s.slot.close()
	s.channel.removeSlot(s.slot)
	s.registry.Release(s.channel)
	return true
}

// Cancelled reports whether Cancel has run, or the channel underneath was
// torn down.
func (s *Subscription) Cancelled() bool {
	return s.done.Load() || s.slot.Closed()
}
