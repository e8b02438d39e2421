package registry

import (
	"sync"

	"github.com/drblury/relay/internal/runtime/model"
)

// Side selects the request or the response half of a channel.
type Side int

const (
	// RequestSide carries Request envelopes.
	RequestSide Side = iota
	// ResponseSide carries Response and Error envelopes.
	ResponseSide
)

func (s Side) String() string {
	if s == RequestSide {
		return "request"
	}
	return "response"
}

// SideOf returns the side a message type is routed through.
func SideOf(t model.MessageType) Side {
	if t.IsResponseSide() {
		return ResponseSide
	}
	return RequestSide
}

// Channel is a named multicast address with independent request and response
// sides. Channels are created and destroyed by the Registry only.
type Channel struct {
	name string

	mu        sync.Mutex
	refCount  int
	destroyed bool
	requests  []*Slot
	responses []*Slot
}

func newChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// RefCount returns the number of references currently held.
func (c *Channel) RefCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount
}

// Destroyed reports whether the channel has been torn down.
func (c *Channel) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Listeners returns the number of slots attached to side.
func (c *Channel) Listeners(side Side) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(*c.slots(side))
}

func (c *Channel) slots(side Side) *[]*Slot {
	if side == RequestSide {
		return &c.requests
	}
	return &c.responses
}

func (c *Channel) addSlot(slot *Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false
	}
	list := c.slots(slot.side)
	*list = append(*list, slot)
	return true
}

func (c *Channel) removeSlot(slot *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.slots(slot.side)
	for i, candidate := range *list {
		if candidate == slot {
			kept := make([]*Slot, 0, len(*list)-1)
			kept = append(kept, (*list)[:i]...)
			kept = append(kept, (*list)[i+1:]...)
			*list = kept
			return
		}
	}
}

// publish enqueues env on every slot of the envelope's side, in attach order,
// and returns how many slots accepted it. The slot list is snapshotted so
// callbacks that subscribe or unsubscribe never race the iteration.
func (c *Channel) publish(env model.Envelope) int {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return 0
	}
	targets := *c.slots(SideOf(env.Type))
	c.mu.Unlock()

	delivered := 0
	for _, slot := range targets {
		if slot.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// destroyLocked marks the channel destroyed and detaches every slot. The
// caller must hold c.mu and close the returned slots after unlocking.
func (c *Channel) destroyLocked() []*Slot {
	c.destroyed = true
	c.refCount = 0
	slots := make([]*Slot, 0, len(c.requests)+len(c.responses))
	slots = append(slots, c.requests...)
	slots = append(slots, c.responses...)
	c.requests = nil
	c.responses = nil
	return slots
}
