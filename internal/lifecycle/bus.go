package lifecycle

import "context"

// DefaultCapacity is the number of events the bus buffers before publishers block.
const DefaultCapacity = 100

// Bus is a bounded FIFO with many publishers and a single consumer.
type Bus struct {
	events chan Event
}

// NewBus returns a bus holding up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{events: make(chan Event, capacity)}
}

// Publish enqueues e, blocking while the bus is full. It only fails when ctx
// is done first.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	select {
	case b.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the receive side for the single consumer.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// Len reports the number of queued events.
func (b *Bus) Len() int {
	return len(b.events)
}
