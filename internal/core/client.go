package core

import (
	"errors"
	"fmt"
	"sync"
)

// SessionID identifies one live transport connection. Assigned by the transport.
type SessionID string

// Sink is the live transport of one session. Deliver must not block.
type Sink interface {
	Deliver(ev *Event) error
}

var (
	errSinkClosed = fmt.Errorf("%w: sink closed", ErrDeliveryFailed)
	errQueueFull  = fmt.Errorf("%w: outbound queue full", ErrDeliveryFailed)
	errNoSession  = fmt.Errorf("%w: no live session", ErrDeliveryFailed)
)

func deliveryReason(err error) string {
	switch {
	case errors.Is(err, errQueueFull):
		return "queue_full"
	case errors.Is(err, errSinkClosed):
		return "closed"
	case errors.Is(err, errNoSession):
		return "no_session"
	default:
		return "transport"
	}
}

// Client is a bounded outbound event queue for one connection.
// The transport drains Events; the core fills it through Deliver.
type Client struct {
	ID SessionID

	mu     sync.RWMutex
	events chan *Event
	closed bool
}

// NewClient constructs a client with a queue of the given size.
func NewClient(id SessionID, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:     id,
		events: make(chan *Event, buffer),
	}
}

// Events returns the outbound queue. It is closed by Close.
func (c *Client) Events() <-chan *Event {
	return c.events
}

// Deliver enqueues ev without blocking. A slow consumer loses the event.
func (c *Client) Deliver(ev *Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errSinkClosed
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return errQueueFull
	}
}

// Close stops accepting events and closes the queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
