package subscriptions

import (
	"sync"
	"sync/atomic"
)

// DropPolicy decides which event is discarded when a queue is full
type DropPolicy string

const (
	DropNewest DropPolicy = "drop_newest" // discard the event being published
	DropOldest DropPolicy = "drop_oldest" // discard the oldest queued event
)

// Connection is one subscriber's bounded outbound queue
type Connection struct {
	id       string
	policy   DropPolicy
	queue    chan Event
	mu       sync.Mutex // serializes enqueue against close
	closed   bool
	done     chan struct{}
	overflow atomic.Uint64
	topics   map[Topic]struct{} // guarded by the router lock
}

func newConnection(id string, size int, policy DropPolicy) *Connection {
	return &Connection{
		id:     id,
		policy: policy,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		topics: make(map[Topic]struct{}),
	}
}

// ID returns the connection id
func (c *Connection) ID() string { return c.id }

// Events is the outbound queue. It is closed when the connection is dropped.
func (c *Connection) Events() <-chan Event { return c.queue }

// Done is closed when the connection is dropped
func (c *Connection) Done() <-chan struct{} { return c.done }

// Overflow returns how many events were dropped for this connection
func (c *Connection) Overflow() uint64 { return c.overflow.Load() }

// Pending returns the number of queued events
func (c *Connection) Pending() int { return len(c.queue) }

// Capacity returns the queue bound
func (c *Connection) Capacity() int { return cap(c.queue) }

// Closed reports whether the connection has been dropped
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// enqueue never blocks. It returns delivered=false when the connection is
// closed, and dropped=true when the policy discarded an event.
func (c *Connection) enqueue(ev Event) (delivered bool, dropped *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, nil
	}

	select {
	case c.queue <- ev:
		return true, nil
	default:
	}

	if c.policy != DropOldest {
		c.overflow.Add(1)
		return false, &ev
	}

	// Make room by discarding the head. The reader may have drained it
	// concurrently, in which case the send below simply succeeds.
	var oldest *Event
	select {
	case old := <-c.queue:
		oldest = &old
	default:
	}
	select {
	case c.queue <- ev:
		if oldest != nil {
			c.overflow.Add(1)
		}
		return true, oldest
	default:
		c.overflow.Add(1)
		return false, &ev
	}
}

// close marks the connection removed; safe to call more than once
func (c *Connection) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.queue)
	close(c.done)
	return true
}
