package core

import "sync"

// Client is one live connection as seen by the core layer. The transport owns it;
// rooms hold it by reference only.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		rooms:    make(map[string]struct{}),
	}
}

// Alive reports whether the client still accepts events.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Rooms returns the ids of rooms the client has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// InRoom reports whether the client joined roomID.
func (c *Client) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// deliver enqueues an event without blocking. Slow consumers lose events rather
// than stalling a room.
func (c *Client) deliver(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Reject queues an error event for this client alone.
func (c *Client) Reject(err *CoreError) bool {
	return c.deliver(&Event{Kind: EventError, Error: err})
}

// close marks the client dead and closes its event stream. Safe to call twice.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.rooms = make(map[string]struct{})
	close(c.Events)
}
