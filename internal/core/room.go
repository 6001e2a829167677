package core

import (
	"sync"
	"time"
)

type participant struct {
	userID   string
	username string
}

// Room is the live broadcast group of a persisted room. It is created on the first
// join and dropped only by the expiry sweep.
type Room struct {
	ID        string
	ExpiresAt time.Time

	mu      sync.Mutex
	clients map[*Client]participant
	typing  map[string]time.Time
	expired bool

	// emit serializes fan-out so every participant observes the same order.
	emit sync.Mutex
}

// NewRoom constructs a room with no clients.
func NewRoom(id string, expiresAt time.Time) *Room {
	return &Room{
		ID:        id,
		ExpiresAt: expiresAt,
		clients:   make(map[*Client]participant),
		typing:    make(map[string]time.Time),
	}
}

// Expired reports whether the room is past its lifetime at now.
func (r *Room) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// add inserts or refreshes a participant and returns the distinct user count.
// It fails once the room has been evicted by the sweep.
func (r *Room) add(c *Client, p participant) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expired {
		return 0, false
	}
	r.clients[c] = p
	return r.memberCountLocked(), true
}

func (r *Room) remove(c *Client) (participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.clients[c]
	if ok {
		delete(r.clients, c)
	}
	return p, ok
}

func (r *Room) has(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[c]
	return ok
}

// MemberCount returns the number of distinct users in the participant set.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberCountLocked()
}

func (r *Room) memberCountLocked() int {
	users := make(map[string]struct{}, len(r.clients))
	for _, p := range r.clients {
		users[p.userID] = struct{}{}
	}
	return len(users)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0
}

func (r *Room) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// evict marks the room expired and empties it, returning the former participants.
func (r *Room) evict() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	r.expired = true
	r.clients = make(map[*Client]participant)
	r.typing = make(map[string]time.Time)
	return out
}

// Broadcast sends an event to all current participants.
func (r *Room) Broadcast(ev *Event) {
	r.emit.Lock()
	defer r.emit.Unlock()
	fanout(r.snapshot(), ev)
}

func fanout(clients []*Client, ev *Event) int {
	delivered := 0
	for _, c := range clients {
		if c.deliver(ev) {
			delivered++
		}
	}
	return delivered
}

func (r *Room) markTyping(username string, now time.Time) {
	r.mu.Lock()
	r.typing[username] = now
	r.mu.Unlock()
}

// clearTyping removes username and reports whether it was flagged.
func (r *Room) clearTyping(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.typing[username]; !ok {
		return false
	}
	delete(r.typing, username)
	return true
}

// staleTyping removes and returns usernames idle for at least ttl.
func (r *Room) staleTyping(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for name, seen := range r.typing {
		if now.Sub(seen) >= ttl {
			stale = append(stale, name)
			delete(r.typing, name)
		}
	}
	return stale
}
