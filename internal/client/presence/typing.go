package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL drops a typing flag that was never cleared.
const DefaultTypingTTL = 5 * time.Second

// TypingSet tracks who is typing in a room, excluding the local user.
type TypingSet struct {
	self string
	ttl  time.Duration

	mu    sync.Mutex
	users map[string]time.Time
}

// NewTypingSet creates a set that ignores signals about self.
func NewTypingSet(self string, ttl time.Duration) *TypingSet {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingSet{self: self, ttl: ttl, users: make(map[string]time.Time)}
}

// SetSelf updates the local username, e.g. after a rename.
func (s *TypingSet) SetSelf(name string) {
	s.mu.Lock()
	s.self = name
	delete(s.users, name)
	s.mu.Unlock()
}

// Start flags username as typing at now. It reports whether the set changed.
func (s *TypingSet) Start(username string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == "" || username == s.self {
		return false
	}
	_, existed := s.users[username]
	s.users[username] = now
	return !existed
}

// Stop clears username. It reports whether the set changed.
func (s *TypingSet) Stop(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return false
	}
	delete(s.users, username)
	return true
}

// Expire drops entries older than the TTL and returns their names.
func (s *TypingSet) Expire(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for name, seen := range s.users {
		if now.Sub(seen) >= s.ttl {
			delete(s.users, name)
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns the sorted usernames currently typing.
func (s *TypingSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clear empties the set.
func (s *TypingSet) Clear() {
	s.mu.Lock()
	s.users = make(map[string]time.Time)
	s.mu.Unlock()
}
