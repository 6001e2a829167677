// Package ratelimit implements sliding-window admission for chat messages.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a sender may emit another message at now.
type Limiter interface {
	Allow(ctx context.Context, senderID string, now time.Time) (bool, error)
}

// Memory is an in-process sliding-window limiter. Each sender's window has its
// own lock; the map lock is only held for lookups.
type Memory struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	senders map[string]*senderWindow
}

type senderWindow struct {
	mu    sync.Mutex
	stamp []time.Time
}

// NewMemory builds a limiter admitting at most limit messages per window per sender.
// A non-positive limit disables limiting.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		senders: make(map[string]*senderWindow),
	}
}

// Allow records now for senderID and reports whether it was admitted.
func (m *Memory) Allow(_ context.Context, senderID string, now time.Time) (bool, error) {
	if m == nil || m.limit <= 0 {
		return true, nil
	}

	w := m.windowFor(senderID)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, m.window)
	if len(w.stamp) >= m.limit {
		return false, nil
	}
	w.stamp = append(w.stamp, now)
	return true, nil
}

func (m *Memory) windowFor(senderID string) *senderWindow {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.senders[senderID]
	if !ok {
		w = &senderWindow{}
		m.senders[senderID] = w
	}
	return w
}

// prune drops timestamps that fell out of the trailing window. Concurrent senders
// may stamp out of order, so every timestamp is checked.
func (w *senderWindow) prune(now time.Time, window time.Duration) {
	kept := w.stamp[:0]
	for _, ts := range w.stamp {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	w.stamp = kept
}

// Forget drops windows with no timestamps left inside the window at now.
// It returns the number of senders removed.
func (m *Memory) Forget(now time.Time) int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, w := range m.senders {
		w.mu.Lock()
		w.prune(now, m.window)
		empty := len(w.stamp) == 0
		w.mu.Unlock()
		if empty {
			delete(m.senders, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked senders.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.senders)
}
