package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/pulsechat/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]*store.Room
	users    map[string]*store.User
	messages []*store.Message
	seq      int
	// userLookup runs before each user lookup, outside the store lock.
	userLookup func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms: make(map[string]*store.Room),
		users: make(map[string]*store.User),
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &store.User{ID: id, Username: name}
}

func (f *fakeStore) addRoom(id string, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[id] = &store.Room{ID: id, Title: id, ExpiresAt: expiresAt}
}

func (f *fakeStore) GetRoomByID(_ context.Context, id string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	hook := f.userLookup
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg.ID = fmt.Sprintf("m%d", f.seq)
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// connect registers a client and serves its commands until ctx is done.
func connect(ctx context.Context, hub *Hub, id string) *Client {
	c := NewClient(id)
	hub.RegisterClient(c)
	go hub.Serve(ctx, c)
	return c
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// expectNoEvent fails if any event of kind arrives within d.
func expectNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, d time.Duration) {
	t.Helper()

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

// collect drains events for d.
func collect(ch <-chan *Event, d time.Duration) []*Event {
	var out []*Event
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timer.C:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
