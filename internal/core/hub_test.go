package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/pulsechat/internal/ratelimit"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	hub   *Hub
	store *fakeStore
	clock *testClock
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	st := newFakeStore()
	st.addUser("u-alice", "alice")
	st.addUser("u-bob", "bob")
	st.addUser("u-carol", "carol")
	st.addRoom("general", t0.Add(2*time.Hour))

	clock := newTestClock(t0)
	hub := NewHub(st, limiter, nil, WithClock(clock.Now), WithTypingTTL(time.Second))
	return &fixture{ctx: ctx, hub: hub, store: st, clock: clock}
}

func (f *fixture) join(t *testing.T, c *Client, userID, roomID string) *Event {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinRoom, RoomID: roomID, UserID: userID}
	return mustEvent(t, c.Events, EventUserJoined)
}

func TestHubJoinBroadcastsToWholeRoom(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")

	ev := f.join(t, alice, "u-alice", "general")
	if ev.Username != "alice" || ev.MemberCount != 1 || ev.RoomID != "general" {
		t.Fatalf("unexpected join event: %+v", ev)
	}

	ev = f.join(t, bob, "u-bob", "general")
	if ev.Username != "bob" || ev.MemberCount != 2 {
		t.Fatalf("unexpected join event for joiner: %+v", ev)
	}
	ev = mustEvent(t, alice.Events, EventUserJoined)
	if ev.Username != "bob" || ev.MemberCount != 2 {
		t.Fatalf("unexpected join event for existing member: %+v", ev)
	}
	if !bob.InRoom("general") {
		t.Fatalf("expected bob to track general")
	}
}

func TestHubMemberCountCountsDistinctUsers(t *testing.T) {
	f := newFixture(t, nil)
	tab1 := connect(f.ctx, f.hub, "tab-1")
	tab2 := connect(f.ctx, f.hub, "tab-2")

	f.join(t, tab1, "u-alice", "general")
	ev := f.join(t, tab2, "u-alice", "general")
	if ev.MemberCount != 1 {
		t.Fatalf("expected one distinct member across two tabs, got %d", ev.MemberCount)
	}
}

func TestHubJoinFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.store.addRoom("old", t0.Add(-time.Minute))
	alice := connect(f.ctx, f.hub, "c-alice")

	cases := []struct {
		room, user, code string
	}{
		{room: "ghost", user: "u-alice", code: ErrCodeRoomNotFound},
		{room: "old", user: "u-alice", code: ErrCodeRoomExpired},
		{room: "general", user: "u-nobody", code: ErrCodeUserNotFound},
	}
	for _, tc := range cases {
		alice.Commands <- &Command{Kind: CommandJoinRoom, RoomID: tc.room, UserID: tc.user}
		ev := mustEvent(t, alice.Events, EventError)
		if ev.Error == nil || ev.Error.Code != tc.code {
			t.Fatalf("join %s as %s: expected %s, got %+v", tc.room, tc.user, tc.code, ev)
		}
	}

	if _, ok := f.hub.Room("old"); ok {
		t.Fatalf("expired room must not be materialized")
	}
	if r, ok := f.hub.Room("general"); ok && !r.Empty() {
		t.Fatalf("failed join must not change membership")
	}
	if len(alice.Rooms()) != 0 {
		t.Fatalf("expected no joined rooms, got %v", alice.Rooms())
	}
}

func TestHubJoinRacingExpiryIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.store.addRoom("brief", t0.Add(time.Minute))
	alice := connect(f.ctx, f.hub, "c-alice")

	// The room expires and is swept between the room check and the membership change.
	f.store.userLookup = func() {
		f.clock.Advance(2 * time.Minute)
		f.hub.Sweep(f.clock.Now())
	}

	alice.Commands <- &Command{Kind: CommandJoinRoom, RoomID: "brief", UserID: "u-alice"}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeRoomExpired || ev.Error.Event != "joinRoom" {
		t.Fatalf("expected room_expired for joinRoom, got %+v", ev.Error)
	}
	if _, ok := f.hub.Room("brief"); ok {
		t.Fatalf("expired room must not be materialized")
	}
	if alice.InRoom("brief") {
		t.Fatalf("alice must not be a participant of an expired room")
	}
}

func TestHubSendDeliversOnceToEveryParticipant(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	carol := connect(f.ctx, f.hub, "c-carol")

	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")
	f.join(t, carol, "u-carol", "general")

	alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "  hi  "}

	for _, c := range []*Client{alice, bob, carol} {
		events := collect(c.Events, 200*time.Millisecond)
		if n := countKind(events, EventNewMessage); n != 1 {
			t.Fatalf("client %s: expected exactly one newMessage, got %d", c.ID, n)
		}
		for _, ev := range events {
			if ev.Kind != EventNewMessage {
				continue
			}
			m := ev.Message
			if m.Content != "hi" || m.Sender != "alice" || m.SenderID != "u-alice" || m.ID == "" {
				t.Fatalf("unexpected message: %+v", m)
			}
			if !m.CreatedAt.Equal(t0) {
				t.Fatalf("expected createdAt %v, got %v", t0, m.CreatedAt)
			}
		}
	}
	if n := f.store.savedCount(); n != 1 {
		t.Fatalf("expected one persisted message, got %d", n)
	}
}

func TestHubSendDoesNotRequireMembership(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, bob, "u-bob", "general")

	alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "from outside"}

	ev := mustEvent(t, bob.Events, EventNewMessage)
	if ev.Message.Content != "from outside" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}
	expectNoEvent(t, alice.Events, EventNewMessage, 100*time.Millisecond)
}

func TestHubSendRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemory(2, 10*time.Second))
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")
	mustEvent(t, alice.Events, EventUserJoined)

	for i := 0; i < 3; i++ {
		alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "spam"}
	}

	aliceEvents := collect(alice.Events, 300*time.Millisecond)
	if n := countKind(aliceEvents, EventNewMessage); n != 2 {
		t.Fatalf("expected 2 admitted messages, got %d", n)
	}
	if n := countKind(aliceEvents, EventError); n != 1 {
		t.Fatalf("expected 1 rejection, got %d", n)
	}
	for _, ev := range aliceEvents {
		if ev.Kind == EventError && ev.Error.Code != ErrCodeRateLimited {
			t.Fatalf("expected rate_limited, got %+v", ev.Error)
		}
	}

	bobEvents := collect(bob.Events, 100*time.Millisecond)
	if countKind(bobEvents, EventError) != 0 {
		t.Fatalf("rejection must only reach the sender")
	}
	if n := countKind(bobEvents, EventNewMessage); n != 2 {
		t.Fatalf("expected bob to see 2 messages, got %d", n)
	}
	if n := f.store.savedCount(); n != 2 {
		t.Fatalf("rejected message must be dropped, saved %d", n)
	}

	// Another sender has its own window.
	bob.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-bob", Content: "ok"}
	mustEvent(t, bob.Events, EventNewMessage)
}

func TestHubSendToExpiredRoomNotifiesSenderOnly(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	f.clock.Advance(3 * time.Hour)
	alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "late"}

	ev := mustEvent(t, alice.Events, EventRoomExpired)
	if ev.RoomID != "general" {
		t.Fatalf("unexpected roomExpired: %+v", ev)
	}
	expectNoEvent(t, bob.Events, EventRoomExpired, 100*time.Millisecond)
	if n := f.store.savedCount(); n != 0 {
		t.Fatalf("expected nothing persisted, got %d", n)
	}
}

func TestHubLeaveBroadcastsToRemaining(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	alice.Commands <- &Command{Kind: CommandLeaveRoom, RoomID: "general", UserID: "u-alice"}
	ev := mustEvent(t, bob.Events, EventUserLeft)
	if ev.Username != "alice" || ev.RoomID != "general" {
		t.Fatalf("unexpected leave event: %+v", ev)
	}
	expectNoEvent(t, alice.Events, EventUserLeft, 100*time.Millisecond)

	r, ok := f.hub.Room("general")
	if !ok {
		t.Fatalf("room must survive members leaving")
	}
	if r.MemberCount() != 1 {
		t.Fatalf("expected 1 member, got %d", r.MemberCount())
	}

	// Leaving again, or leaving an unknown room, is silent.
	alice.Commands <- &Command{Kind: CommandLeaveRoom, RoomID: "general"}
	alice.Commands <- &Command{Kind: CommandLeaveRoom, RoomID: "ghost"}
	expectNoEvent(t, alice.Events, EventError, 100*time.Millisecond)
}

func TestHubSweepAnnouncesOnce(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	if n := f.hub.Sweep(t0.Add(time.Hour)); n != 0 {
		t.Fatalf("nothing should expire yet, swept %d", n)
	}

	expiry := t0.Add(2 * time.Hour)
	if n := f.hub.Sweep(expiry); n != 1 {
		t.Fatalf("expected 1 room swept at expiry, got %d", n)
	}
	for _, c := range []*Client{alice, bob} {
		events := collect(c.Events, 100*time.Millisecond)
		if n := countKind(events, EventRoomExpired); n != 1 {
			t.Fatalf("client %s: expected one roomExpired, got %d", c.ID, n)
		}
		if len(c.Rooms()) != 0 || !c.Alive() {
			t.Fatalf("client %s should stay connected with no rooms", c.ID)
		}
	}

	if n := f.hub.Sweep(expiry.Add(time.Minute)); n != 0 {
		t.Fatalf("expired room swept twice")
	}
	expectNoEvent(t, alice.Events, EventRoomExpired, 50*time.Millisecond)

	f.clock.Advance(2 * time.Hour)
	alice.Commands <- &Command{Kind: CommandJoinRoom, RoomID: "general", UserID: "u-alice"}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeRoomExpired {
		t.Fatalf("expected room_expired, got %+v", ev.Error)
	}
}

func TestHubTypingRelayAndExpiry(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	alice.Commands <- &Command{Kind: CommandTyping, RoomID: "general", Username: "alice"}
	ev := mustEvent(t, bob.Events, EventTyping)
	if ev.Username != "alice" {
		t.Fatalf("unexpected typing event: %+v", ev)
	}

	f.hub.ExpireTyping(t0.Add(500 * time.Millisecond))
	expectNoEvent(t, bob.Events, EventStopTyping, 50*time.Millisecond)

	f.hub.ExpireTyping(t0.Add(time.Second))
	ev = mustEvent(t, bob.Events, EventStopTyping)
	if ev.Username != "alice" {
		t.Fatalf("unexpected stopTyping event: %+v", ev)
	}

	f.hub.ExpireTyping(t0.Add(time.Minute))
	expectNoEvent(t, bob.Events, EventStopTyping, 50*time.Millisecond)
}

func TestHubSendClearsTyping(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	alice.Commands <- &Command{Kind: CommandTyping, RoomID: "general", Username: "alice"}
	mustEvent(t, bob.Events, EventTyping)

	alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "done"}
	mustEvent(t, bob.Events, EventNewMessage)
	ev := mustEvent(t, bob.Events, EventStopTyping)
	if ev.Username != "alice" {
		t.Fatalf("unexpected stopTyping event: %+v", ev)
	}
}

func TestHubSignalsRequireMembership(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")

	commands := []*Command{
		{Kind: CommandTyping, RoomID: "general", Username: "alice"},
		{Kind: CommandStopTyping, RoomID: "general", Username: "alice"},
		{Kind: CommandReaction, RoomID: "general", MessageID: "m1", Emoji: "👍", UserID: "u-alice"},
	}
	for _, cmd := range commands {
		alice.Commands <- cmd
		ev := mustEvent(t, alice.Events, EventError)
		if ev.Error == nil || ev.Error.Code != ErrCodeNotInRoom {
			t.Fatalf("%v: expected not_in_room, got %+v", cmd.Kind, ev)
		}
	}
}

func TestHubChatScenario(t *testing.T) {
	f := newFixture(t, nil)
	a := connect(f.ctx, f.hub, "c-a")
	b := connect(f.ctx, f.hub, "c-b")
	f.join(t, a, "u-alice", "general")
	f.join(t, b, "u-bob", "general")

	a.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "hi"}
	msgA := mustEvent(t, a.Events, EventNewMessage)
	msgB := mustEvent(t, b.Events, EventNewMessage)
	if msgA.Message.ID != msgB.Message.ID || msgB.Message.Content != "hi" {
		t.Fatalf("participants disagree on message: %+v vs %+v", msgA.Message, msgB.Message)
	}

	b.Commands <- &Command{Kind: CommandReaction, RoomID: "general", MessageID: msgB.Message.ID, Emoji: "👍", UserID: "u-bob"}
	ev := mustEvent(t, a.Events, EventReactionAdded)
	want := Reaction{MessageID: msgA.Message.ID, Emoji: "👍", UserID: "u-bob"}
	if ev.Reaction != want {
		t.Fatalf("unexpected reaction: %+v", ev.Reaction)
	}
}

func TestHubBroadcastOrderIsShared(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")
	mustEvent(t, alice.Events, EventUserJoined)

	// Two senders racing: every participant must see the same sequence.
	for i := 0; i < 5; i++ {
		alice.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-alice", Content: "a"}
		bob.Commands <- &Command{Kind: CommandSendMessage, RoomID: "general", UserID: "u-bob", Content: "b"}
	}

	ids := func(events []*Event) []string {
		var out []string
		for _, ev := range events {
			if ev.Kind == EventNewMessage {
				out = append(out, ev.Message.ID)
			}
		}
		return out
	}
	got := ids(collect(alice.Events, 300*time.Millisecond))
	other := ids(collect(bob.Events, 100*time.Millisecond))
	if len(got) != 10 || len(other) != 10 {
		t.Fatalf("expected 10 messages each, got %d and %d", len(got), len(other))
	}
	for i := range got {
		if got[i] != other[i] {
			t.Fatalf("order diverged at %d: %v vs %v", i, got, other)
		}
	}
}

func TestHubUnregisterLeavesRooms(t *testing.T) {
	f := newFixture(t, nil)
	alice := connect(f.ctx, f.hub, "c-alice")
	bob := connect(f.ctx, f.hub, "c-bob")
	f.join(t, alice, "u-alice", "general")
	f.join(t, bob, "u-bob", "general")

	f.hub.UnregisterClient(alice)
	ev := mustEvent(t, bob.Events, EventUserLeft)
	if ev.Username != "alice" {
		t.Fatalf("unexpected leave event: %+v", ev)
	}
	if alice.Alive() {
		t.Fatalf("unregistered client must be closed")
	}
	// Second unregister is a no-op.
	f.hub.UnregisterClient(alice)
}

func TestHubRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(newFakeStore(), nil, nil, WithSweepInterval(10*time.Millisecond))
	c := NewClient("c")
	hub.RegisterClient(c)

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if c.Alive() {
		t.Fatalf("clients should be closed on shutdown")
	}
}

func TestHubRunSweepsOnTicker(t *testing.T) {
	f := newFixture(t, nil)
	hub := NewHub(f.store, nil, nil, WithSweepInterval(20*time.Millisecond), WithClock(f.clock.Now))
	alice := connect(f.ctx, hub, "c-alice")
	f.join(t, alice, "u-alice", "general")

	f.clock.Advance(2 * time.Hour)
	go hub.Run(f.ctx)

	mustEvent(t, alice.Events, EventRoomExpired)
}
