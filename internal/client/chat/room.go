package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsechat/internal/client/conn"
	"github.com/vovakirdan/pulsechat/internal/client/presence"
	"github.com/vovakirdan/pulsechat/internal/client/session"
	"github.com/vovakirdan/pulsechat/internal/proto"
)

// DefaultJoinTimeout bounds how long joins and sends wait for a connection.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrEmptyMessage is returned for blank sends.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrRoomExpired is returned once the server announced the room's expiry.
	ErrRoomExpired = errors.New("room expired")
	// ErrMessageTooLong is returned for sends the server would reject for length.
	ErrMessageTooLong = errors.New("message is too long")
)

// Options configure a Room.
type Options struct {
	JoinTimeout time.Duration
	TypingTTL   time.Duration
	TypingIdle  time.Duration
	Logger      *zerolog.Logger
}

// Room is the client's view of one joined room. It registers its listeners on the
// connection when joining and removes them on Leave.
type Room struct {
	mgr      *conn.Manager
	roomID   string
	userID   string
	username string
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time

	timeline *session.Timeline
	typing   *presence.TypingSet
	typist   *presence.Typist
	changes  chan struct{}

	mu      sync.Mutex
	offs    []func()
	joined  bool
	online  bool // a connection was up since the room subscribed
	expired bool
	lastErr *proto.Error
}

// NewRoom creates a room view for the given identity.
func NewRoom(mgr *conn.Manager, roomID, userID, username string, opts Options) *Room {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	r := &Room{
		mgr:      mgr,
		roomID:   roomID,
		userID:   userID,
		username: username,
		opts:     opts,
		log:      logger,
		now:      time.Now,
		timeline: session.NewTimeline(roomID, userID, username),
		typing:   presence.NewTypingSet(username, opts.TypingTTL),
		changes:  make(chan struct{}, 1),
	}
	r.typist = presence.NewTypist(r.signalTyping, opts.TypingIdle, 0)
	return r
}

// Timeline exposes the reconciled message sequence.
func (r *Room) Timeline() *session.Timeline { return r.timeline }

// Typing exposes who else is typing.
func (r *Room) Typing() *presence.TypingSet { return r.typing }

// Changes signals (coalesced) whenever the view changed.
func (r *Room) Changes() <-chan struct{} { return r.changes }

// Expired reports whether the server announced the room's expiry.
func (r *Room) Expired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// LastError returns the most recent error signal from the server.
func (r *Room) LastError() *proto.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Room) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Join loads history, subscribes to room events and asks the server to join.
// The join is repeated automatically after a reconnect.
func (r *Room) Join(ctx context.Context, history []proto.NewMessage) error {
	r.timeline.LoadHistory(history)

	r.mu.Lock()
	if !r.joined {
		r.joined = true
		r.offs = append(r.offs,
			r.mgr.On(proto.EventNewMessage, r.onNewMessage),
			r.mgr.On(proto.EventUserJoined, r.onUserJoined),
			r.mgr.On(proto.EventUserLeft, r.onUserLeft),
			r.mgr.On(proto.EventTyping, r.onTyping),
			r.mgr.On(proto.EventStopTyping, r.onStopTyping),
			r.mgr.On(proto.EventReactionAdded, r.onReaction),
			r.mgr.On(proto.EventRoomExpired, r.onRoomExpired),
			r.mgr.On(proto.EventError, r.onError),
			r.mgr.OnStateChange(r.onState),
		)
		if r.mgr.State() == conn.Connected {
			r.online = true
		}
	}
	r.mu.Unlock()
	r.notify()

	return r.emit(ctx, proto.EventJoinRoom, proto.JoinRoomData{RoomID: r.roomID, UserID: r.userID})
}

// Send appends an optimistic entry and sends it. On failure the entry is marked
// failed and stays visible.
func (r *Room) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > proto.MaxContentLength {
		return "", ErrMessageTooLong
	}
	if r.Expired() {
		return "", ErrRoomExpired
	}

	localID := r.timeline.AddPending(text, r.now())
	r.typist.Sent()
	r.notify()

	err := r.emit(ctx, proto.EventSendMessage, proto.SendMessageData{RoomID: r.roomID, UserID: r.userID, Content: text})
	if err != nil {
		r.timeline.MarkFailed(localID)
		r.notify()
		return localID, err
	}
	return localID, nil
}

// React sends an emoji reaction; the tally updates when the server relays it.
func (r *Room) React(ctx context.Context, messageID, emoji string) error {
	return r.emit(ctx, proto.EventReactionAdded, proto.ReactionData{
		RoomID:    r.roomID,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    r.userID,
	})
}

// Keystroke reports local typing activity.
func (r *Room) Keystroke() {
	r.typist.Keystroke()
}

// Tick expires stale typing flags.
func (r *Room) Tick(now time.Time) {
	if len(r.typing.Expire(now)) > 0 {
		r.notify()
	}
}

// Leave tells the server and unregisters every listener of this room.
func (r *Room) Leave(ctx context.Context) {
	r.typist.Stop()
	if err := r.mgr.Emit(ctx, proto.EventLeaveRoom, proto.LeaveRoomData{RoomID: r.roomID, UserID: r.userID}); err != nil {
		r.log.Debug().Err(err).Str("room_id", r.roomID).Msg("leave not delivered")
	}

	r.mu.Lock()
	offs := r.offs
	r.offs = nil
	r.joined = false
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
	r.typing.Clear()
}

// emit waits a bounded time for the connection before sending.
func (r *Room) emit(ctx context.Context, eventType string, payload any) error {
	wctx, cancel := context.WithTimeout(ctx, r.opts.JoinTimeout)
	defer cancel()

	if !r.mgr.EnsureConnected(wctx) {
		return fmt.Errorf("%s: %w", eventType, conn.ErrNotConnected)
	}
	return r.mgr.Emit(wctx, eventType, payload)
}

func (r *Room) signalTyping(typing bool) {
	eventType := proto.EventStopTyping
	if typing {
		eventType = proto.EventTyping
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.mgr.Emit(ctx, eventType, proto.TypingData{RoomID: r.roomID, Username: r.username}); err != nil {
		r.log.Debug().Err(err).Str("event", eventType).Msg("typing signal dropped")
	}
}

func (r *Room) onState(s conn.State) {
	if s != conn.Connected {
		return
	}
	// The first connection carries Join's own joinRoom; only later ones re-join.
	r.mu.Lock()
	rejoin := r.online && r.joined && !r.expired
	r.online = true
	r.mu.Unlock()
	if !rejoin {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.JoinTimeout)
		defer cancel()
		if err := r.mgr.Emit(ctx, proto.EventJoinRoom, proto.JoinRoomData{RoomID: r.roomID, UserID: r.userID}); err != nil {
			r.log.Warn().Err(err).Str("room_id", r.roomID).Msg("rejoin failed")
		}
	}()
}

func decode[T any](r *Room, eventType string, data json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		r.log.Warn().Err(err).Str("event", eventType).Msg("bad server payload")
		return v, false
	}
	return v, true
}

func (r *Room) onNewMessage(data json.RawMessage) {
	m, ok := decode[proto.NewMessage](r, proto.EventNewMessage, data)
	if !ok {
		return
	}
	changed := r.timeline.Apply(m)
	if r.typing.Stop(m.Sender.Username) || changed {
		r.notify()
	}
}

func (r *Room) onUserJoined(data json.RawMessage) {
	ev, ok := decode[proto.UserJoined](r, proto.EventUserJoined, data)
	if !ok {
		return
	}
	r.timeline.AppendSystem(fmt.Sprintf("%s joined (%d here)", ev.Username, ev.MemberCount), r.now())
	r.notify()
}

func (r *Room) onUserLeft(data json.RawMessage) {
	ev, ok := decode[proto.UserLeft](r, proto.EventUserLeft, data)
	if !ok {
		return
	}
	r.typing.Stop(ev.Username)
	r.timeline.AppendSystem(ev.Username+" left", r.now())
	r.notify()
}

func (r *Room) onTyping(data json.RawMessage) {
	ev, ok := decode[proto.TypingSignal](r, proto.EventTyping, data)
	if ok && r.typing.Start(ev.Username, r.now()) {
		r.notify()
	}
}

func (r *Room) onStopTyping(data json.RawMessage) {
	ev, ok := decode[proto.TypingSignal](r, proto.EventStopTyping, data)
	if ok && r.typing.Stop(ev.Username) {
		r.notify()
	}
}

func (r *Room) onReaction(data json.RawMessage) {
	ev, ok := decode[proto.ReactionAdded](r, proto.EventReactionAdded, data)
	if ok && r.timeline.React(ev.MessageID, ev.Emoji, ev.UserID) {
		r.notify()
	}
}

func (r *Room) onRoomExpired(data json.RawMessage) {
	ev, ok := decode[proto.RoomExpired](r, proto.EventRoomExpired, data)
	if !ok || (ev.RoomID != "" && ev.RoomID != r.roomID) {
		return
	}
	r.timeline.FailPending()
	r.mu.Lock()
	r.expired = true
	r.mu.Unlock()
	r.typist.Stop()
	r.typing.Clear()
	r.notify()
}

func (r *Room) onError(data json.RawMessage) {
	ev, ok := decode[proto.Error](r, proto.EventError, data)
	if !ok {
		return
	}
	r.mu.Lock()
	r.lastErr = &ev
	r.mu.Unlock()

	// A rejected send is never echoed; sends are answered in order.
	if ev.Event == proto.EventSendMessage || (ev.Event == "" && ev.Code == proto.CodeRateLimited) {
		r.timeline.FailOldestPending()
	}
	r.notify()
}
