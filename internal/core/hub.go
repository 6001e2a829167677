package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsechat/internal/ratelimit"
	"github.com/vovakirdan/pulsechat/internal/store"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultTypingTTL     = 5 * time.Second
)

// Store is the part of persistence the hub needs: existence and expiry checks plus
// appending messages.
type Store interface {
	GetRoomByID(ctx context.Context, id string) (*store.Room, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// Option tweaks hub behaviour.
type Option func(*Hub)

// WithSweepInterval sets how often expired rooms are evicted.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sweepInterval = d
		}
	}
}

// WithTypingTTL sets how long a typing flag survives without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.typingTTL = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// Hub routes client commands to rooms and fans events out to participants.
// Membership lives in per-room locks; the hub lock only guards the room index.
type Hub struct {
	store   Store
	limiter ratelimit.Limiter
	log     *zerolog.Logger
	now     func() time.Time

	sweepInterval time.Duration
	typingTTL     time.Duration

	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[*Client]struct{}
}

// NewHub creates a hub. A nil limiter admits everything.
func NewHub(st Store, limiter ratelimit.Limiter, logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		store:         st,
		limiter:       limiter,
		log:           logger,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		typingTTL:     DefaultTypingTTL,
		rooms:         make(map[string]*Room),
		clients:       make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run drives the expiry sweep and typing expiry until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	sweep := time.NewTicker(h.sweepInterval)
	defer sweep.Stop()
	typing := time.NewTicker(max(h.typingTTL/2, 10*time.Millisecond))
	defer typing.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case <-sweep.C:
			now := h.now()
			if n := h.Sweep(now); n > 0 {
				h.log.Info().Int("rooms", n).Msg("expired rooms swept")
			}
			if f, ok := h.limiter.(interface{ Forget(time.Time) int }); ok {
				f.Forget(now)
			}
		case <-typing.C:
			h.ExpireTyping(h.now())
		}
	}
}

// RegisterClient tracks a live connection.
func (h *Hub) RegisterClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("client_id", c.ID).Msg("client registered")
}

// UnregisterClient removes the client from every room it joined and closes its
// event stream.
func (h *Hub) UnregisterClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	for _, roomID := range c.Rooms() {
		h.leave(c, roomID)
	}
	c.close()
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

// Serve processes the client's commands in order until the channel closes or ctx
// is done.
func (h *Hub) Serve(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			h.Handle(ctx, c, cmd)
		}
	}
}

// Handle executes a single command on behalf of c.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd *Command) {
	if cmd == nil {
		return
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		h.join(ctx, c, cmd)
	case CommandLeaveRoom:
		h.leave(c, cmd.RoomID)
	case CommandSendMessage:
		h.send(ctx, c, cmd)
	case CommandTyping:
		h.typing(c, cmd)
	case CommandStopTyping:
		h.stopTyping(c, cmd)
	case CommandReaction:
		h.react(c, cmd)
	default:
		h.sendError(c, cmd, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

// Room returns the materialized room, if any.
func (h *Hub) Room(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

// materialize returns the live room for id, creating it on first use. A room
// already past its expiry is never created, so a join racing the sweep fails.
func (h *Hub) materialize(id string, expiresAt time.Time) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !expiresAt.After(h.now()) {
		return nil, false
	}
	r, ok := h.rooms[id]
	if !ok {
		r = NewRoom(id, expiresAt)
		h.rooms[id] = r
	}
	return r, true
}

func (h *Hub) join(ctx context.Context, c *Client, cmd *Command) {
	room, err := h.store.GetRoomByID(ctx, cmd.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, cmd, coreError(ErrCodeRoomNotFound, "Room not found or expired"))
			return
		}
		h.log.Error().Err(err).Str("room_id", cmd.RoomID).Msg("join: load room")
		h.sendError(c, cmd, coreError(ErrCodeInternal, "Failed to join room"))
		return
	}
	if room.Expired(h.now()) {
		h.sendError(c, cmd, coreError(ErrCodeRoomExpired, "Room not found or expired"))
		return
	}

	user, err := h.store.GetUserByID(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, cmd, coreError(ErrCodeUserNotFound, "User not found"))
			return
		}
		h.log.Error().Err(err).Str("user_id", cmd.UserID).Msg("join: load user")
		h.sendError(c, cmd, coreError(ErrCodeInternal, "Failed to join room"))
		return
	}

	r, ok := h.materialize(room.ID, room.ExpiresAt)
	if !ok {
		h.sendError(c, cmd, coreError(ErrCodeRoomExpired, "Room not found or expired"))
		return
	}

	r.emit.Lock()
	count, ok := r.add(c, participant{userID: user.ID, username: user.Username})
	if ok {
		fanout(r.snapshot(), &Event{
			Kind:        EventUserJoined,
			RoomID:      r.ID,
			Username:    user.Username,
			MemberCount: count,
		})
	}
	r.emit.Unlock()

	if !ok {
		h.sendError(c, cmd, coreError(ErrCodeRoomExpired, "Room not found or expired"))
		return
	}
	c.addRoom(r.ID)
	h.log.Info().Str("room_id", r.ID).Str("user_id", user.ID).Str("client_id", c.ID).Msg("user joined room")
}

// leave never fails: leaving a room the client is not in is a no-op.
func (h *Hub) leave(c *Client, roomID string) {
	c.removeRoom(roomID)
	r, ok := h.Room(roomID)
	if !ok {
		return
	}

	r.emit.Lock()
	p, removed := r.remove(c)
	if removed {
		fanout(r.snapshot(), &Event{Kind: EventUserLeft, RoomID: roomID, Username: p.username})
	}
	r.emit.Unlock()

	if removed {
		if r.clearTyping(p.username) {
			r.Broadcast(&Event{Kind: EventStopTyping, RoomID: roomID, Username: p.username})
		}
		h.log.Info().Str("room_id", roomID).Str("user_id", p.userID).Str("client_id", c.ID).Msg("user left room")
	}
}

func (h *Hub) send(ctx context.Context, c *Client, cmd *Command) {
	now := h.now()
	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, cmd.UserID, now)
		if err != nil {
			// Admission backend unavailable: keep the room usable.
			h.log.Warn().Err(err).Str("user_id", cmd.UserID).Msg("rate limiter failed, admitting")
		} else if !allowed {
			h.sendError(c, cmd, coreError(ErrCodeRateLimited, "You are sending messages too fast"))
			return
		}
	}

	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		h.sendError(c, cmd, coreError(ErrCodeBadRequest, "Message content is required"))
		return
	}

	room, err := h.store.GetRoomByID(ctx, cmd.RoomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Str("room_id", cmd.RoomID).Msg("send: load room")
		h.sendError(c, cmd, coreError(ErrCodeInternal, "Failed to send message"))
		return
	}
	if room == nil || room.Expired(now) {
		c.deliver(&Event{Kind: EventRoomExpired, RoomID: cmd.RoomID})
		return
	}

	user, err := h.store.GetUserByID(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, cmd, coreError(ErrCodeUserNotFound, "User not found"))
			return
		}
		h.log.Error().Err(err).Str("user_id", cmd.UserID).Msg("send: load user")
		h.sendError(c, cmd, coreError(ErrCodeInternal, "Failed to send message"))
		return
	}

	msg := &store.Message{
		RoomID:    room.ID,
		SenderID:  user.ID,
		Content:   content,
		ExpiresAt: room.ExpiresAt,
		CreatedAt: now,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("send: save message")
		h.sendError(c, cmd, coreError(ErrCodeInternal, "Failed to send message"))
		return
	}

	r, ok := h.Room(room.ID)
	if !ok {
		return
	}
	r.Broadcast(&Event{
		Kind:   EventNewMessage,
		RoomID: room.ID,
		Message: Message{
			ID:        msg.ID,
			RoomID:    room.ID,
			SenderID:  user.ID,
			Sender:    user.Username,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		},
	})
	if r.clearTyping(user.Username) {
		r.Broadcast(&Event{Kind: EventStopTyping, RoomID: room.ID, Username: user.Username})
	}
}

// joinedRoom returns the room only if c is one of its participants.
func (h *Hub) joinedRoom(c *Client, cmd *Command) (*Room, bool) {
	r, ok := h.Room(cmd.RoomID)
	if !ok || !r.has(c) {
		h.sendError(c, cmd, coreError(ErrCodeNotInRoom, "Join the room first"))
		return nil, false
	}
	return r, true
}

func (h *Hub) typing(c *Client, cmd *Command) {
	r, ok := h.joinedRoom(c, cmd)
	if !ok {
		return
	}
	r.markTyping(cmd.Username, h.now())
	r.Broadcast(&Event{Kind: EventTyping, RoomID: r.ID, Username: cmd.Username})
}

func (h *Hub) stopTyping(c *Client, cmd *Command) {
	r, ok := h.joinedRoom(c, cmd)
	if !ok {
		return
	}
	r.clearTyping(cmd.Username)
	r.Broadcast(&Event{Kind: EventStopTyping, RoomID: r.ID, Username: cmd.Username})
}

func (h *Hub) react(c *Client, cmd *Command) {
	r, ok := h.joinedRoom(c, cmd)
	if !ok {
		return
	}
	r.Broadcast(&Event{
		Kind:   EventReactionAdded,
		RoomID: r.ID,
		Reaction: Reaction{
			MessageID: cmd.MessageID,
			Emoji:     cmd.Emoji,
			UserID:    cmd.UserID,
		},
	})
}

// Sweep evicts every room whose expiry is at or before now, announcing roomExpired
// to its participants. It returns the number of rooms evicted.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	var expired []*Room
	for id, r := range h.rooms {
		if r.Expired(now) {
			expired = append(expired, r)
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	for _, r := range expired {
		clients := r.evict()

		r.emit.Lock()
		fanout(clients, &Event{Kind: EventRoomExpired, RoomID: r.ID})
		r.emit.Unlock()

		for _, c := range clients {
			c.removeRoom(r.ID)
		}
		h.log.Info().Str("room_id", r.ID).Int("participants", len(clients)).Msg("room expired")
	}
	return len(expired)
}

// ExpireTyping clears typing flags idle for longer than the TTL and tells the room.
func (h *Hub) ExpireTyping(now time.Time) {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		for _, name := range r.staleTyping(now, h.typingTTL) {
			r.Broadcast(&Event{Kind: EventStopTyping, RoomID: r.ID, Username: name})
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// sendError tells c alone that cmd was rejected.
func (h *Hub) sendError(c *Client, cmd *Command, err *CoreError) {
	err.Event = cmd.Kind.String()
	c.deliver(&Event{Kind: EventError, RoomID: cmd.RoomID, Error: err})
}
