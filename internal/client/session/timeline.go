package session

import (
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/pulsechat/internal/client/presence"
	"github.com/vovakirdan/pulsechat/internal/proto"
	"github.com/vovakirdan/pulsechat/internal/utils"
)

// State is the delivery state of a message entry.
type State int

const (
	Pending State = iota
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Kind separates chat messages from join/leave annotations.
type Kind int

const (
	KindMessage Kind = iota
	KindSystem
)

// Entry is one line of a room view.
type Entry struct {
	Kind      Kind
	LocalID   string // set for optimistic sends
	ServerID  string // set once confirmed
	RoomID    string
	SenderID  string
	Sender    string
	Text      string
	State     State
	CreatedAt time.Time
	Reactions presence.Tally
}

// Timeline is the ordered, duplicate-free sequence of a room view: history,
// optimistic sends and server broadcasts merged.
type Timeline struct {
	roomID string
	selfID string
	self   string

	mu      sync.Mutex
	entries []*Entry
	seen    map[string]*Entry
}

// NewTimeline creates an empty timeline for the local user.
func NewTimeline(roomID, selfID, selfName string) *Timeline {
	return &Timeline{
		roomID: roomID,
		selfID: selfID,
		self:   selfName,
		seen:   make(map[string]*Entry),
	}
}

func confirmedEntry(roomID string, m proto.NewMessage) *Entry {
	return &Entry{
		Kind:      KindMessage,
		ServerID:  m.MessageID,
		RoomID:    roomID,
		SenderID:  m.Sender.ID,
		Sender:    m.Sender.Username,
		Text:      m.Content,
		State:     Confirmed,
		CreatedAt: m.CreatedAt,
	}
}

// LoadHistory replaces confirmed messages with history, keeping local pending and
// failed entries after it. Reactions already tallied on kept messages survive.
func (t *Timeline) LoadHistory(history []proto.NewMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]*Entry, 0, len(history)+len(t.entries))
	seen := make(map[string]*Entry, len(history))
	for _, m := range history {
		if _, dup := seen[m.MessageID]; dup {
			continue
		}
		e := confirmedEntry(t.roomID, m)
		if prev, ok := t.seen[m.MessageID]; ok {
			e.Reactions = prev.Reactions.Clone()
		}
		seen[m.MessageID] = e
		entries = append(entries, e)
	}
	for _, e := range t.entries {
		if e.Kind == KindMessage && e.State != Confirmed {
			entries = append(entries, e)
		}
	}
	t.entries = entries
	t.seen = seen
}

// AddPending appends an optimistic entry for a local send and returns its local id.
func (t *Timeline) AddPending(text string, now time.Time) string {
	e := &Entry{
		Kind:      KindMessage,
		LocalID:   utils.NewID(),
		RoomID:    t.roomID,
		SenderID:  t.selfID,
		Sender:    t.self,
		Text:      strings.TrimSpace(text),
		State:     Pending,
		CreatedAt: now,
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e.LocalID
}

// MarkFailed turns a pending entry into a failed one. Failed entries stay visible
// and are never retried.
func (t *Timeline) MarkFailed(localID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.LocalID == localID && e.State == Pending {
			e.State = Failed
			return true
		}
	}
	return false
}

// FailOldestPending fails the earliest pending own entry, used when the server
// rejects a send without naming it. It returns the local id, if any.
func (t *Timeline) FailOldestPending() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.State == Pending {
			e.State = Failed
			return e.LocalID, true
		}
	}
	return "", false
}

// FailPending fails every pending entry and returns how many changed. Used once
// the room is gone and no echo can arrive.
func (t *Timeline) FailPending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.State == Pending {
			e.State = Failed
			n++
		}
	}
	return n
}

// Apply merges a server-confirmed message. It reports false for a duplicate.
// An echo of our own send takes the place of the matching pending entry; when no
// pending text matches, every own pending entry is dropped instead.
func (t *Timeline) Apply(m proto.NewMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[m.MessageID]; dup {
		return false
	}
	confirmed := confirmedEntry(t.roomID, m)
	t.seen[m.MessageID] = confirmed

	if m.Sender.ID != t.selfID || t.selfID == "" {
		t.entries = append(t.entries, confirmed)
		return true
	}

	for i, e := range t.entries {
		if e.State == Pending && e.Text == strings.TrimSpace(m.Content) {
			confirmed.LocalID = e.LocalID
			t.entries[i] = confirmed
			return true
		}
	}

	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.State != Pending {
			kept = append(kept, e)
		}
	}
	t.entries = append(kept, confirmed)
	return true
}

// AppendSystem adds a join/leave annotation at the tail.
func (t *Timeline) AppendSystem(text string, now time.Time) {
	t.mu.Lock()
	t.entries = append(t.entries, &Entry{Kind: KindSystem, RoomID: t.roomID, Text: text, CreatedAt: now})
	t.mu.Unlock()
}

// React records a reaction on a confirmed message. It reports false for unknown
// messages and repeated reactions.
func (t *Timeline) React(messageID, emoji, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.seen[messageID]
	if !ok {
		return false
	}
	return e.Reactions.Add(emoji, userID)
}

// Entries returns a copy of the timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
		out[i].Reactions = e.Reactions.Clone()
	}
	return out
}

// MessageCount counts chat messages, excluding system annotations.
func (t *Timeline) MessageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.Kind == KindMessage {
			n++
		}
	}
	return n
}
