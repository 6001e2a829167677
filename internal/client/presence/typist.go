package presence

import (
	"sync"
	"time"
)

const (
	// DefaultIdle is how long after the last keystroke stopTyping goes out.
	DefaultIdle = 2 * time.Second
	// DefaultRefresh re-announces typing during long bursts so remote TTLs do not lapse.
	DefaultRefresh = 3 * time.Second
)

// Signal is called with true for typing and false for stopTyping.
type Signal func(typing bool)

// Typist debounces local keystrokes into typing/stopTyping signals.
type Typist struct {
	signal  Signal
	idle    time.Duration
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	typing   bool
	lastSent time.Time
	timer    *time.Timer
	seq      uint64
}

// NewTypist creates a debouncer. Zero durations use the defaults.
func NewTypist(signal Signal, idle, refresh time.Duration) *Typist {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Typist{signal: signal, idle: idle, refresh: refresh, now: time.Now}
}

// Keystroke records input activity.
func (t *Typist) Keystroke() {
	t.mu.Lock()
	now := t.now()
	send := !t.typing || now.Sub(t.lastSent) >= t.refresh
	t.typing = true
	if send {
		t.lastSent = now
	}

	t.seq++
	seq := t.seq
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(seq) })
	t.mu.Unlock()

	if send {
		t.signal(true)
	}
}

func (t *Typist) expire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.mu.Unlock()

	t.signal(false)
}

// Sent clears the typing state immediately, as a message was just sent.
func (t *Typist) Sent() {
	if t.reset() {
		t.signal(false)
	}
}

// Stop cancels the pending timer without signalling.
func (t *Typist) Stop() {
	t.reset()
}

// Typing reports whether the local user is flagged as typing.
func (t *Typist) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

func (t *Typist) reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	was := t.typing
	t.typing = false
	return was
}
