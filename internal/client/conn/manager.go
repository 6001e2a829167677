package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/pulsechat/internal/proto"
)

var (
	// ErrNotConnected is returned by Emit while no transport is up.
	ErrNotConnected = errors.New("not connected")
	// ErrReconnectFailed is returned once every dial attempt has failed.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// State is the observable connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler receives the raw data of a server event.
type Handler func(data json.RawMessage)

// Options tune reconnection.
type Options struct {
	// Attempts bounds dial attempts per connect cycle.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    *zerolog.Logger
}

// DefaultOptions returns 5 attempts with delays of 1s, 2s, 4s, 5s.
func DefaultOptions() Options {
	return Options{Attempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
}

// Manager owns the client's single server connection. It reconnects on its own
// after transport loss but never after Disconnect.
type Manager struct {
	dialer Dialer
	opts   Options
	log    *zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu        sync.Mutex
	state     State
	transport Transport
	life      context.Context
	stop      context.CancelFunc
	gen       uint64
	handlers  map[string]map[uint64]Handler
	watchers  map[uint64]func(State)
	nextID    uint64
}

// NewManager creates a disconnected manager.
func NewManager(dialer Dialer, opts Options) *Manager {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = max(def.MaxDelay, opts.BaseDelay)
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	m := &Manager{
		dialer:   dialer,
		opts:     opts,
		log:      logger,
		sleep:    sleepCtx,
		handlers: make(map[string]map[uint64]Handler),
		watchers: make(map[uint64]func(State)),
	}
	m.life, m.stop = context.WithCancel(context.Background())
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the connection. It returns immediately when already
// connected; concurrent callers share a single attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return nil
	}
	life, gen := m.life, m.gen
	m.mu.Unlock()

	// One flight per generation; Disconnect starts a new generation.
	ch := m.group.DoChan(fmt.Sprintf("connect-%d", gen), func() (any, error) {
		return nil, m.dial(life)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureConnected connects if needed and reports whether the connection is up.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	if m.State() == Connected {
		return true
	}
	if err := m.Connect(ctx); err != nil {
		m.log.Warn().Err(err).Msg("ensure connected")
		return false
	}
	return true
}

// dial runs one connect cycle with capped exponential backoff.
func (m *Manager) dial(life context.Context) error {
	m.transition(life, Connecting)

	delay := m.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		t, err := m.dialer.Dial(life)
		if err == nil {
			if m.attach(life, t) {
				return nil
			}
			_ = t.Close()
			return fmt.Errorf("connect: %w", context.Canceled)
		}
		lastErr = err
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")

		if life.Err() != nil {
			break
		}
		if attempt == m.opts.Attempts {
			break
		}
		if err := m.sleep(life, delay); err != nil {
			break
		}
		delay = min(delay*2, m.opts.MaxDelay)
	}

	if err := life.Err(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m.transition(life, Disconnected)
	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, m.opts.Attempts, lastErr)
}

// attach installs t unless the manager was disconnected meanwhile.
func (m *Manager) attach(life context.Context, t Transport) bool {
	m.mu.Lock()
	if m.life != life || life.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.transport = t
	m.mu.Unlock()

	m.transition(life, Connected)
	go m.readLoop(life, t)
	return true
}

func (m *Manager) readLoop(life context.Context, t Transport) {
	for {
		frame, err := t.Read(life)
		if err != nil {
			m.lost(life, t, err)
			return
		}
		m.dispatch(frame)
	}
}

// lost handles a dead transport; unless the client asked to disconnect it starts
// a new connect cycle.
func (m *Manager) lost(life context.Context, t Transport, cause error) {
	m.mu.Lock()
	if m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.mu.Unlock()

	_ = t.Close()
	m.transition(life, Disconnected)

	if life.Err() != nil {
		return
	}
	m.log.Warn().Err(cause).Msg("connection lost, reconnecting")
	go func() {
		if err := m.Connect(life); err != nil {
			m.log.Error().Err(err).Msg("reconnect gave up")
		}
	}()
}

// Disconnect tears the connection down and cancels any connect cycle in flight.
// It is safe to call when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stop()
	m.life, m.stop = context.WithCancel(context.Background())
	m.gen++
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.setState(Disconnected)
}

// Emit sends an event. It fails fast with ErrNotConnected when no transport is up.
func (m *Manager) Emit(ctx context.Context, eventType string, payload any) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}

	frame, err := proto.Marshal(eventType, payload)
	if err != nil {
		return err
	}
	if err := t.Write(ctx, frame); err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

// On registers a handler for a server event and returns its unsubscribe function.
func (m *Manager) On(eventType string, h Handler) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.handlers[eventType] == nil {
		m.handlers[eventType] = make(map[uint64]Handler)
	}
	m.handlers[eventType][id] = h
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[eventType], id)
		if len(m.handlers[eventType]) == 0 {
			delete(m.handlers, eventType)
		}
	}
}

// Listeners returns how many handlers are registered for eventType.
func (m *Manager) Listeners(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[eventType])
}

// OnStateChange calls fn on every state transition until the returned function is called.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// transition changes state unless life belongs to a cancelled generation.
func (m *Manager) transition(life context.Context, s State) {
	m.mu.Lock()
	stale := m.life != life
	m.mu.Unlock()
	if !stale {
		m.setState(s)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	watchers := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	m.log.Debug().Stringer("state", s).Msg("connection state")
	for _, fn := range watchers {
		fn(s)
	}
}

func (m *Manager) dispatch(frame proto.Inbound) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers[frame.Type]))
	for _, h := range m.handlers[frame.Type] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(frame.Data)
	}
}
