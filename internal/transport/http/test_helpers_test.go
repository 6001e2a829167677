package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsechat/internal/config"
	"github.com/vovakirdan/pulsechat/internal/core"
	"github.com/vovakirdan/pulsechat/internal/ratelimit"
	"github.com/vovakirdan/pulsechat/internal/store"
	"github.com/vovakirdan/pulsechat/internal/store/sqlite"
)

type testEnv struct {
	store  *sqlite.SQLiteStore
	hub    *core.Hub
	server *httptest.Server
}

// newTestEnv starts a full server over an in-memory SQLite store.
func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	hub := core.NewHub(st, limiter, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	cfg := config.Default()
	cfg.Addr = ":0"

	ts := httptest.NewServer(NewServer(hub, st, cfg, &logger).Handler)
	t.Cleanup(ts.Close)

	return &testEnv{store: st, hub: hub, server: ts}
}

func (e *testEnv) seedUser(t *testing.T, name string) *store.User {
	t.Helper()

	user := &store.User{Username: name}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func (e *testEnv) seedRoom(t *testing.T, creator *store.User, title string, expiresAt time.Time) *store.Room {
	t.Helper()

	room := &store.Room{Title: title, CreatorID: creator.ID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	if err := e.store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}

// doJSON performs a request against the test server and decodes the response into out.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func saveMessage(t *testing.T, env *testEnv, roomID, senderID, content string, at time.Time) {
	t.Helper()

	msg := &store.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		ExpiresAt: at.Add(time.Hour),
		CreatedAt: at,
	}
	if err := env.store.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}
}
