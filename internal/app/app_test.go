package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/pulsechat/internal/config"
	"github.com/vovakirdan/pulsechat/internal/store"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestAppServesAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = freeAddr(t)
	cfg.DatabasePath = filepath.Join(t.TempDir(), "pulse.db")
	cfg.PurgeInterval = 20 * time.Millisecond
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, &logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppRejectsUnknownLimiterBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "pulse.db")
	cfg.RateLimit.Backend = "carrier-pigeon"
	logger := zerolog.Nop()

	_, err := New(context.Background(), cfg, &logger)
	require.Error(t, err)
}

func TestPurgeRemovesExpiredRooms(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "pulse.db")
	logger := zerolog.Nop()

	a, err := New(context.Background(), cfg, &logger)
	require.NoError(t, err)
	defer a.cleanup()

	ctx := context.Background()
	user := &store.User{Username: "alice"}
	require.NoError(t, a.store.CreateUser(ctx, user))
	old := &store.Room{Title: "old", CreatorID: user.ID, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, a.store.CreateRoom(ctx, old))
	live := &store.Room{Title: "live", CreatorID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, a.store.CreateRoom(ctx, live))

	a.purge(ctx, time.Now())

	_, err = a.store.GetRoomByID(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = a.store.GetRoomByID(ctx, live.ID)
	assert.NoError(t, err)
}
