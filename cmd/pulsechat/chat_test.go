package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/pulsechat/internal/client/session"
)

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":     "ws://localhost:3000/ws",
		"https://chat.example.com/": "wss://chat.example.com/ws",
		"http://example.com/pulse":  "ws://example.com/pulse/ws",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestRendererNumbersConfirmedMessages(t *testing.T) {
	r := newRenderer(&bytes.Buffer{})
	at := time.Date(2024, 1, 1, 12, 30, 0, 0, time.Local)

	pending := session.Entry{Kind: session.KindMessage, LocalID: "l1", Sender: "alice", Text: "hi", State: session.Pending, CreatedAt: at}
	assert.Equal(t, "    [12:30] alice: hi (sending)", r.format(pending))

	confirmed := pending
	confirmed.ServerID = "m1"
	confirmed.State = session.Confirmed
	confirmed.Reactions.Add("👍", "u2")
	assert.Equal(t, " 1. [12:30] alice: hi  👍 1", r.format(confirmed))

	other := session.Entry{Kind: session.KindMessage, ServerID: "m2", Sender: "bob", Text: "yo", State: session.Confirmed, CreatedAt: at}
	assert.Equal(t, " 2. [12:30] bob: yo", r.format(other))

	id, ok := r.messageID(2)
	require.True(t, ok)
	assert.Equal(t, "m2", id)
	_, ok = r.messageID(3)
	assert.False(t, ok)

	system := session.Entry{Kind: session.KindSystem, Text: "bob joined"}
	assert.Equal(t, "* bob joined", r.format(system))
}
