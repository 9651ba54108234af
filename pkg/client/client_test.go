package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reverie-gm/reverie/internal/wire"
)

// protocolStub is a minimal server end of the session protocol: it answers
// authenticate with a resync, ping with pong, and echoes player input back as
// a one-chunk turn.
type protocolStub struct {
	upgrader  websocket.Upgrader
	authCount atomic.Int64

	// dropAfterAuth closes the connection right after the resync, once.
	dropAfterAuth atomic.Bool
}

func (s *protocolStub) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case wire.TypeAuthenticate:
			s.authCount.Add(1)
			loaded, _ := wire.NewEnvelope(wire.TypeAdventureLoaded, wire.AdventureLoadedPayload{
				AdventureID: "adv-1",
				History:     []wire.HistoryEntry{},
			})
			_ = conn.WriteJSON(loaded)
			if s.dropAfterAuth.CompareAndSwap(true, false) {
				return
			}
		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, nil)
			_ = conn.WriteJSON(pong)
		case wire.TypePlayerInput:
			var p wire.PlayerInputPayload
			_ = env.Decode(&p)
			start, _ := wire.NewEnvelope(wire.TypeResponseStart, wire.ResponseStartPayload{MessageID: "m1"})
			chunk, _ := wire.NewEnvelope(wire.TypeResponseChunk, wire.ResponseChunkPayload{MessageID: "m1", Text: "echo: " + p.Text})
			end, _ := wire.NewEnvelope(wire.TypeResponseEnd, wire.ResponseEndPayload{MessageID: "m1"})
			_ = conn.WriteJSON(start)
			_ = conn.WriteJSON(chunk)
			_ = conn.WriteJSON(end)
		}
	}
}

func startStub(t *testing.T) (*protocolStub, string) {
	t.Helper()
	stub := &protocolStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)
	return stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, ch <-chan wire.Envelope, frameType string) wire.Envelope {
	t.Helper()
	for {
		select {
		case env := <-ch:
			if env.Type == frameType {
				return env
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", frameType)
			return wire.Envelope{}
		}
	}
}

func newConnected(t *testing.T, url string, interval time.Duration) (*Client, <-chan wire.Envelope) {
	t.Helper()
	c := New(Options{URL: url, Token: "token", AdventureID: "adv-1", HeartbeatInterval: interval})

	frames := make(chan wire.Envelope, 64)
	forward := func(env wire.Envelope) { frames <- env }
	for _, ft := range []string{
		wire.TypeAdventureLoaded, wire.TypePong,
		wire.TypeResponseStart, wire.TypeResponseChunk, wire.TypeResponseEnd,
	} {
		c.On(ft, forward)
	}

	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c, frames
}

func TestConnectAuthenticatesAndResyncs(t *testing.T) {
	stub, url := startStub(t)
	c, frames := newConnected(t, url, time.Minute)

	env := waitFor(t, frames, wire.TypeAdventureLoaded)
	var loaded wire.AdventureLoadedPayload
	require.NoError(t, env.Decode(&loaded))
	assert.Equal(t, "adv-1", loaded.AdventureID)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, int64(1), stub.authCount.Load())
}

func TestTurnRoundTrip(t *testing.T) {
	_, url := startStub(t)
	c, frames := newConnected(t, url, time.Minute)
	waitFor(t, frames, wire.TypeAdventureLoaded)

	require.NoError(t, c.SendInput("hello"))
	env := waitFor(t, frames, wire.TypeResponseChunk)
	var chunk wire.ResponseChunkPayload
	require.NoError(t, env.Decode(&chunk))
	assert.Equal(t, "echo: hello", chunk.Text)
	waitFor(t, frames, wire.TypeResponseEnd)
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	_, url := startStub(t)
	c, frames := newConnected(t, url, 20*time.Millisecond)
	waitFor(t, frames, wire.TypeAdventureLoaded)

	waitFor(t, frames, wire.TypePong)
	waitFor(t, frames, wire.TypePong)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestReconnectReauthenticates(t *testing.T) {
	stub, url := startStub(t)
	stub.dropAfterAuth.Store(true)

	c := New(Options{URL: url, Token: "token", AdventureID: "adv-1", HeartbeatInterval: time.Minute})
	frames := make(chan wire.Envelope, 64)
	c.On(wire.TypeAdventureLoaded, func(env wire.Envelope) { frames <- env })
	statuses := make(chan Status, 8)
	c.OnStatus(func(s Status) { statuses <- s })
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })

	waitFor(t, frames, wire.TypeAdventureLoaded)
	// The server drops the link after the first resync; the client must come
	// back on its own with a second authenticate.
	waitFor(t, frames, wire.TypeAdventureLoaded)
	assert.Equal(t, int64(2), stub.authCount.Load())

	sawReconnecting := false
	for !sawReconnecting {
		select {
		case s := <-statuses:
			if s == StatusReconnecting {
				sawReconnecting = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("never observed the reconnecting status")
		}
	}
	assert.Equal(t, StatusConnected, c.Status())
}
