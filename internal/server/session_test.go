package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reverie-gm/reverie/internal/narrator"
	"github.com/reverie-gm/reverie/internal/store"
	"github.com/reverie-gm/reverie/internal/wire"
)

// fakeConn is an in-memory socketConn driven by the tests.
type fakeConn struct {
	incoming chan wire.Envelope
	outgoing chan wire.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan wire.Envelope, 16),
		outgoing: make(chan wire.Envelope, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case env := <-c.incoming:
		*(v.(*wire.Envelope)) = env
		return nil
	case <-c.closed:
		return io.EOF
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case c.outgoing <- v.(wire.Envelope):
		return nil
	case <-c.closed:
		return io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) wire.Envelope {
	t.Helper()
	select {
	case env := <-c.outgoing:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return wire.Envelope{}
	}
}

func (c *fakeConn) send(t *testing.T, frameType string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(frameType, payload)
	require.NoError(t, err)
	c.incoming <- env
}

// gateExecutor streams one chunk, then blocks until released or cancelled.
type gateExecutor struct {
	started chan struct{}
	release chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateExecutor) ExecuteTurn(ctx context.Context, req narrator.TurnRequest) (<-chan narrator.Event, error) {
	ch := make(chan narrator.Event, 4)
	go func() {
		defer close(ch)
		ch <- narrator.Event{Type: narrator.EventText, Text: "partial"}
		close(g.started)
		select {
		case <-g.release:
			ch <- narrator.Event{Type: narrator.EventDone}
		case <-ctx.Done():
			ch <- narrator.Event{Type: narrator.EventError, Err: ctx.Err()}
		}
	}()
	return ch, nil
}

func newTestServer(t *testing.T, executor narrator.Executor, summarizer narrator.Summarizer) (*Server, *store.Adventure) {
	t.Helper()
	st, err := store.New(store.Options{BaseDir: t.TempDir()})
	require.NoError(t, err)
	adv, err := st.Create("")
	require.NoError(t, err)
	return NewServer(st, executor, summarizer, nil, 5*time.Second), adv
}

func startSession(srv *Server) (*fakeConn, chan struct{}) {
	conn := newFakeConn()
	sess := newSession(srv, conn)
	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()
	return conn, done
}

func authenticate(t *testing.T, conn *fakeConn, adv *store.Adventure) wire.AdventureLoadedPayload {
	t.Helper()
	conn.send(t, wire.TypeAuthenticate, wire.AuthenticatePayload{Token: adv.SessionToken(), AdventureID: adv.ID()})

	env := conn.next(t)
	require.Equal(t, wire.TypeAdventureLoaded, env.Type)
	var loaded wire.AdventureLoadedPayload
	require.NoError(t, env.Decode(&loaded))

	env = conn.next(t)
	require.Equal(t, wire.TypeThemeChange, env.Type)
	return loaded
}

func TestAuthenticateResyncsHistory(t *testing.T) {
	srv, adv := newTestServer(t, &narrator.Scripted{}, nil)
	_, err := adv.AppendHistory(store.EntryPlayerInput, "hello")
	require.NoError(t, err)
	_, err = adv.AppendHistory(store.EntryGMResponse, "well met")
	require.NoError(t, err)

	conn, _ := startSession(srv)
	defer conn.Close()

	loaded := authenticate(t, conn, adv)
	assert.Equal(t, adv.ID(), loaded.AdventureID)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "player_input", loaded.History[0].Type)
	assert.Equal(t, "hello", loaded.History[0].Content)
	assert.Equal(t, "well met", loaded.History[1].Content)
	assert.Nil(t, loaded.Summary)
	assert.Equal(t, 1, srv.ActiveSessions())
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	srv, adv := newTestServer(t, &narrator.Scripted{}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()

	conn.send(t, wire.TypeAuthenticate, wire.AuthenticatePayload{Token: "not-the-token", AdventureID: adv.ID()})
	env := conn.next(t)
	require.Equal(t, wire.TypeError, env.Type)
	var errPayload wire.ErrorPayload
	require.NoError(t, env.Decode(&errPayload))
	assert.Equal(t, wire.CodeInvalidSession, errPayload.Code)
	assert.False(t, errPayload.Retryable)
	assert.Empty(t, errPayload.TechnicalDetails)

	conn.send(t, wire.TypeAuthenticate, wire.AuthenticatePayload{Token: "whatever", AdventureID: "no-such-adventure"})
	env = conn.next(t)
	require.Equal(t, wire.TypeError, env.Type)
	require.NoError(t, env.Decode(&errPayload))
	assert.Equal(t, wire.CodeAdventureNotFound, errPayload.Code)
	assert.Equal(t, 0, srv.ActiveSessions())
}

func TestPlayerInputStreamsAndPersistsTurn(t *testing.T) {
	script := []narrator.Event{
		{Type: narrator.EventText, Text: "The cave "},
		{Type: narrator.EventText, Text: "yawns before you."},
		{Type: narrator.EventDone, AgentSessionID: "agent-1"},
	}
	srv, adv := newTestServer(t, &narrator.Scripted{Script: script}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "enter the cave"})

	env := conn.next(t)
	require.Equal(t, wire.TypeResponseStart, env.Type)
	var start wire.ResponseStartPayload
	require.NoError(t, env.Decode(&start))
	require.NotEmpty(t, start.MessageID)

	var streamed string
	for {
		env = conn.next(t)
		if env.Type == wire.TypeResponseEnd {
			var end wire.ResponseEndPayload
			require.NoError(t, env.Decode(&end))
			assert.Equal(t, start.MessageID, end.MessageID)
			break
		}
		require.Equal(t, wire.TypeResponseChunk, env.Type)
		var chunk wire.ResponseChunkPayload
		require.NoError(t, env.Decode(&chunk))
		assert.Equal(t, start.MessageID, chunk.MessageID)
		streamed += chunk.Text
	}
	assert.Equal(t, "The cave yawns before you.", streamed)

	state, history := adv.Snapshot()
	require.Len(t, history.Entries, 2)
	assert.Equal(t, store.EntryPlayerInput, history.Entries[0].Type)
	assert.Equal(t, "enter the cave", history.Entries[0].Content)
	assert.Equal(t, store.EntryGMResponse, history.Entries[1].Type)
	assert.Equal(t, "The cave yawns before you.", history.Entries[1].Content)
	require.NotNil(t, state.AgentSessionID)
	assert.Equal(t, "agent-1", *state.AgentSessionID)
}

func TestSecondInputWhileStreamingIsRateLimited(t *testing.T) {
	gate := newGateExecutor()
	srv, adv := newTestServer(t, gate, nil)
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "first"})
	require.Equal(t, wire.TypeResponseStart, conn.next(t).Type)
	require.Equal(t, wire.TypeResponseChunk, conn.next(t).Type)
	<-gate.started

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "second"})
	env := conn.next(t)
	require.Equal(t, wire.TypeError, env.Type)
	var errPayload wire.ErrorPayload
	require.NoError(t, env.Decode(&errPayload))
	assert.Equal(t, wire.CodeRateLimited, errPayload.Code)
	assert.True(t, errPayload.Retryable)

	close(gate.release)
	require.Equal(t, wire.TypeResponseEnd, conn.next(t).Type)

	// The rejected input must not have left a history entry.
	_, history := adv.Snapshot()
	require.Len(t, history.Entries, 2)
	assert.Equal(t, "first", history.Entries[0].Content)
}

func TestAbortKeepsStreamedPartial(t *testing.T) {
	gate := newGateExecutor()
	srv, adv := newTestServer(t, gate, nil)
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "open the door"})
	require.Equal(t, wire.TypeResponseStart, conn.next(t).Type)
	require.Equal(t, wire.TypeResponseChunk, conn.next(t).Type)
	<-gate.started

	conn.send(t, wire.TypeAbort, nil)
	require.Equal(t, wire.TypeResponseEnd, conn.next(t).Type)

	_, history := adv.Snapshot()
	require.Len(t, history.Entries, 2)
	assert.Equal(t, store.EntryGMResponse, history.Entries[1].Type)
	assert.Equal(t, "partial", history.Entries[1].Content)
}

func TestTurnErrorIsRetryableAndDiscardsPartial(t *testing.T) {
	script := []narrator.Event{
		{Type: narrator.EventText, Text: "The torch flickers"},
		{Type: narrator.EventError, Err: errors.New("upstream unavailable")},
	}
	srv, adv := newTestServer(t, &narrator.Scripted{Script: script}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "look around"})
	require.Equal(t, wire.TypeResponseStart, conn.next(t).Type)
	require.Equal(t, wire.TypeResponseChunk, conn.next(t).Type)

	env := conn.next(t)
	require.Equal(t, wire.TypeError, env.Type)
	var errPayload wire.ErrorPayload
	require.NoError(t, env.Decode(&errPayload))
	assert.Equal(t, wire.CodeTurnFailed, errPayload.Code)
	assert.True(t, errPayload.Retryable)

	_, history := adv.Snapshot()
	require.Len(t, history.Entries, 1)
	assert.Equal(t, store.EntryPlayerInput, history.Entries[0].Type)
}

func TestThemeChangePersistsAndForwards(t *testing.T) {
	theme := store.Theme{Mood: "tense", Genre: "horror", Region: "the catacombs"}
	script := []narrator.Event{
		{Type: narrator.EventThemeChange, Theme: &theme},
		{Type: narrator.EventText, Text: "Dust falls from the ceiling."},
		{Type: narrator.EventDone},
	}
	srv, adv := newTestServer(t, &narrator.Scripted{Script: script}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "descend"})
	require.Equal(t, wire.TypeResponseStart, conn.next(t).Type)

	env := conn.next(t)
	require.Equal(t, wire.TypeThemeChange, env.Type)
	var change wire.ThemeChangePayload
	require.NoError(t, env.Decode(&change))
	assert.Equal(t, "tense", change.Mood)

	require.Equal(t, wire.TypeResponseChunk, conn.next(t).Type)
	require.Equal(t, wire.TypeResponseEnd, conn.next(t).Type)

	state, _ := adv.Snapshot()
	assert.Equal(t, theme, state.Theme)
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t, &narrator.Scripted{}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()

	conn.send(t, wire.TypePing, nil)
	assert.Equal(t, wire.TypePong, conn.next(t).Type)
}

func TestRecapUsesSummarizer(t *testing.T) {
	srv, adv := newTestServer(t, &narrator.Scripted{}, &narrator.Scripted{SummaryText: "the story so far"})
	_, err := adv.AppendHistory(store.EntryPlayerInput, "hello")
	require.NoError(t, err)

	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypeRecap, nil)
	require.Equal(t, wire.TypeRecapStarted, conn.next(t).Type)

	env := conn.next(t)
	require.Equal(t, wire.TypeRecapComplete, env.Type)
	var recap wire.RecapCompletePayload
	require.NoError(t, env.Decode(&recap))
	require.NotNil(t, recap.Summary)
	assert.Equal(t, "the story so far", *recap.Summary)
	require.Len(t, recap.History, 1)
}

func TestRecapErrorWhenSummarizerFails(t *testing.T) {
	srv, adv := newTestServer(t, &narrator.Scripted{}, &narrator.Scripted{})
	conn, _ := startSession(srv)
	defer conn.Close()
	authenticate(t, conn, adv)

	conn.send(t, wire.TypeRecap, nil)
	require.Equal(t, wire.TypeRecapStarted, conn.next(t).Type)
	require.Equal(t, wire.TypeRecapError, conn.next(t).Type)
}

func TestInputBeforeAuthenticateRejected(t *testing.T) {
	srv, _ := newTestServer(t, &narrator.Scripted{}, nil)
	conn, _ := startSession(srv)
	defer conn.Close()

	conn.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "hello"})
	env := conn.next(t)
	require.Equal(t, wire.TypeError, env.Type)
	var errPayload wire.ErrorPayload
	require.NoError(t, env.Decode(&errPayload))
	assert.Equal(t, wire.CodeInvalidSession, errPayload.Code)
}

func TestReconnectTakesOverSession(t *testing.T) {
	srv, adv := newTestServer(t, &narrator.Scripted{}, nil)

	first, firstDone := startSession(srv)
	authenticate(t, first, adv)

	second, _ := startSession(srv)
	defer second.Close()
	authenticate(t, second, adv)

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stale session was not closed on takeover")
	}
	assert.Equal(t, 1, srv.ActiveSessions())

	// The new session is fully usable after the takeover.
	second.send(t, wire.TypePlayerInput, wire.PlayerInputPayload{Text: "still here"})
	require.Equal(t, wire.TypeResponseStart, second.next(t).Type)
}
