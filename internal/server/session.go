package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/narrator"
	"github.com/reverie-gm/reverie/internal/store"
	"github.com/reverie-gm/reverie/internal/turn"
	"github.com/reverie-gm/reverie/internal/wire"
)

// socketConn is the slice of a websocket connection the session needs. The
// gorilla connection satisfies it; tests substitute an in-memory pipe.
type socketConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is one client connection. It is unauthenticated until a valid
// authenticate frame binds it to an adventure, after which it owns that
// adventure's store handle and turn coordinator until the connection drops
// or a reconnect takes it over.
type Session struct {
	server *Server
	conn   socketConn

	// writeMu serializes frame writes; turn and recap goroutines write
	// concurrently with the read loop's direct responses.
	writeMu sync.Mutex

	mu         sync.Mutex
	adv        *store.Adventure
	coord      *turn.Coordinator
	cancelTurn context.CancelFunc
	recapBusy  bool
	takenOver  bool
}

func newSession(srv *Server, conn socketConn) *Session {
	return &Session{server: srv, conn: conn}
}

// run is the session read loop. It returns when the connection closes.
func (s *Session) run() {
	defer s.cleanup()
	for {
		var env wire.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			logger.Tracef("[session] read loop ended: %v", err)
			return
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypeAuthenticate:
		s.handleAuthenticate(env)
	case wire.TypePlayerInput:
		s.handlePlayerInput(env)
	case wire.TypePing:
		s.send(wire.TypePong, nil)
	case wire.TypeAbort:
		s.handleAbort()
	case wire.TypeRecap:
		s.handleRecap()
	default:
		logger.Tracef("[session] ignoring unknown frame type %q", env.Type)
	}
}

// takeOver closes the connection after a newer session claimed the same
// adventure. The registry already points at the newcomer, so cleanup must not
// release the store handle.
func (s *Session) takeOver() {
	s.mu.Lock()
	s.takenOver = true
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = s.conn.Close()
}

func (s *Session) cleanup() {
	s.mu.Lock()
	adv := s.adv
	cancel := s.cancelTurn
	taken := s.takenOver
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.conn.Close()

	if adv != nil && !taken && s.server.detach(adv.ID(), s) {
		adv.Close()
	}
}

func (s *Session) current() (*store.Adventure, *turn.Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv, s.coord
}

func (s *Session) handleAuthenticate(env wire.Envelope) {
	var p wire.AuthenticatePayload
	if err := env.Decode(&p); err != nil {
		s.sendError(wire.CodeInvalidSession, "malformed authenticate frame", false, err.Error())
		return
	}

	// A connection ticket is a short-lived stand-in for the session token;
	// either way authentication funnels through the store's token check.
	adventureID, token := p.AdventureID, p.Token
	if s.server.tickets != nil {
		if claims, err := s.server.tickets.VerifyTicket(p.Token); err == nil {
			adventureID, token = claims.AdventureID, claims.SessionToken
		}
	}

	adv, err := s.server.store.Load(adventureID, token)
	if err != nil {
		s.sendStoreError(err)
		return
	}

	s.mu.Lock()
	prev := s.adv
	s.adv = adv
	s.coord = turn.New()
	s.mu.Unlock()

	if prev != nil && prev != adv && s.server.detach(prev.ID(), s) {
		prev.Close()
	}
	s.server.attach(adv.ID(), s)

	state, history := adv.Snapshot()
	loaded := wire.AdventureLoadedPayload{
		AdventureID: adv.ID(),
		History:     historyToWire(history.Entries),
	}
	if history.Summary != nil {
		text := history.Summary.Text
		loaded.Summary = &text
	}
	s.send(wire.TypeAdventureLoaded, loaded)
	s.send(wire.TypeThemeChange, themePayload(state.Theme))
	logger.Infof("[session] adventure %s authenticated (%d entries)", adv.ID(), len(history.Entries))
}

func (s *Session) handlePlayerInput(env wire.Envelope) {
	adv, coord := s.current()
	if adv == nil {
		s.sendError(wire.CodeInvalidSession, "authenticate before sending input", false, "")
		return
	}

	var p wire.PlayerInputPayload
	if err := env.Decode(&p); err != nil {
		s.sendError(wire.CodeTurnFailed, "malformed player input", true, err.Error())
		return
	}

	messageID := uuid.NewString()
	if err := coord.Begin(messageID); err != nil {
		s.sendError(wire.CodeRateLimited, "a turn is already in progress", true, "")
		return
	}

	if _, err := adv.AppendHistory(store.EntryPlayerInput, p.Text); err != nil {
		coord.Fail(messageID)
		s.sendStoreError(err)
		return
	}

	s.send(wire.TypeResponseStart, wire.ResponseStartPayload{MessageID: messageID})

	ctx, cancel := context.WithTimeout(context.Background(), s.server.turnTimeout)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.mu.Unlock()

	go s.runTurn(ctx, cancel, adv, coord, messageID, p.Text)
}

func (s *Session) runTurn(ctx context.Context, cancel context.CancelFunc, adv *store.Adventure, coord *turn.Coordinator, messageID, input string) {
	defer cancel()

	state, history := adv.Snapshot()
	req := narrator.TurnRequest{
		AdventureID:      adv.ID(),
		SceneDescription: state.Scene.Description,
		History:          history.Entries,
		PlayerInput:      input,
	}
	if state.AgentSessionID != nil {
		req.AgentSessionID = *state.AgentSessionID
	}

	events, err := s.server.executor.ExecuteTurn(ctx, req)
	if err != nil {
		s.failTurn(coord, messageID, err)
		return
	}

	for ev := range events {
		switch ev.Type {
		case narrator.EventText:
			if coord.Chunk(messageID, ev.Text) {
				s.send(wire.TypeResponseChunk, wire.ResponseChunkPayload{MessageID: messageID, Text: ev.Text})
			}
		case narrator.EventToolStatus:
			if ev.Tool != nil {
				s.send(wire.TypeToolStatus, wire.ToolStatusPayload{State: ev.Tool.State, Description: ev.Tool.Description})
			}
		case narrator.EventThemeChange:
			if ev.Theme != nil {
				if err := adv.SetTheme(*ev.Theme); err != nil {
					logger.Warnf("[session] persisting theme for %s: %v", adv.ID(), err)
				}
				s.send(wire.TypeThemeChange, themePayload(*ev.Theme))
			}
		case narrator.EventDone:
			if ev.AgentSessionID != "" {
				if err := adv.SetAgentSessionID(ev.AgentSessionID); err != nil {
					logger.Warnf("[session] persisting agent session for %s: %v", adv.ID(), err)
				}
			}
			s.endTurn(adv, coord, messageID)
			return
		case narrator.EventError:
			if errors.Is(ev.Err, context.Canceled) {
				// Player abort: keep whatever streamed before the cut.
				s.endTurn(adv, coord, messageID)
				return
			}
			s.failTurn(coord, messageID, ev.Err)
			return
		}
	}

	s.failTurn(coord, messageID, errors.New("narrator stream ended without a terminal event"))
}

// endTurn finalizes the turn, persists the accumulated response and closes
// the stream. A duplicate or stale end is a no-op all the way down: no second
// history entry, no second end frame.
func (s *Session) endTurn(adv *store.Adventure, coord *turn.Coordinator, messageID string) {
	text, ok := coord.End(messageID)
	if !ok {
		return
	}
	if text != "" {
		if _, err := adv.AppendHistory(store.EntryGMResponse, text); err != nil {
			logger.Errorf("[session] persisting response for %s: %v", adv.ID(), err)
			s.sendStoreError(err)
		}
	}
	s.send(wire.TypeResponseEnd, wire.ResponseEndPayload{MessageID: messageID})
}

func (s *Session) failTurn(coord *turn.Coordinator, messageID string, err error) {
	coord.Fail(messageID)
	if errors.Is(err, context.DeadlineExceeded) {
		s.sendError(wire.CodeProcessingTimeout, "the narrator took too long to respond", true, "")
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.sendError(wire.CodeTurnFailed, "the narrator could not complete the turn", true, detail)
}

func (s *Session) handleAbort() {
	_, coord := s.current()
	if coord == nil || !coord.Abort() {
		return
	}
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) handleRecap() {
	adv, _ := s.current()
	if adv == nil {
		s.sendError(wire.CodeInvalidSession, "authenticate before requesting a recap", false, "")
		return
	}

	s.mu.Lock()
	if s.recapBusy {
		s.mu.Unlock()
		return
	}
	s.recapBusy = true
	s.mu.Unlock()

	s.send(wire.TypeRecapStarted, nil)
	go s.runRecap(adv)
}

func (s *Session) runRecap(adv *store.Adventure) {
	defer func() {
		s.mu.Lock()
		s.recapBusy = false
		s.mu.Unlock()
	}()

	_, history := adv.Snapshot()
	payload := wire.RecapCompletePayload{History: historyToWire(history.Entries)}

	// Without a summarizer the recap is whatever compaction last wrote.
	if s.server.summarizer == nil {
		if history.Summary != nil {
			text := history.Summary.Text
			payload.Summary = &text
		}
		s.send(wire.TypeRecapComplete, payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.server.turnTimeout)
	defer cancel()

	summary, err := s.server.summarizer.Summarize(ctx, history.Entries)
	if err != nil {
		logger.Warnf("[session] recap failed for %s: %v", adv.ID(), err)
		s.send(wire.TypeRecapError, wire.RecapErrorPayload{Reason: "could not generate a recap"})
		return
	}
	payload.Summary = &summary
	s.send(wire.TypeRecapComplete, payload)
}

func (s *Session) send(frameType string, payload any) {
	env, err := wire.NewEnvelope(frameType, payload)
	if err != nil {
		logger.Errorf("[session] encoding %s frame: %v", frameType, err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		logger.Tracef("[session] write %s failed: %v", frameType, err)
	}
}

func (s *Session) sendError(code, message string, retryable bool, details string) {
	s.send(wire.TypeError, wire.ErrorPayload{
		Code:             code,
		Message:          message,
		Retryable:        retryable,
		TechnicalDetails: details,
	})
}

// sendStoreError maps store failures onto the protocol error taxonomy. Wrong
// id and wrong token both read as "not yours", with nothing else leaked.
func (s *Session) sendStoreError(err error) {
	var corrupted *store.CorruptedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendError(wire.CodeAdventureNotFound, "no adventure matches the supplied credentials", false, "")
	case errors.Is(err, store.ErrInvalidToken):
		s.sendError(wire.CodeInvalidSession, "no adventure matches the supplied credentials", false, "")
	case errors.As(err, &corrupted):
		s.sendError(wire.CodeStateCorrupted, "the adventure could not be read from disk", false, err.Error())
	default:
		s.sendError(wire.CodeTurnFailed, "the request could not be completed", true, err.Error())
	}
}

func historyToWire(entries []store.Entry) []wire.HistoryEntry {
	out := make([]wire.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.HistoryEntry{
			ID:        e.ID,
			Timestamp: e.Timestamp.UnixMilli(),
			Type:      string(e.Type),
			Content:   e.Content,
		})
	}
	return out
}

func themePayload(t store.Theme) wire.ThemeChangePayload {
	return wire.ThemeChangePayload{
		Mood:          t.Mood,
		Genre:         t.Genre,
		Region:        t.Region,
		BackgroundURL: t.BackgroundURL,
	}
}
