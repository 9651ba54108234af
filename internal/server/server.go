// Package server hosts the session protocol: one long-lived websocket per
// authenticated client, carrying the turn lifecycle, heartbeats and resync.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/narrator"
	"github.com/reverie-gm/reverie/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for self-hosting
	},
}

// Server accepts session connections and owns the active-session registry.
// One authenticated client owns one adventure at a time; a reconnect for the
// same adventure takes the session over from the stale connection.
type Server struct {
	store       *store.Store
	executor    narrator.Executor
	summarizer  narrator.Summarizer
	tickets     *crypto.TicketManager
	turnTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session // adventure id -> active session
}

// NewServer creates a session server.
func NewServer(st *store.Store, executor narrator.Executor, summarizer narrator.Summarizer, tickets *crypto.TicketManager, turnTimeout time.Duration) *Server {
	return &Server{
		store:       st,
		executor:    executor,
		summarizer:  summarizer,
		tickets:     tickets,
		turnTimeout: turnTimeout,
		sessions:    make(map[string]*Session),
	}
}

// HandleSession upgrades the HTTP request and runs the session read loop
// until the connection drops.
func (s *Server) HandleSession(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[session] websocket upgrade failed: %v", err)
		return
	}

	sess := newSession(s, conn)
	sess.run()
}

// attach registers sess as the owner of adventureID, closing any stale
// session that still holds it.
func (s *Server) attach(adventureID string, sess *Session) {
	s.mu.Lock()
	old := s.sessions[adventureID]
	s.sessions[adventureID] = sess
	s.mu.Unlock()

	if old != nil && old != sess {
		logger.Infof("[session] adventure %s taken over by a new connection", adventureID)
		old.takeOver()
	}
}

// detach removes sess from the registry if it is still the owner. It reports
// whether sess owned the adventure (and so should release the store handle).
func (s *Server) detach(adventureID string, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[adventureID] != sess {
		return false
	}
	delete(s.sessions, adventureID)
	return true
}

// ActiveSessions returns the number of connected, authenticated sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
