package handlers

import (
	"time"

	"github.com/reverie-gm/reverie/internal/store"
)

// ErrorResponse is the uniform error body for all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateAdventureRequest optionally pins the adventure id.
type CreateAdventureRequest struct {
	ID string `json:"id"`
}

// CreateAdventureResponse returns the new adventure and its session token.
// The token is shown exactly once; it is the only credential for the
// adventure.
type CreateAdventureResponse struct {
	AdventureID  string `json:"adventureId"`
	SessionToken string `json:"sessionToken"`
	Ticket       string `json:"ticket,omitempty"`
}

// TicketRequest exchanges a session token for a connection ticket.
type TicketRequest struct {
	AdventureID  string `json:"adventureId"`
	SessionToken string `json:"sessionToken"`
}

// TicketResponse carries the issued ticket.
type TicketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// AdventureResponse is the metadata view of one adventure.
type AdventureResponse struct {
	AdventureID  string      `json:"adventureId"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActiveAt time.Time   `json:"lastActiveAt"`
	EntryCount   int         `json:"entryCount"`
	Theme        store.Theme `json:"theme"`
	Summary      *string     `json:"summary,omitempty"`
}

// ArchivedEntry is one compacted-away history entry restored from the
// archive.
type ArchivedEntry struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// ArchiveResponse lists the archived prefix of an adventure's history.
type ArchiveResponse struct {
	AdventureID string          `json:"adventureId"`
	Entries     []ArchivedEntry `json:"entries"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
}
