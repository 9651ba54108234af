// Package narrator defines the turn executor: the collaborator that accepts
// player input plus session continuity and emits the streaming event sequence
// a turn is built from.
package narrator

import (
	"context"

	"github.com/reverie-gm/reverie/internal/store"
)

// EventType discriminates streaming events.
type EventType int

const (
	// EventText is incremental narrator prose.
	EventText EventType = iota
	// EventToolStatus reports tool activity (dice rolls, sheet lookups).
	EventToolStatus
	// EventThemeChange asks the session to switch the visual theme.
	EventThemeChange
	// EventDone terminates the stream successfully.
	EventDone
	// EventError terminates the stream with a failure.
	EventError
)

// ToolStatus describes in-progress tool activity.
type ToolStatus struct {
	State       string
	Description string
}

// Event is one element of a turn's streaming sequence. The channel is closed
// after the terminal EventDone or EventError.
type Event struct {
	Type EventType

	// EventText
	Text string

	// EventToolStatus
	Tool *ToolStatus

	// EventThemeChange
	Theme *store.Theme

	// EventDone: continuity id for the next turn, empty to keep the current one.
	AgentSessionID string

	// EventError
	Err error
}

// TurnRequest is the input to one narrator turn.
type TurnRequest struct {
	AdventureID      string
	AgentSessionID   string
	SceneDescription string
	History          []store.Entry
	PlayerInput      string
}

// Executor runs narrator turns.
type Executor interface {
	// ExecuteTurn starts a turn and returns its event stream. The stream ends
	// with EventDone or EventError and is then closed. Cancelling ctx stops
	// the turn.
	ExecuteTurn(ctx context.Context, req TurnRequest) (<-chan Event, error)
}

// Summarizer condenses narrative history into a short recap. It backs both
// history compaction and the client-initiated recap request.
type Summarizer interface {
	Summarize(ctx context.Context, entries []store.Entry) (string, error)
}
