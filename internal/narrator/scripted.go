package narrator

import (
	"context"
	"fmt"

	"github.com/reverie-gm/reverie/internal/store"
)

// Scripted is an Executor and Summarizer that replays a fixed event script.
// It exists for tests and offline runs.
type Scripted struct {
	// Script is replayed for every turn. If empty, a one-chunk reply echoing
	// the player input is produced.
	Script []Event
	// SummaryText is returned by Summarize; empty means Summarize fails.
	SummaryText string
}

// ExecuteTurn replays the script.
func (s *Scripted) ExecuteTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	script := s.Script
	if len(script) == 0 {
		script = []Event{
			{Type: EventText, Text: "You said: " + req.PlayerInput},
			{Type: EventDone, AgentSessionID: req.AgentSessionID},
		}
	}

	ch := make(chan Event, len(script))
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case <-ctx.Done():
				ch <- Event{Type: EventError, Err: ctx.Err()}
				return
			case ch <- ev:
			}
			if ev.Type == EventDone || ev.Type == EventError {
				return
			}
		}
	}()
	return ch, nil
}

// Summarize returns the configured summary text.
func (s *Scripted) Summarize(ctx context.Context, entries []store.Entry) (string, error) {
	if s.SummaryText == "" {
		return "", fmt.Errorf("no summary configured")
	}
	return s.SummaryText, nil
}
