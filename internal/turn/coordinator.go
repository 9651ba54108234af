// Package turn implements the per-session streaming response coordinator: a
// small state machine governing one narrative turn from start through chunks
// to finalization, abort or error.
package turn

import (
	"errors"
	"strings"
	"sync"

	"github.com/reverie-gm/reverie/internal/logger"
)

// Phase is the coordinator state.
type Phase int

const (
	// PhaseIdle means no turn is in flight; input is open.
	PhaseIdle Phase = iota
	// PhaseStreaming means one turn is in flight and accumulating chunks.
	PhaseStreaming
	// PhaseAborting means an abort was requested and the coordinator is
	// waiting for the terminating end or error.
	PhaseAborting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// ErrTurnInFlight is returned by Begin while another turn is active. A second
// start is a protocol violation, never a silent interleave.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// Coordinator governs one session's turn lifecycle. Every turn returns the
// coordinator to PhaseIdle.
type Coordinator struct {
	mu            sync.Mutex
	phase         Phase
	messageID     string
	buf           strings.Builder
	lastFinalized string
}

// New creates an idle coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ActiveMessageID returns the in-flight message id, or "" when idle.
func (c *Coordinator) ActiveMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageID
}

// Begin opens a turn for the server-issued message id. It establishes that
// this is the only turn in flight for the session.
func (c *Coordinator) Begin(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return ErrTurnInFlight
	}
	c.phase = PhaseStreaming
	c.messageID = messageID
	c.buf.Reset()
	return nil
}

// Chunk accumulates streamed text for the active turn. Chunks whose message
// id does not match the active turn are ignored, not errors: they are stale
// leftovers of a prior turn racing a fast abort/retry cycle.
func (c *Coordinator) Chunk(messageID, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseStreaming || messageID != c.messageID {
		logger.Tracef("[turn] ignoring chunk for %q in phase %s", messageID, c.phase)
		return false
	}
	c.buf.WriteString(text)
	return true
}

// End finalizes the turn for the given message id and returns the
// accumulated text. ok is false for duplicate or stale ends; a duplicate end
// must never produce a second history entry, so callers only append when ok.
//
// An end observed while aborting still finalizes: abort discards partial
// content only when no terminating end arrives.
func (c *Coordinator) End(messageID string) (text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle || messageID != c.messageID {
		return "", false
	}
	text = c.buf.String()
	c.finishLocked(messageID)
	return text, true
}

// Abort requests the active turn to stop. It is only meaningful while
// streaming; the coordinator stays in PhaseAborting until the terminating
// end or error is observed.
func (c *Coordinator) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseStreaming {
		return false
	}
	c.phase = PhaseAborting
	return true
}

// Fail records a turn error: partial content is cleared and the coordinator
// returns to idle, re-opening input. ok reports whether the id matched the
// active turn.
func (c *Coordinator) Fail(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle || messageID != c.messageID {
		return false
	}
	c.finishLocked(messageID)
	return true
}

func (c *Coordinator) finishLocked(messageID string) {
	c.phase = PhaseIdle
	c.lastFinalized = messageID
	c.messageID = ""
	c.buf.Reset()
}

// Finalized reports whether the given message id already completed. Used to
// distinguish duplicate ends from ends for unknown turns.
func (c *Coordinator) Finalized(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return messageID != "" && messageID == c.lastFinalized
}
