// Package wire defines the JSON payloads exchanged over a session connection.
//
// Every frame is a small envelope with a type tag and a type-specific payload.
// The payload types are shared by the server and the Go client so the two
// sides cannot drift apart.
package wire

import (
	"encoding/json"
	"fmt"
)

// Client -> server frame types.
const (
	TypeAuthenticate = "authenticate"
	TypePlayerInput  = "player_input"
	TypePing         = "ping"
	TypeAbort        = "abort"
	TypeRecap        = "recap"
)

// Server -> client frame types.
const (
	TypeAdventureLoaded = "adventure_loaded"
	TypeResponseStart   = "gm_response_start"
	TypeResponseChunk   = "gm_response_chunk"
	TypeResponseEnd     = "gm_response_end"
	TypeError           = "error"
	TypeToolStatus      = "tool_status"
	TypePong            = "pong"
	TypeRecapStarted    = "recap_started"
	TypeRecapComplete   = "recap_complete"
	TypeRecapError      = "recap_error"
	TypeThemeChange     = "theme_change"
)

// Error codes carried by ErrorPayload.
const (
	CodeAdventureNotFound = "ADVENTURE_NOT_FOUND"
	CodeInvalidSession    = "INVALID_SESSION"
	CodeTurnFailed        = "TURN_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeProcessingTimeout = "PROCESSING_TIMEOUT"
)

// Envelope is a single protocol frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload in an envelope of the given type.
func NewEnvelope(frameType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: frameType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return Envelope{Type: frameType, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("frame %q has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthenticatePayload opens a session for one adventure. Token is either the
// adventure's session token or a server-issued connection ticket.
type AuthenticatePayload struct {
	Token       string `json:"token"`
	AdventureID string `json:"adventureId"`
}

// PlayerInputPayload submits one player turn.
type PlayerInputPayload struct {
	Text string `json:"text"`
}

// HistoryEntry is the wire projection of one narrative entry.
type HistoryEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// AdventureLoadedPayload is the full re-sync sent after authentication.
type AdventureLoadedPayload struct {
	AdventureID string         `json:"adventureId"`
	History     []HistoryEntry `json:"history"`
	Summary     *string        `json:"summary,omitempty"`
}

// ResponseStartPayload announces a new streaming turn.
type ResponseStartPayload struct {
	MessageID string `json:"messageId"`
}

// ResponseChunkPayload carries one increment of narrator output.
type ResponseChunkPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// ResponseEndPayload terminates a streaming turn.
type ResponseEndPayload struct {
	MessageID string `json:"messageId"`
}

// ErrorPayload is a protocol-level error surfaced to the client.
type ErrorPayload struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Retryable        bool   `json:"retryable"`
	TechnicalDetails string `json:"technicalDetails,omitempty"`
}

// ToolStatusPayload reports narrator tool activity (dice rolls, lookups).
type ToolStatusPayload struct {
	State       string `json:"state"`
	Description string `json:"description"`
}

// RecapCompletePayload carries a freshly generated recap plus the history it
// covers.
type RecapCompletePayload struct {
	History []HistoryEntry `json:"history"`
	Summary *string        `json:"summary,omitempty"`
}

// RecapErrorPayload reports a failed recap request.
type RecapErrorPayload struct {
	Reason string `json:"reason"`
}

// ThemeChangePayload announces the current visual/mood theme.
type ThemeChangePayload struct {
	Mood               string `json:"mood"`
	Genre              string `json:"genre"`
	Region             string `json:"region"`
	BackgroundURL      string `json:"backgroundUrl"`
	TransitionDuration int    `json:"transitionDuration,omitempty"`
}
