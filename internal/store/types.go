package store

import (
	"context"
	"time"
)

// EntryType distinguishes the two kinds of narrative entries.
type EntryType string

const (
	EntryPlayerInput EntryType = "player_input"
	EntryGMResponse  EntryType = "gm_response"
)

// Entry is one immutable unit of story text.
//
// Seq is a per-adventure monotonic append counter. It is what lets a
// compaction result computed against an older snapshot be merged without
// losing entries appended while the compactor ran.
type Entry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Content   string    `json:"content"`
}

// Summary is the archived-history gist produced by compaction.
type Summary struct {
	Text            string    `json:"text"`
	EntriesArchived int       `json:"entriesArchived"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// History is the ordered narrative record of one adventure.
type History struct {
	Entries []Entry  `json:"entries"`
	Summary *Summary `json:"summary,omitempty"`
}

// Scene describes the current scene.
type Scene struct {
	Description string `json:"description"`
}

// Theme is the adventure's visual/mood theme.
type Theme struct {
	Mood          string `json:"mood"`
	Genre         string `json:"genre"`
	Region        string `json:"region"`
	BackgroundURL string `json:"backgroundUrl"`
}

// Panel is an auxiliary information block surfaced to the client UI. Only
// persistent panels survive a save.
type Panel struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	Persistent bool   `json:"persistent"`
}

// State is the durable adventure state.
type State struct {
	ID             string    `json:"id"`
	SessionToken   string    `json:"sessionToken"`
	AgentSessionID *string   `json:"agentSessionId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActiveAt   time.Time `json:"lastActiveAt"`
	Scene          Scene     `json:"currentScene"`
	Theme          Theme     `json:"currentTheme"`
	PlayerRef      *string   `json:"playerRef,omitempty"`
	WorldRef       *string   `json:"worldRef,omitempty"`
	XPStyle        string    `json:"xpStyle,omitempty"`
	Panels         []Panel   `json:"panels"`
}

// CompactionResult is what a compactor returns.
type CompactionResult struct {
	Success         bool
	RetainedEntries []Entry
	Summary         *Summary
	EntriesArchived int
	ArchivePath     string
	Err             string
}

// Compactor archives a prefix of the history and summarizes it. It is an
// external collaborator; the store only owns the trigger policy, the
// single-flight guard and the result merge.
type Compactor interface {
	Compact(ctx context.Context, adventureID string, entries []Entry, retain int) (CompactionResult, error)
}
