package store

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-gm/reverie/internal/logger"
)

// Adventure is a loaded adventure. All mutators atomically persist on
// success, leaving state.json and history.json mutually consistent with the
// in-memory object.
//
// The mutex serializes foreground mutations and the background compaction
// write-back; holding it around read-combine-persist is what keeps a
// compaction result computed against an older snapshot from clobbering a
// newer append.
type Adventure struct {
	store *Store
	dir   string

	mu         sync.Mutex
	state      State
	history    History
	nextSeq    int64
	compacting bool

	bg sync.WaitGroup
}

// ID returns the adventure id.
func (a *Adventure) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.ID
}

// SessionToken returns the adventure's session token.
func (a *Adventure) SessionToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.SessionToken
}

// Snapshot returns deep copies of the current state and history.
func (a *Adventure) Snapshot() (State, History) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Adventure) snapshotLocked() (State, History) {
	state := a.state
	state.Panels = append([]Panel(nil), a.state.Panels...)
	history := History{Entries: append([]Entry(nil), a.history.Entries...)}
	if a.history.Summary != nil {
		s := *a.history.Summary
		history.Summary = &s
	}
	return state, history
}

// Panels returns all panels, including ephemeral ones that will not survive
// a save.
func (a *Adventure) Panels() []Panel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Panel(nil), a.state.Panels...)
}

// reload revalidates the token for an already-live handle.
func (a *Adventure) reload(token string) (*Adventure, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !tokenEqual(a.state.SessionToken, token) {
		return nil, ErrInvalidToken
	}
	if err := a.saveLocked(); err != nil {
		return nil, err
	}
	a.maybeCompactLocked()
	return a, nil
}

func tokenEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// AppendHistory appends one immutable narrative entry and persists. The
// returned entry carries its assigned id and sequence number.
func (a *Adventure) AppendHistory(entryType EntryType, content string) (Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Seq:       a.nextSeq,
		Timestamp: time.Now().UTC(),
		Type:      entryType,
		Content:   content,
	}
	a.nextSeq++
	a.history.Entries = append(a.history.Entries, entry)

	if err := a.saveLocked(); err != nil {
		// Roll back the in-memory append so memory and disk stay consistent.
		a.history.Entries = a.history.Entries[:len(a.history.Entries)-1]
		a.nextSeq--
		return Entry{}, err
	}

	a.maybeCompactLocked()
	return entry, nil
}

// SetTheme replaces the adventure theme and persists.
func (a *Adventure) SetTheme(theme Theme) error {
	return a.mutate(func() { a.state.Theme = theme })
}

// SetSceneDescription replaces the current scene prompt and persists.
func (a *Adventure) SetSceneDescription(description string) error {
	return a.mutate(func() { a.state.Scene.Description = description })
}

// SetXPStyle sets the experience style and persists.
func (a *Adventure) SetXPStyle(style string) error {
	return a.mutate(func() { a.state.XPStyle = style })
}

// SetPlayerRef sets the relative path of the player character document.
func (a *Adventure) SetPlayerRef(ref *string) error {
	return a.mutate(func() { a.state.PlayerRef = ref })
}

// SetWorldRef sets the relative path of the world document.
func (a *Adventure) SetWorldRef(ref *string) error {
	return a.mutate(func() { a.state.WorldRef = ref })
}

// SetAgentSessionID records the narrator continuity id.
func (a *Adventure) SetAgentSessionID(sessionID string) error {
	return a.mutate(func() { a.state.AgentSessionID = &sessionID })
}

// ClearAgentSession drops the narrator continuity id so the next turn starts
// a fresh narrator session.
func (a *Adventure) ClearAgentSession() error {
	return a.mutate(func() { a.state.AgentSessionID = nil })
}

// SetPanels replaces the panel list. Only persistent panels are written to
// disk; ephemeral ones remain visible through Panels until the handle goes
// away.
func (a *Adventure) SetPanels(panels []Panel) error {
	return a.mutate(func() { a.state.Panels = append([]Panel(nil), panels...) })
}

func (a *Adventure) mutate(apply func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	apply()
	return a.saveLocked()
}

// saveLocked writes the persisted projection of state and history, each via
// write-to-temp-then-rename. Both temp files are written before either rename
// so a failure in either write leaves the committed files untouched. Any
// temp files created are removed (best effort) on failure.
func (a *Adventure) saveLocked() error {
	a.state.LastActiveAt = time.Now().UTC()

	persisted := a.state
	persisted.Panels = persistentPanels(a.state.Panels)

	stateRaw, err := json.MarshalIndent(stateDocument{Version: stateSchemaVersion, State: persisted}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	historyRaw, err := json.MarshalIndent(historyDocument{
		Version: historySchemaVersion,
		NextSeq: a.nextSeq,
		Entries: a.history.Entries,
		Summary: a.history.Summary,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	stateTmp := filepath.Join(a.dir, "."+stateFileName+".tmp")
	historyTmp := filepath.Join(a.dir, "."+historyFileName+".tmp")

	cleanup := func() {
		_ = os.Remove(stateTmp)
		_ = os.Remove(historyTmp)
	}

	if err := os.WriteFile(stateTmp, stateRaw, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.WriteFile(historyTmp, historyRaw, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("write history temp: %w", err)
	}
	if err := os.Rename(stateTmp, filepath.Join(a.dir, stateFileName)); err != nil {
		cleanup()
		return fmt.Errorf("commit state: %w", err)
	}
	if err := os.Rename(historyTmp, filepath.Join(a.dir, historyFileName)); err != nil {
		cleanup()
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

func persistentPanels(panels []Panel) []Panel {
	out := make([]Panel, 0, len(panels))
	for _, p := range panels {
		if p.Persistent {
			out = append(out, p)
		}
	}
	return out
}

// maybeCompactLocked evaluates the compaction threshold and, if exceeded,
// starts compaction as a detached background task. A second breach while a
// run is in flight is a no-op.
func (a *Adventure) maybeCompactLocked() {
	if a.store.compactor == nil || a.store.threshold <= 0 || a.compacting {
		return
	}

	total := 0
	for _, e := range a.history.Entries {
		total += len(e.Content)
	}
	if total < a.store.threshold {
		return
	}

	a.compacting = true
	snapshot := append([]Entry(nil), a.history.Entries...)
	snapshotSeq := a.nextSeq - 1

	a.bg.Add(1)
	go a.runCompaction(snapshot, snapshotSeq)
}

func (a *Adventure) runCompaction(snapshot []Entry, snapshotSeq int64) {
	defer a.bg.Done()

	id := a.state.ID
	result, err := a.store.compactor.Compact(context.Background(), id, snapshot, a.store.retain)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.compacting = false

	// A failed compaction never touches the history.
	if err != nil {
		logger.Warnf("[store] compaction failed for %s: %v", id, err)
		return
	}
	if !result.Success {
		logger.Warnf("[store] compaction unsuccessful for %s: %s", id, result.Err)
		return
	}

	// Merge by append sequence: entries appended after the snapshot was taken
	// are carried over behind the retained set, preserving order.
	merged := append([]Entry(nil), result.RetainedEntries...)
	for _, e := range a.history.Entries {
		if e.Seq > snapshotSeq {
			merged = append(merged, e)
		}
	}
	a.history.Entries = merged
	if result.Summary != nil {
		a.history.Summary = result.Summary
	}

	if err := a.saveLocked(); err != nil {
		logger.Errorf("[store] persisting compaction result for %s: %v", id, err)
		return
	}
	logger.Infof("[store] compacted %s: archived=%d retained=%d", id, result.EntriesArchived, len(result.RetainedEntries))
}

// WaitBackground blocks until any in-flight background compaction has
// finished. It is the deterministic join point for shutdown and tests.
func (a *Adventure) WaitBackground() {
	a.bg.Wait()
}

// Close waits for background work and releases the live handle so a later
// Load re-reads from disk.
func (a *Adventure) Close() {
	a.bg.Wait()
	a.store.forget(a.ID())
}
