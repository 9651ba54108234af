// Package store owns the on-disk representation of adventures: atomic writes,
// crash safety, schema migration and path-traversal defense.
//
// The package has a deliberate two-state design: a Store can only create or
// load adventures; every mutator lives on the *Adventure handle a successful
// Create or Load returns, so "mutate before load" is unrepresentable.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-gm/reverie/internal/crypto"
)

const (
	stateFileName   = "state.json"
	historyFileName = "history.json"
)

// Options configures a Store.
type Options struct {
	// BaseDir is the root directory holding one subdirectory per adventure.
	BaseDir string
	// CompactionThreshold is the total history character count at which
	// background compaction triggers. Zero disables compaction.
	CompactionThreshold int
	// CompactionRetain is the entry count handed to the compactor as the
	// retention target.
	CompactionRetain int
	// Compactor runs history compaction. Nil disables compaction.
	Compactor Compactor
}

// Store creates and loads adventures. It hands out at most one live
// *Adventure per adventure id so the per-adventure single-flight compaction
// guard and the save path stay effective.
type Store struct {
	baseDir   string
	threshold int
	retain    int
	compactor Compactor

	mu     sync.Mutex
	loaded map[string]*Adventure
}

// New creates a store rooted at opts.BaseDir, creating the directory
// owner-only if needed.
func New(opts Options) (*Store, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	absBase, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	if err := os.MkdirAll(absBase, 0o700); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	return &Store{
		baseDir:   absBase,
		threshold: opts.CompactionThreshold,
		retain:    opts.CompactionRetain,
		compactor: opts.Compactor,
		loaded:    make(map[string]*Adventure),
	}, nil
}

// Create provisions a new adventure. An empty id generates a fresh one.
// Returns ErrInvalidID if a caller-supplied id fails the allow-list check.
func (s *Store) Create(id string) (*Adventure, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	dir, err := securePath(s.baseDir, id)
	if err != nil {
		return nil, ErrInvalidID
	}
	if _, err := os.Stat(filepath.Join(dir, stateFileName)); err == nil {
		return nil, fmt.Errorf("adventure %s already exists", id)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create adventure dir: %w", err)
	}

	token, err := crypto.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := time.Now().UTC()
	adv := &Adventure{
		store: s,
		dir:   dir,
		state: State{
			ID:           id,
			SessionToken: token,
			CreatedAt:    now,
			LastActiveAt: now,
			Theme:        DefaultTheme,
			Panels:       []Panel{},
		},
		history: History{Entries: []Entry{}},
		nextSeq: 1,
	}

	adv.mu.Lock()
	err = adv.saveLocked()
	adv.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loaded[id] = adv
	s.mu.Unlock()
	return adv, nil
}

// Load validates the id and token and returns the adventure handle.
//
// Error taxonomy: ErrNotFound for invalid ids and missing adventures alike,
// *CorruptedError for unparseable files (with the offending path), and
// ErrInvalidToken on token mismatch. A wrong token never yields any state.
//
// If the history length exceeds the compaction threshold, compaction starts
// as a detached background task; Load does not wait for it.
func (s *Store) Load(id, token string) (*Adventure, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	existing := s.loaded[id]
	s.mu.Unlock()
	if existing != nil {
		return existing.reload(token)
	}

	dir, err := securePath(s.baseDir, id)
	if err != nil {
		return nil, ErrNotFound
	}

	statePath := filepath.Join(dir, stateFileName)
	stateRaw, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var stateDoc stateDocument
	if err := json.Unmarshal(stateRaw, &stateDoc); err != nil {
		return nil, &CorruptedError{Path: statePath, Err: err}
	}
	migrateState(&stateDoc)

	if !tokenEqual(stateDoc.SessionToken, token) {
		// The parsed state goes out of scope here and is never handed to the
		// caller in any form.
		return nil, ErrInvalidToken
	}

	historyPath := filepath.Join(dir, historyFileName)
	var historyDoc historyDocument
	historyRaw, err := os.ReadFile(historyPath)
	switch {
	case os.IsNotExist(err):
		// Valid for brand-new adventures.
	case err != nil:
		return nil, fmt.Errorf("read history: %w", err)
	default:
		if err := json.Unmarshal(historyRaw, &historyDoc); err != nil {
			return nil, &CorruptedError{Path: historyPath, Err: err}
		}
	}
	migrateHistory(&historyDoc)

	adv := &Adventure{
		store:   s,
		dir:     dir,
		state:   stateDoc.State,
		history: History{Entries: historyDoc.Entries, Summary: historyDoc.Summary},
		nextSeq: historyDoc.NextSeq,
	}

	s.mu.Lock()
	s.loaded[id] = adv
	s.mu.Unlock()

	adv.mu.Lock()
	if err := adv.saveLocked(); err != nil {
		adv.mu.Unlock()
		s.forget(id)
		return nil, err
	}
	adv.maybeCompactLocked()
	adv.mu.Unlock()

	return adv, nil
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.loaded, id)
	s.mu.Unlock()
}
