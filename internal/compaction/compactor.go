// Package compaction implements the default history compactor: it archives
// the dropped prefix and asks a summarizer for the archived entries' gist.
// Trigger policy and the single-flight guard live in the store; this package
// only owns the archival and summarization mechanics.
package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/reverie-gm/reverie/internal/archive"
	"github.com/reverie-gm/reverie/internal/narrator"
	"github.com/reverie-gm/reverie/internal/store"
)

// Compactor archives old history entries and produces summaries.
type Compactor struct {
	archive    *archive.Store
	summarizer narrator.Summarizer
}

// New creates a compactor. The summarizer may be nil, in which case the
// previous summary is kept and only archival happens.
func New(archiveStore *archive.Store, summarizer narrator.Summarizer) *Compactor {
	return &Compactor{archive: archiveStore, summarizer: summarizer}
}

// Compact archives all but the last retain entries and summarizes the
// archived prefix. The retained suffix is returned verbatim, order preserved.
func (c *Compactor) Compact(ctx context.Context, adventureID string, entries []store.Entry, retain int) (store.CompactionResult, error) {
	if retain < 0 {
		retain = 0
	}
	if len(entries) <= retain {
		return store.CompactionResult{
			Success:         true,
			RetainedEntries: append([]store.Entry(nil), entries...),
			ArchivePath:     c.archive.Path(),
		}, nil
	}

	cut := len(entries) - retain
	archived := entries[:cut]
	retained := append([]store.Entry(nil), entries[cut:]...)

	// Archive first: losing narrative text is worse than archiving it twice,
	// and archive inserts are idempotent per entry id.
	if err := c.archive.AppendEntries(ctx, adventureID, archived); err != nil {
		return store.CompactionResult{}, fmt.Errorf("archive entries: %w", err)
	}

	var summary *store.Summary
	if c.summarizer != nil {
		text, err := c.summarizer.Summarize(ctx, archived)
		if err != nil {
			return store.CompactionResult{}, fmt.Errorf("summarize archived entries: %w", err)
		}
		summary = &store.Summary{
			Text:            text,
			EntriesArchived: len(archived),
			UpdatedAt:       time.Now().UTC(),
		}
	}

	return store.CompactionResult{
		Success:         true,
		RetainedEntries: retained,
		Summary:         summary,
		EntriesArchived: len(archived),
		ArchivePath:     c.archive.Path(),
	}, nil
}
