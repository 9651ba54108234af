package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"), crypto.DeriveSealKey("test-secret"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndReadBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []store.Entry{
		{ID: "e1", Seq: 1, Timestamp: time.UnixMilli(1000).UTC(), Type: store.EntryPlayerInput, Content: "go north"},
		{ID: "e2", Seq: 2, Timestamp: time.UnixMilli(2000).UTC(), Type: store.EntryGMResponse, Content: "you reach a river"},
	}
	require.NoError(t, s.AppendEntries(ctx, "adv-1", entries))

	got, err := s.EntriesForAdventure(ctx, "adv-1")
	require.NoError(t, err)
	require.Equal(t, entries, got)

	n, err := s.Count(ctx, "adv-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestAppendIsIdempotentPerEntryID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := []store.Entry{{ID: "e1", Seq: 1, Timestamp: time.UnixMilli(1000).UTC(), Type: store.EntryPlayerInput, Content: "hello"}}
	require.NoError(t, s.AppendEntries(ctx, "adv-1", entry))
	require.NoError(t, s.AppendEntries(ctx, "adv-1", entry))

	n, err := s.Count(ctx, "adv-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestContentSealedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEntries(ctx, "adv-1", []store.Entry{
		{ID: "e1", Seq: 1, Timestamp: time.Now().UTC(), Type: store.EntryGMResponse, Content: "secret treasure map"},
	}))

	var raw []byte
	require.NoError(t, s.db.QueryRow(`SELECT content FROM archived_entries WHERE id = 'e1'`).Scan(&raw))
	require.NotContains(t, string(raw), "treasure")
}

func TestAdventuresAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEntries(ctx, "adv-1", []store.Entry{
		{ID: "e1", Seq: 1, Timestamp: time.Now().UTC(), Type: store.EntryPlayerInput, Content: "a"},
	}))
	require.NoError(t, s.AppendEntries(ctx, "adv-2", []store.Entry{
		{ID: "e2", Seq: 1, Timestamp: time.Now().UTC(), Type: store.EntryPlayerInput, Content: "b"},
	}))

	got, err := s.EntriesForAdventure(ctx, "adv-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e1", got[0].ID)
}
