package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/adjutant/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAppendLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entries := []schema.TranscriptEntry{
		{Role: schema.RoleUser, Content: "hello", Timestamp: now},
		{Role: schema.RoleAssistant, Content: "hi there", Timestamp: now.Add(time.Second)},
	}
	if err := store.Append("alice", entries); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two entries, got %d", len(got))
	}
	for i := range entries {
		if got[i].Role != entries[i].Role || got[i].Content != entries[i].Content || !got[i].Timestamp.Equal(entries[i].Timestamp) {
			t.Fatalf("entry %d mismatch:\nwant %+v\ngot  %+v", i, entries[i], got[i])
		}
	}
}

func TestAppendEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Append("alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, "alice", transcriptFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err: %v", err)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	if err := store.Append("alice", []schema.TranscriptEntry{
		{Role: schema.RoleUser, Content: "first", Timestamp: now},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	path := filepath.Join(store.dir, "alice", transcriptFile)
	garbage := "{not-json\n" +
		`{"role":"wizard","content":"bad role","timestamp":"2026-02-01T12:00:00Z"}` + "\n" +
		`{"role":"user","timestamp":"2026-02-01T12:00:00Z"}` + "\n"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString(garbage); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_ = f.Close()
	if err := store.Append("alice", []schema.TranscriptEntry{
		{Role: schema.RoleAssistant, Content: "last", Timestamp: now.Add(time.Second)},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two valid entries, got %d: %+v", len(got), got)
	}
	if got[0].Content != "first" || got[1].Content != "last" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestLoadMissingUserReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Load("nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript, got %+v", got)
	}
}

func TestClearTolerant(t *testing.T) {
	store := newTestStore(t)
	if err := store.Clear("alice"); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if err := store.Append("alice", []schema.TranscriptEntry{
		{Role: schema.RoleUser, Content: "bye", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Clear("alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := store.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("transcript not cleared: %+v", got)
	}
}
