package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "batch_state.json"))
}

func TestFileStoreMissingFileReadsEmpty(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(entries))
	}

	// an empty file reads the same way
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	entries, err = s.Load()
	if err != nil {
		t.Fatalf("unexpected error on empty file: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty registry from empty file, got %d entries", len(entries))
	}
}

func TestFileStorePutLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	entry := Entry{
		CreatedAt:    created,
		RequestCount: 25,
		Description:  "lp metadata (chunk 1/3)",
		RemoteFileID: "file-abc",
		ChunkNum:     1,
		TotalChunks:  3,
	}

	if err := s.Put("batch_123", entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := entries["batch_123"]
	if !ok {
		t.Fatal("expected batch_123 in registry")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if got.RequestCount != 25 || got.Description != entry.Description || got.RemoteFileID != "file-abc" {
		t.Errorf("entry did not round-trip: %+v", got)
	}
	if got.ChunkNum != 1 || got.TotalChunks != 3 {
		t.Errorf("chunk fields did not round-trip: %+v", got)
	}
}

// The on-disk schema is the orchestrator's durable contract: a prior
// run's file must load unchanged, so the keys are pinned here.
func TestFileStoreDurableShape(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("batch_123", Entry{
		CreatedAt:    time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		RequestCount: 10,
		Description:  "test run",
		RemoteFileID: "file-abc",
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatalf("read registry file: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("registry file is not valid JSON: %v", err)
	}
	rec := decoded["batch_123"]
	for _, key := range []string{"created_at", "request_count", "description", "remote_file_id"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("expected key %s in durable entry", key)
		}
	}
	ts, _ := rec["created_at"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("expected RFC3339 created_at, got %q", ts)
	}
	if _, ok := rec["chunk_num"]; ok {
		t.Error("expected chunk_num omitted for a single-chunk entry")
	}
}

func TestFileStoreRemoveIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("batch_1", Entry{CreatedAt: time.Now().UTC(), RequestCount: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.Remove("batch_1"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := s.Remove("batch_1"); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}
	if err := s.Remove("never_existed"); err != nil {
		t.Errorf("removing an unknown id should be a no-op, got %v", err)
	}

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty registry after removal, got %d entries", len(entries))
	}
}

func TestFileStoreListActiveSorted(t *testing.T) {
	s := newTestStore(t)
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Put("batch_b", Entry{CreatedAt: late}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("batch_z", Entry{CreatedAt: early}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("batch_a", Entry{CreatedAt: early}); err != nil {
		t.Fatalf("put: %v", err)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"batch_a", "batch_z", "batch_b"}
	if len(active) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(active))
	}
	for i, aj := range active {
		if aj.JobID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], aj.JobID)
		}
	}
}

func TestFileStoreSaveReplaces(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("old", Entry{CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.Save(map[string]Entry{"new": {CreatedAt: time.Now().UTC(), RequestCount: 2}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := entries["old"]; ok {
		t.Error("expected save to drop entries not in the new map")
	}
	if _, ok := entries["new"]; !ok {
		t.Error("expected save to write the new entry")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := s.Load()
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("expected corrupt-registry error, got %v", err)
	}
}

// Every mutation rewrites the file in full, so the file on disk is
// always complete valid JSON between operations.
func TestFileStoreFileValidAfterEveryPut(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"batch_1", "batch_2", "batch_3"} {
		if err := s.Put(id, Entry{CreatedAt: time.Now().UTC(), RequestCount: i + 1}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
		raw, err := os.ReadFile(s.path)
		if err != nil {
			t.Fatalf("read after put %s: %v", id, err)
		}
		var decoded map[string]Entry
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("file invalid after put %s: %v", id, err)
		}
		if len(decoded) != i+1 {
			t.Errorf("expected %d entries after put %s, got %d", i+1, id, len(decoded))
		}
	}
}
