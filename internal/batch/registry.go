package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is the durable record of one outstanding remote job. The JSON
// shape of the registry file is the orchestrator's only durable contract:
// a prior run's file must load unchanged.
type Entry struct {
	CreatedAt    time.Time `json:"created_at"`
	RequestCount int       `json:"request_count"`
	Description  string    `json:"description"`
	RemoteFileID string    `json:"remote_file_id"`
	ChunkNum     int       `json:"chunk_num,omitempty"`    // 1-based, multi-chunk only
	TotalChunks  int       `json:"total_chunks,omitempty"` // multi-chunk only
}

// ActiveJob pairs a job id with its registry entry.
type ActiveJob struct {
	JobID string
	Entry Entry
}

// Store persists the set of outstanding jobs across process restarts.
// The registry is the sole source of truth for what is still outstanding;
// every job submitted but not yet retrieved has exactly one entry.
//
// Single-writer: concurrent processes sharing one store are not
// supported.
type Store interface {
	Load() (map[string]Entry, error)
	Save(entries map[string]Entry) error
	Put(jobID string, e Entry) error
	Remove(jobID string) error
	ListActive() ([]ActiveJob, error)
}

// FileStore keeps the registry in a single JSON file, rewriting it in
// full on every mutation. Writes go through a temp file and rename so a
// crash leaves either the old or the new complete state on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at the given path. A missing file reads
// as an empty registry.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the full registry.
func (s *FileStore) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save replaces the full registry.
func (s *FileStore) Save(entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(entries)
}

// Put inserts or replaces one entry.
func (s *FileStore) Put(jobID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[jobID] = e
	return s.write(entries)
}

// Remove deletes one entry. Removing an absent id is a no-op, which keeps
// cleanup idempotent.
func (s *FileStore) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[jobID]; !ok {
		return nil
	}
	delete(entries, jobID)
	return s.write(entries)
}

// ListActive returns all entries ordered by creation time, then id.
func (s *FileStore) ListActive() ([]ActiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}

	active := make([]ActiveJob, 0, len(entries))
	for id, e := range entries {
		active = append(active, ActiveJob{JobID: id, Entry: e})
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].Entry.CreatedAt.Equal(active[j].Entry.CreatedAt) {
			return active[i].Entry.CreatedAt.Before(active[j].Entry.CreatedAt)
		}
		return active[i].JobID < active[j].JobID
	})
	return active, nil
}

// read loads the file without locking. Caller holds the mutex.
func (s *FileStore) read() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry %s is corrupt: %w", s.path, err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}

// write persists the full registry atomically. Caller holds the mutex.
func (s *FileStore) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".batch_state-*.json")
	if err != nil {
		return fmt.Errorf("creating registry temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing registry temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
