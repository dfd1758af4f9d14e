// Package statestore persists experiment records to a single JSON file.
//
// Every mutation rewrites the full mapping under one process-wide lock, so
// concurrent run workers serialize here. Writes go to a temporary file that
// is renamed over the target, keeping the mapping intact if the process
// dies mid-write. The in-memory copy is authoritative for the lifetime of
// the process; a failed write is reported to the caller and retried
// implicitly by the next mutation.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
)

// Store is a durable mapping from experiment ID to record.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[domain.ExperimentID]*domain.ExperimentRecord
}

// New opens the store at path. A missing or corrupt file yields an empty
// store rather than an error; the first successful write replaces it.
func New(path string) *Store {
	s := &Store{
		path:    path,
		records: make(map[domain.ExperimentID]*domain.ExperimentRecord),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read state file, starting empty", "path", path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		logger.Warn("corrupt state file, starting empty", "path", path, "error", err)
		s.records = make(map[domain.ExperimentID]*domain.ExperimentRecord)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the record for id, or nil if absent.
func (s *Store) Get(id domain.ExperimentID) *domain.ExperimentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// All returns a copy of every record keyed by experiment ID.
func (s *Store) All() map[domain.ExperimentID]*domain.ExperimentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ExperimentID]*domain.ExperimentRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out
}

// Upsert stores a copy of rec under id and rewrites the backing file.
func (s *Store) Upsert(id domain.ExperimentID, rec *domain.ExperimentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec.Clone()
	return s.save()
}

// SetStatus overwrites only the status of an existing record. This is the
// stop-request path: a different goroutine than the run's worker flips the
// status to stopped, and the worker notices on its next poll tick.
func (s *Store) SetStatus(id domain.ExperimentID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("no experiment %s", id)
	}
	rec.Status = status
	return s.save()
}

// Update applies fn to the record for id under the store lock and rewrites
// the backing file. Run workers use this for poll-tick refreshes so they
// cannot overwrite a stop flag flipped by SetStatus between their read and
// their write.
func (s *Store) Update(id domain.ExperimentID, fn func(*domain.ExperimentRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("no experiment %s", id)
	}
	fn(rec)
	return s.save()
}

// Delete removes the record for id and rewrites the backing file.
func (s *Store) Delete(id domain.ExperimentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("no experiment %s", id)
	}
	delete(s.records, id)
	return s.save()
}

// save rewrites the whole mapping. Caller must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
