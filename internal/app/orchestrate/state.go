package orchestrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// Run statuses tracked in the ledger.
const (
	RunStatusSubmitted   = "submitted"
	RunStatusLogShipping = "log-shipping"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
)

// RunRecord is a persisted record of one submitted migration. The ledger is
// what lets a later invocation find the handle instead of submitting twice.
type RunRecord struct {
	ID        string           `json:"id"`
	Mode      migration.Mode   `json:"mode"`
	Handle    migration.Handle `json:"handle"`
	Artifacts []string         `json:"artifacts,omitempty"`
	JobName   string           `json:"job_name,omitempty"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Live reports whether the run may still be progressing remotely.
func (r *RunRecord) Live() bool {
	return r.Status == RunStatusSubmitted || r.Status == RunStatusLogShipping
}

// RunStore manages persistent storage of migration runs.
type RunStore struct {
	mu       sync.RWMutex
	filePath string
	runs     map[string]*RunRecord
}

// NewRunStore creates a run store.
// If path is empty, defaults to ~/.sqlferry/runs.json
func NewRunStore(path string) (*RunStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		path = filepath.Join(home, ".sqlferry", "runs.json")
	}

	store := &RunStore{
		filePath: path,
		runs:     make(map[string]*RunRecord),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	return store, nil
}

// Save persists a new run record and assigns its ID.
func (s *RunStore) Save(rec *RunRecord) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec.ID = uuid.New().String()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = RunStatusSubmitted
	}

	s.runs[rec.ID] = rec

	if err := s.persist(); err != nil {
		delete(s.runs, rec.ID)
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	return rec, nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return rec, nil
}

// List returns all runs, newest first.
func (s *RunStore) List() []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// FindLive returns the most recent live run for the given target, or nil.
func (s *RunStore) FindLive(t migration.Target) *RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *RunRecord
	for _, rec := range s.runs {
		if !rec.Live() || rec.Handle.Target != t {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = rec
		}
	}
	return found
}

// UpdateStatus transitions a run to a new status.
func (s *RunStore) UpdateStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}

	rec.Status = status
	rec.UpdatedAt = time.Now()

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to persist status update: %w", err)
	}
	return nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("run not found: %s", id)
	}

	delete(s.runs, id)

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to persist after delete: %w", err)
	}
	return nil
}

// load reads runs from disk.
func (s *RunStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var runs map[string]*RunRecord
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("failed to unmarshal runs: %w", err)
	}

	s.runs = runs
	return nil
}

// persist writes runs to disk.
func (s *RunStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal runs: %w", err)
	}

	// Write atomically via temp file
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// FilePath returns the storage file path.
func (s *RunStore) FilePath() string {
	return s.filePath
}
