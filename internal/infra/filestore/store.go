// Package filestore keeps task records in a single JSON file keyed by world.
//
// Every write rewrites the whole file through a temp file and a rename, so a
// crash leaves either the previous contents or the new ones.
package filestore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

const (
	dataVersion = 1
	// FileName is the default file name inside the data dir.
	FileName = "tasks.json"
)

// dataset keeps records undecoded so that one bad entry neither hides nor
// erases the others when the file is rewritten.
type dataset struct {
	Version int                        `json:"version"`
	Updated time.Time                  `json:"updated"`
	Tasks   map[string]json.RawMessage `json:"tasks"`
}

func (ds *dataset) record(world string) (domain.TaskRecord, bool, error) {
	raw, ok := ds.Tasks[world]
	if !ok {
		return domain.TaskRecord{}, false, nil
	}
	var rec domain.TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TaskRecord{}, true, fmt.Errorf("%w: %s: %v", domain.ErrMalformedRecord, world, err)
	}
	rec.World = world
	return rec, true, nil
}

// Store is a domain.TaskStore backed by one JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

var _ domain.TaskStore = (*Store)(nil)

// Open returns a Store bound to path, creating its directory.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("task file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating task file dir: %w", err)
	}
	// Leftover from a write that crashed before its rename.
	_ = os.Remove(path + ".tmp")
	return &Store{path: path}, nil
}

// Path returns the storage file path.
func (s *Store) Path() string { return s.path }

// Save replaces the record for rec.World.
func (s *Store) Save(rec domain.TaskRecord) error {
	if rec.World == "" {
		return domain.ErrEmptyWorld
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", rec.World, err)
	}
	ds.Tasks[rec.World] = raw
	return s.writeUnlocked(ds)
}

// Load returns the record for one world.
func (s *Store) Load(world string) (domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.loadUnlocked()
	if err != nil {
		return domain.TaskRecord{}, err
	}
	rec, ok, err := ds.record(world)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if !ok {
		return domain.TaskRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, world)
	}
	return rec, nil
}

// LoadAll returns the resumable records sorted by world. Malformed records
// are logged and skipped.
func (s *Store) LoadAll() ([]domain.TaskRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []domain.TaskRecord
	for _, rec := range all {
		if !rec.Resumable() {
			continue
		}
		if err := rec.Validate(); err != nil {
			log.Printf("[store] WARNING: skipping record for %q: %v", rec.World, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns every record sorted by world. Entries that do not decode are
// logged and skipped.
func (s *Store) List() ([]domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.loadUnlocked()
	if err != nil {
		return nil, err
	}
	out := make([]domain.TaskRecord, 0, len(ds.Tasks))
	for world := range ds.Tasks {
		rec, _, err := ds.record(world)
		if err != nil {
			log.Printf("[store] WARNING: skipping record: %v", err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].World < out[j].World })
	return out, nil
}

// Delete removes the record for a world.
func (s *Store) Delete(world string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	if _, ok := ds.Tasks[world]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, world)
	}
	delete(ds.Tasks, world)
	return s.writeUnlocked(ds)
}

// Close is a no-op; every write is already durable.
func (s *Store) Close() error { return nil }

func (s *Store) loadUnlocked() (*dataset, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &dataset{Version: dataVersion, Tasks: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var ds dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%w: parsing task file: %v", domain.ErrMalformedRecord, err)
	}
	if ds.Tasks == nil {
		ds.Tasks = map[string]json.RawMessage{}
	}
	return &ds, nil
}

func (s *Store) writeUnlocked(ds *dataset) error {
	ds.Version = dataVersion
	ds.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task file: %w", err)
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing temp task file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp task file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp task file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp task file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task file: %w", err)
	}
	return nil
}
