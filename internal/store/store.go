// Package store persists session records as a single JSON file, rewritten
// atomically on every mutating event. Records survive process restarts; an
// independent sweep purges entries whose last activity is older than 24h,
// defending against records orphaned by an unclean shutdown.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gamedeck/panel/backend/internal/terminal"
)

const (
	fileName = "sessions.json"

	// DefaultMaxAge is how long a record may sit untouched before the
	// sweep purges it.
	DefaultMaxAge = 24 * time.Hour

	// DefaultSweepInterval is how often the sweep runs.
	DefaultSweepInterval = time.Hour
)

// Store is a file-backed terminal.RecordStore.
type Store struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	records map[string]terminal.PersistedRecord

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open loads (or creates) the record file under dir and starts the expiry
// sweep.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		path:    filepath.Join(dir, fileName),
		log:     log,
		records: make(map[string]terminal.PersistedRecord),
		stop:    make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s, nil
}

// Upsert writes or replaces a record and rewrites the file.
func (s *Store) Upsert(rec terminal.PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return s.flushLocked()
}

// Delete removes a record and rewrites the file. Unknown ids are a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	return s.flushLocked()
}

// List returns all records ordered by creation time.
func (s *Store) List() ([]terminal.PersistedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]terminal.PersistedRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Sweep purges records whose last activity is older than maxAge and reports
// how many were removed.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.LastActivity.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		if err := s.flushLocked(); err != nil {
			s.log.Warn("failed to rewrite store after sweep", zap.Error(err))
		}
	}
	return removed
}

// Close stops the sweep goroutine. The record file stays on disk.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(DefaultMaxAge); n > 0 {
				s.log.Info("swept expired session records", zap.Int("removed", n))
			}
		}
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read session records: %w", err)
	}

	var recs []terminal.PersistedRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		// A corrupt file is not fatal: start fresh rather than refuse to boot.
		s.log.Warn("discarding unreadable session record file", zap.Error(err))
		return nil
	}

	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
	return nil
}

// flushLocked rewrites the whole file through a temp-file rename so readers
// never observe a partial write.
func (s *Store) flushLocked() error {
	recs := make([]terminal.PersistedRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session records: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session records: %w", err)
	}
	return os.Rename(tmp, s.path)
}
