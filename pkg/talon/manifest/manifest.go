// Package manifest records scan run history on the filesystem: one JSON
// file per run, listed and pruned by the history subcommand.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talonsec/talon/pkg/talon/types"
)

// ErrNotFound is returned when no run record has the given ID.
var ErrNotFound = errors.New("run record not found")

// RunRecord is the persisted summary of one scan run.
type RunRecord struct {
	ID        string    `json:"id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Root      string    `json:"root"`
	Workers   int       `json:"workers"`
	Producers int       `json:"producers"`

	FilesScanned int64 `json:"files_scanned"`
	DirsScanned  int64 `json:"dirs_scanned"`
	Infected     int64 `json:"infected"`
	ScanErrors   int64 `json:"scan_errors"`
	CacheHits    int64 `json:"cache_hits"`
	Quarantined  int64 `json:"quarantined"`
	Cancelled    bool  `json:"cancelled"`
}

// Manifest manages run records in a directory.
type Manifest struct {
	dir string
	mu  sync.Mutex
}

// New creates a Manifest over dir. The directory is created lazily by
// the first LogRun.
func New(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("manifest directory cannot be empty")
	}
	return &Manifest{dir: dir}, nil
}

// LogRun persists a record built from the given run summary.
func (m *Manifest) LogRun(s *types.Summary, workers, producers int, start time.Time) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}

	rec := &RunRecord{
		ID:           uuid.NewString(),
		Start:        start.UTC(),
		End:          start.Add(s.Elapsed).UTC(),
		Root:         s.Root,
		Workers:      workers,
		Producers:    producers,
		FilesScanned: s.FilesScanned,
		DirsScanned:  s.DirsScanned,
		Infected:     s.Infected,
		ScanErrors:   s.ScanErrors,
		CacheHits:    s.CacheHits,
		Quarantined:  s.Quarantined,
		Cancelled:    s.Cancelled,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.recordPath(rec.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing run record: %w", err)
	}
	return rec, nil
}

// Get returns the record with the given ID.
func (m *Manifest) Get(id string) (*RunRecord, error) {
	data, err := os.ReadFile(m.recordPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt run record %q: %w", id, err)
	}
	return &rec, nil
}

// List returns all records, newest first, capped at limit (0 = all).
func (m *Manifest) List(limit int) ([]RunRecord, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []RunRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		rec, err := m.Get(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Start.After(records[j].Start)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Clean removes records older than retentionDays and returns how many
// were removed.
func (m *Manifest) Clean(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	records, err := m.List(0)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, rec := range records {
		if rec.Start.Before(cutoff) {
			if err := os.Remove(m.recordPath(rec.ID)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

const recordExt = ".json"

func (m *Manifest) recordPath(id string) string {
	return filepath.Join(m.dir, id+recordExt)
}
