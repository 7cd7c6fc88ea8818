// Package quarantine isolates infected files. An isolated file is moved
// out of its original location into the quarantine directory under a
// generated ID, stripped of execute permission, with a JSON sidecar
// recording where it came from and what was found in it.
package quarantine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no quarantined entry has the given ID.
var ErrNotFound = errors.New("quarantine entry not found")

// Record describes one quarantined file.
type Record struct {
	// ID names the entry inside the quarantine directory.
	ID string `json:"id"`

	// OriginalPath is where the file lived before isolation.
	OriginalPath string `json:"original_path"`

	// Threat is the engine's threat name.
	Threat string `json:"threat"`

	// Size is the file size at isolation time.
	Size int64 `json:"size"`

	// Time is when the file was isolated.
	Time time.Time `json:"time"`
}

// Store manages a quarantine directory.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the quarantine directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("quarantine directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the quarantine directory path.
func (s *Store) Dir() string { return s.dir }

// Isolate moves path into quarantine and writes its sidecar record.
// The move works across filesystems by falling back to copy-and-remove.
func (s *Store) Isolate(path, threat string) (*Record, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot quarantine %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("cannot quarantine %q: not a regular file", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", path, err)
	}

	rec := &Record{
		ID:           uuid.NewString(),
		OriginalPath: abs,
		Threat:       threat,
		Size:         info.Size(),
		Time:         time.Now().UTC(),
	}
	dst := filepath.Join(s.dir, rec.ID)

	if err := movePath(abs, dst); err != nil {
		return nil, fmt.Errorf("moving %q to quarantine: %w", abs, err)
	}

	// Neutralize the isolated copy.
	_ = os.Chmod(dst, 0o400)

	if err := s.writeRecord(rec); err != nil {
		// Sidecar failure must not leave the file stranded unnamed;
		// move it back and report.
		_ = movePath(dst, abs)
		return nil, err
	}
	return rec, nil
}

// Restore moves a quarantined file back to its original path.
func (s *Store) Restore(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	src := filepath.Join(s.dir, rec.ID)
	if err := movePath(src, rec.OriginalPath); err != nil {
		return fmt.Errorf("restoring %q: %w", rec.OriginalPath, err)
	}
	_ = os.Chmod(rec.OriginalPath, 0o644)
	return os.Remove(s.sidecarPath(rec.ID))
}

// Delete permanently removes a quarantined file and its record.
func (s *Store) Delete(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, rec.ID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Remove(s.sidecarPath(rec.ID))
}

// Get returns the record for a quarantined entry.
func (s *Store) Get(id string) (*Record, error) {
	data, err := os.ReadFile(s.sidecarPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt quarantine record %q: %w", id, err)
	}
	return &rec, nil
}

// List returns all quarantine records, newest first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sidecarExt) {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(name, sidecarExt))
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Time.After(records[j].Time)
	})
	return records, nil
}

const sidecarExt = ".json"

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.dir, id+sidecarExt)
}

func (s *Store) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.sidecarPath(rec.ID), data, 0o600)
}

// movePath renames src to dst, falling back to copy-and-remove when the
// rename crosses filesystems.
func movePath(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
