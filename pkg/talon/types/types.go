// Package types provides the core data types for the talon file scanner:
// scan tasks, engine verdicts, run summaries, and size formatting helpers.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// MaxPathLen bounds the path carried by a task. Matches PATH_MAX on
// Linux; paths longer than this are rejected at construction.
const MaxPathLen = 4096

// TaskKind identifies what a task asks a process loop to do.
type TaskKind int

const (
	// TaskNone is the zero value; queues treat it as "no task".
	TaskNone TaskKind = iota

	// TaskScanDirectory asks a producer to enumerate a directory.
	TaskScanDirectory

	// TaskScanFile asks a worker to scan a regular file.
	TaskScanFile

	// TaskExit is a poison pill telling a long-lived pool member to
	// stop. Used by watch mode; the batch scheduler shuts down via the
	// status word instead.
	TaskExit
)

// String returns a short name for the task kind.
func (k TaskKind) String() string {
	switch k {
	case TaskScanDirectory:
		return "dir"
	case TaskScanFile:
		return "file"
	case TaskExit:
		return "exit"
	default:
		return "none"
	}
}

// Task construction errors.
var (
	ErrEmptyPath   = errors.New("task path is empty")
	ErrPathTooLong = errors.New("task path exceeds maximum length")
)

// Task is one unit of work. Tasks are immutable values: they are copied
// into and out of queues, never shared by pointer.
type Task struct {
	Kind TaskKind
	Path string
}

// NewTask builds a task, validating the path bound. Overlong paths are
// a hard error rather than a silent truncation.
func NewTask(kind TaskKind, path string) (Task, error) {
	if kind != TaskExit && path == "" {
		return Task{}, ErrEmptyPath
	}
	if len(path) > MaxPathLen {
		return Task{}, fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}
	return Task{Kind: kind, Path: path}, nil
}

// ExitTask returns the poison-pill task.
func ExitTask() Task {
	return Task{Kind: TaskExit}
}

// IsZero reports whether the task is the zero value.
func (t Task) IsZero() bool {
	return t.Kind == TaskNone && t.Path == ""
}

// VerdictState classifies the outcome of scanning one file.
type VerdictState int

const (
	// Clean means the engine found nothing.
	Clean VerdictState = iota

	// Infected means the engine matched a threat signature.
	Infected

	// Failed means the file could not be scanned.
	Failed
)

// String returns the state name used in log output.
func (s VerdictState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Infected:
		return "infected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verdict is the result of scanning one file.
type Verdict struct {
	// State is the scan outcome.
	State VerdictState

	// Threat is the threat name when State is Infected.
	Threat string

	// Detail carries the failure reason when State is Failed.
	Detail string
}

// Line renders the verdict as the one-line stdout form for path.
func (v Verdict) Line(path string) string {
	switch v.State {
	case Infected:
		return path + ": " + v.Threat + " FOUND"
	case Failed:
		return path + ": SCAN ERROR: " + v.Detail
	default:
		return path + ": OK"
	}
}

// ScanError records a per-item failure encountered during a run.
// Per-item failures are reported and skipped, never fatal.
type ScanError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary aggregates the outcome of one scheduler run.
type Summary struct {
	// Root is the canonicalized path that was scanned.
	Root string `json:"root"`

	// DirsScanned counts directories successfully enumerated.
	DirsScanned int64 `json:"dirs_scanned"`

	// FilesScanned counts files for which a verdict was emitted.
	FilesScanned int64 `json:"files_scanned"`

	// Infected counts FOUND verdicts.
	Infected int64 `json:"infected"`

	// ScanErrors counts SCAN ERROR verdicts.
	ScanErrors int64 `json:"scan_errors"`

	// BytesScanned is the total size of scanned files.
	BytesScanned int64 `json:"bytes_scanned"`

	// CacheHits counts verdicts served from the verdict cache.
	CacheHits int64 `json:"cache_hits"`

	// Quarantined counts infected files moved to quarantine.
	Quarantined int64 `json:"quarantined"`

	// Cancelled is true when the run ended via force-quit rather than
	// normal completion.
	Cancelled bool `json:"cancelled"`

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration `json:"elapsed"`

	// Errors holds per-item failures (directory open, stat, ...).
	Errors []ScanError `json:"errors,omitempty"`
}

// HumanBytes returns BytesScanned formatted with IEC units.
func (s *Summary) HumanBytes() string {
	return FormatSize(s.BytesScanned)
}

// FormatSize formats a byte count as a human-readable IEC string.
func FormatSize(size int64) string {
	if size < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(size))
}
