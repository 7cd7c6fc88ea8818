// Package status provides the shared scan-status word observed by every
// producer, worker, and the watchdog. Transitions are monotonic on the
// success path; ForceQuit overrides from any state.
package status

import "sync/atomic"

// Status is one point in the run lifecycle. Ordering is significant:
// a loop waits for "status >= target".
type Status int32

const (
	// Unfinished is the initial state.
	Unfinished Status = iota

	// ProducerDone means the directory tree is fully enumerated.
	ProducerDone

	// AllTasksDone means the file queue has also been drained.
	AllTasksDone

	// ForceQuit is the cancellation override. It can be set at any
	// time and short-circuits every waiting loop.
	ForceQuit
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case Unfinished:
		return "unfinished"
	case ProducerDone:
		return "producer-done"
	case AllTasksDone:
		return "all-tasks-done"
	case ForceQuit:
		return "force-quit"
	default:
		return "invalid"
	}
}

// Word is an atomically accessed status shared across the scheduler.
// The zero value is ready to use and reads as Unfinished.
type Word struct {
	v atomic.Int32
}

// Get returns the current status.
func (w *Word) Get() Status {
	return Status(w.v.Load())
}

// TryAdvanceTo advances the status forward to s. It is a no-op when the
// current status is already at or past s, so redundant announcements
// from racing loops are harmless. Reports whether this call performed
// the advance.
func (w *Word) TryAdvanceTo(s Status) bool {
	for {
		cur := w.v.Load()
		if Status(cur) >= s {
			return false
		}
		if w.v.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// Quit sets ForceQuit unconditionally. Safe to call from a signal
// handling goroutine; it performs a single atomic store.
func (w *Word) Quit() {
	w.v.Store(int32(ForceQuit))
}

// Quitting reports whether the run has been cancelled.
func (w *Word) Quitting() bool {
	return w.Get() == ForceQuit
}
