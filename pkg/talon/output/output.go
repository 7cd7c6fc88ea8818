// Package output owns what the scanner prints: the per-file verdict
// lines on stdout and the end-of-run summary report.
package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Sink serializes verdict lines from concurrent workers onto a single
// writer. Lines from different workers interleave arbitrarily, but
// each line is written whole.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink wraps w, typically os.Stdout.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Emit writes the one-line verdict for path.
func (s *Sink) Emit(path string, v types.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, v.Line(path))
}

// Emitf writes an arbitrary serialized line, used for progress notes.
func (s *Sink) Emitf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}
