// Package engine abstracts the antivirus scan operation. The scheduler
// treats an engine as opaque: one call per file, one verdict back.
// Engines must be safe for concurrent use, since every worker in the
// pool shares a single engine value.
package engine

import (
	"context"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Engine scans a single file and returns its verdict. A non-nil error
// means the engine itself is unusable (missing binary, dead daemon);
// ordinary per-file problems are reported as a Failed verdict instead.
type Engine interface {
	Scan(ctx context.Context, path string) (types.Verdict, error)

	// Name identifies the engine in logs and reports.
	Name() string
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, path string) (types.Verdict, error)

// Scan implements Engine.
func (f Func) Scan(ctx context.Context, path string) (types.Verdict, error) {
	return f(ctx, path)
}

// Name implements Engine.
func (f Func) Name() string { return "func" }
