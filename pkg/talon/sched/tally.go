package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/talonsec/talon/pkg/talon/types"
)

// tally collects run counters from every producer and worker. All
// counters are atomics so loops never serialize on bookkeeping.
type tally struct {
	dirs        atomic.Int64
	files       atomic.Int64
	infected    atomic.Int64
	scanErrors  atomic.Int64
	bytes       atomic.Int64
	cacheHits   atomic.Int64
	quarantined atomic.Int64

	mu   sync.Mutex
	errs []types.ScanError
}

// addErr records a per-item failure for the summary's error list.
// It never touches scanErrors; callers bump that counter themselves
// when the failure counts as a failed scan (an unscannable file or an
// unreadable directory), so the two cannot drift from double counting.
func (t *tally) addErr(path string, err error) {
	t.mu.Lock()
	t.errs = append(t.errs, types.ScanError{Path: path, Error: err.Error()})
	t.mu.Unlock()
}

func (t *tally) summary(root string, elapsed time.Duration, cancelled bool) *types.Summary {
	t.mu.Lock()
	errs := make([]types.ScanError, len(t.errs))
	copy(errs, t.errs)
	t.mu.Unlock()

	return &types.Summary{
		Root:         root,
		DirsScanned:  t.dirs.Load(),
		FilesScanned: t.files.Load(),
		Infected:     t.infected.Load(),
		ScanErrors:   t.scanErrors.Load(),
		BytesScanned: t.bytes.Load(),
		CacheHits:    t.cacheHits.Load(),
		Quarantined:  t.quarantined.Load(),
		Cancelled:    cancelled,
		Elapsed:      elapsed,
		Errors:       errs,
	}
}
