package watch

import (
	"context"
	"os"
	"time"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/logging"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/types"
)

// work is one on-access scan worker. It runs until it pops an exit
// task, so a shutdown still drains the files queued before it.
func (m *Monitor) work(ctx context.Context) error {
	strat := queue.NewBackoff(queue.DefaultBackoffBase, queue.DefaultBackoffMax)
	buf := make([]types.Task, config.DefaultBatchSize)

	for {
		n := strat.PopBatch(ctx, m.tasks, buf)
		if n == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		for i, t := range buf[:n] {
			if t.Kind == types.TaskExit {
				// A batch can swallow several exit tasks at once.
				// Hand the rest of the batch back so every other
				// worker still receives one and stops too. The pop
				// above freed n slots, so these pushes cannot block.
				for _, rest := range buf[i+1 : n] {
					_ = m.tasks.Push(ctx, rest)
				}
				m.tasks.DoneInFlight(n)
				return nil
			}
			if t.Kind == types.TaskScanFile {
				m.scanFile(ctx, t.Path)
			}
		}
		m.tasks.DoneInFlight(n)
	}
}

// scanFile waits out the settle window, then scans one file. Watch
// mode never aborts on engine errors; the file is reported and the
// monitor keeps running.
func (m *Monitor) scanFile(ctx context.Context, path string) {
	log := logging.Get("watch")

	timer := time.NewTimer(m.settleRemaining(path))
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	m.mu.Lock()
	delete(m.pending, path)
	m.mu.Unlock()

	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	if m.opts.Cache != nil {
		if v, ok := m.opts.Cache.Lookup(path, info); ok {
			m.report(path, v)
			return
		}
	}

	v, err := m.opts.Engine.Scan(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("scan failed", "path", path, "error", err)
		}
		return
	}
	if m.opts.Cache != nil && v.State != types.Failed {
		_ = m.opts.Cache.Record(path, info, v)
	}
	m.report(path, v)
}

// report emits a verdict line and quarantines infected files.
func (m *Monitor) report(path string, v types.Verdict) {
	m.sink.Emit(path, v)
	if v.State != types.Infected {
		return
	}
	log := logging.Get("watch")
	log.Warn("threat detected", "path", path, "threat", v.Threat)
	if m.opts.Quarantine != nil {
		if _, err := m.opts.Quarantine.Isolate(path, v.Threat); err != nil {
			log.Error("quarantine failed", "path", path, "error", err)
		}
	}
}

// settleRemaining returns how long this path still has to stay quiet.
func (m *Monitor) settleRemaining(path string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.pending[path]
	if !ok {
		return 0
	}
	remaining := m.opts.Settle - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}
