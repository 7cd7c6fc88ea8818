package sched

import (
	"context"
	"os"
	"path/filepath"

	"github.com/talonsec/talon/pkg/talon/estimate"
	"github.com/talonsec/talon/pkg/talon/logging"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/status"
	"github.com/talonsec/talon/pkg/talon/types"
)

// produce is one directory producer loop. It pops directory tasks,
// enumerates them, and feeds subdirectories back to the directory
// queue and regular files to the file queue.
//
// When a pop yields nothing and the directory queue is verifiably
// empty, the tree must be fully enumerated: no queued directory and no
// batch in another producer's hands that could still spawn one. The
// loop then announces ProducerDone and keeps spinning until the
// watchdog cancels it. The loop never exits on its own because a
// sibling's batch may still refill the queue.
func (s *Scheduler) produce(ctx context.Context, strat queue.PopStrategy) error {
	log := logging.Get("producer")
	buf := make([]types.Task, s.opts.BatchSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := strat.PopBatch(ctx, s.dirs, buf)
		if n == 0 {
			if s.dirs.ApproxEmpty() {
				if s.word.TryAdvanceTo(status.ProducerDone) {
					log.Debug("directory enumeration complete")
				}
				s.producers.NotifyDone()
			}
			s.idle(ctx)
			continue
		}

		for _, t := range buf[:n] {
			if s.word.Quitting() {
				break
			}
			if t.Kind == types.TaskScanDirectory {
				s.expandDir(ctx, t.Path)
			}
		}
		s.dirs.DoneInFlight(n)
	}
}

// expandDir enumerates one directory, pushing subdirectories to the
// directory queue and regular files to the file queue. Enumeration
// failures are recorded and skipped.
func (s *Scheduler) expandDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.tally.addErr(dir, err)
		s.tally.scanErrors.Add(1)
		return
	}
	s.tally.dirs.Add(1)
	s.progress(dir)

	for _, entry := range entries {
		if s.word.Quitting() {
			return
		}
		full := filepath.Join(dir, entry.Name())

		switch {
		case entry.IsDir():
			if estimate.Excluded(full, s.opts.Exclude) {
				continue
			}
			t, err := types.NewTask(types.TaskScanDirectory, full)
			if err != nil {
				s.tally.addErr(full, err)
				continue
			}
			// A blocking push here can deadlock: every producer stuck
			// pushing into a full directory queue leaves nobody to pop
			// it. On a full queue, descend inline instead.
			if !s.dirs.TryPush(t) {
				s.expandDir(ctx, full)
			}
		case entry.Type().IsRegular():
			if estimate.Excluded(full, s.opts.Exclude) {
				continue
			}
			t, err := types.NewTask(types.TaskScanFile, full)
			if err != nil {
				s.tally.addErr(full, err)
				continue
			}
			if err := s.files.Push(ctx, t); err != nil {
				return
			}
		default:
			// Symlinks, sockets, devices: not scannable content.
		}
	}
}
