package sched

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/talonsec/talon/pkg/talon/logging"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/status"
	"github.com/talonsec/talon/pkg/talon/types"
)

// errEngineDown marks an engine-level failure, the one error class
// that aborts a run. Per-file scan failures never reach it.
var errEngineDown = errors.New("scan engine failure")

// work is one scan worker loop. It pops file tasks and scans them.
//
// A worker may only announce AllTasksDone once the producers have
// announced: before ProducerDone an empty file queue just means the
// producers have not caught up yet. After it, an empty queue with no
// in-flight batch means every file has been scanned.
func (s *Scheduler) work(ctx context.Context, strat queue.PopStrategy) error {
	log := logging.Get("worker")
	buf := make([]types.Task, s.opts.BatchSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := strat.PopBatch(ctx, s.files, buf)
		if n == 0 {
			if s.word.Get() >= status.ProducerDone && s.files.ApproxEmpty() {
				if s.word.TryAdvanceTo(status.AllTasksDone) {
					log.Debug("file queue drained")
				}
				s.workers.NotifyDone()
			}
			s.idle(ctx)
			continue
		}

		for _, t := range buf[:n] {
			if s.word.Quitting() {
				break
			}
			if t.Kind != types.TaskScanFile {
				continue
			}
			if err := s.scanOne(ctx, t.Path); err != nil {
				s.files.DoneInFlight(n)
				s.word.Quit()
				return err
			}
		}
		s.files.DoneInFlight(n)
	}
}

// scanOne produces a verdict for a single file. Per-file problems
// (stat failure, unreadable file, infected content) are emitted and
// tallied; only an engine breakdown returns an error.
func (s *Scheduler) scanOne(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		s.tally.addErr(path, err)
		s.record(path, 0, types.Verdict{State: types.Failed, Detail: err.Error()})
		return nil
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	if s.opts.Cache != nil {
		if v, ok := s.opts.Cache.Lookup(path, info); ok {
			s.tally.cacheHits.Add(1)
			s.record(path, info.Size(), v)
			return nil
		}
	}

	v, err := s.opts.Engine.Scan(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", errEngineDown, s.opts.Engine.Name(), err)
	}

	if s.opts.Cache != nil && v.State != types.Failed {
		if err := s.opts.Cache.Record(path, info, v); err != nil {
			logging.Get("worker").Warn("cache record failed", "path", path, "error", err)
		}
	}
	s.record(path, info.Size(), v)
	return nil
}

// record emits the verdict line and updates counters, quarantining
// infected files when a store is configured.
func (s *Scheduler) record(path string, size int64, v types.Verdict) {
	s.sink.Emit(path, v)
	s.tally.files.Add(1)
	s.progress(path)

	switch v.State {
	case types.Infected:
		s.tally.infected.Add(1)
		s.tally.bytes.Add(size)
		if s.opts.Quarantine != nil {
			if _, err := s.opts.Quarantine.Isolate(path, v.Threat); err != nil {
				s.tally.addErr(path, err)
			} else {
				s.tally.quarantined.Add(1)
			}
		}
	case types.Failed:
		s.tally.scanErrors.Add(1)
	default:
		s.tally.bytes.Add(size)
	}
}
