package sched

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/talonsec/talon/pkg/talon/logging"
	"github.com/talonsec/talon/pkg/talon/output"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/status"
	"github.com/talonsec/talon/pkg/talon/types"
)

// progressStride throttles the OnProgress hook to one call per this
// many processed items per goroutine stream.
const progressStride = 32

// Scheduler runs one scan: a producer pool enumerating the directory
// tree and a worker pool scanning files, joined by two bounded queues.
//
// Shutdown is driven by the shared status word. Producers advance it
// to ProducerDone when enumeration is complete, workers advance it
// to AllTasksDone when the file queue drains afterwards, and Quit
// forces it to ForceQuit from anywhere. The run's watchdog observes
// each transition and tears the pools down in order.
type Scheduler struct {
	opts Options
	word status.Word

	dirs  *queue.Queue
	files *queue.Queue

	producers *Observer
	workers   *Observer

	sink  *output.Sink
	tally tally

	ticks atomic.Int64
}

// New validates opts and builds a scheduler. The run starts with Run.
func New(opts Options) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		opts:  opts,
		dirs:  queue.New(opts.DirQueueSize),
		files: queue.New(opts.FileQueueSize),
		sink:  opts.NewSink(),
	}, nil
}

// Quit cancels the run from any goroutine. In-flight scans finish or
// are cancelled; no new work is started.
func (s *Scheduler) Quit() {
	s.word.Quit()
}

// Status returns the run's current lifecycle state.
func (s *Scheduler) Status() status.Status {
	return s.word.Get()
}

// Run executes the scan to completion or cancellation and returns the
// run summary. The summary is returned even when err is non-nil.
func (s *Scheduler) Run(ctx context.Context) (*types.Summary, error) {
	log := logging.Get("sched")
	start := time.Now()

	// A cancelled caller context must force-quit the run even while
	// every loop is parked on a queue.
	stop := context.AfterFunc(ctx, s.word.Quit)
	defer stop()

	if err := s.seed(ctx); err != nil {
		return s.tally.summary(s.opts.Root, time.Since(start), false), err
	}

	s.producers = NewObserver(ctx, "producer")
	for i := 0; i < s.opts.Producers(); i++ {
		strat, _ := queue.NewStrategy(s.opts.Strategy)
		s.producers.Spawn(func(ctx context.Context) error {
			return s.produce(ctx, strat)
		})
	}

	s.workers = NewObserver(ctx, "worker")
	for i := 0; i < s.opts.Workers; i++ {
		strat, _ := queue.NewStrategy(s.opts.Strategy)
		s.workers.Spawn(func(ctx context.Context) error {
			return s.work(ctx, strat)
		})
	}

	log.Info("scan started",
		"root", s.opts.Root,
		"producers", s.opts.Producers(),
		"workers", s.opts.Workers,
		"strategy", s.opts.Strategy)

	perr := watch(&s.word, s.producers, status.ProducerDone)
	werr := watch(&s.word, s.workers, status.AllTasksDone)

	summary := s.tally.summary(s.opts.Root, time.Since(start), s.word.Quitting())
	log.Info("scan finished",
		"dirs", summary.DirsScanned,
		"files", summary.FilesScanned,
		"infected", summary.Infected,
		"cancelled", summary.Cancelled,
		"elapsed", summary.Elapsed)

	return summary, errors.Join(perr, werr)
}

// seed pushes the root directory task before any producer starts.
func (s *Scheduler) seed(ctx context.Context) error {
	t, err := types.NewTask(types.TaskScanDirectory, s.opts.Root)
	if err != nil {
		return fmt.Errorf("seed root task: %w", err)
	}
	return s.dirs.Push(ctx, t)
}

// idle parks a loop briefly after an empty pop so announce checks do
// not busy-spin ahead of the watchdog.
func (s *Scheduler) idle(ctx context.Context) {
	timer := time.NewTimer(time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// progress invokes the OnProgress hook, throttled by stride.
func (s *Scheduler) progress(path string) {
	if s.opts.OnProgress == nil {
		return
	}
	if s.ticks.Add(1)%progressStride != 0 {
		return
	}
	s.opts.OnProgress(Progress{
		DirsScanned:  s.tally.dirs.Load(),
		FilesScanned: s.tally.files.Load(),
		Infected:     s.tally.infected.Load(),
		CurrentPath:  path,
	})
}

// ScanFile scans a single regular file without spinning up the pools.
// Used when the scan target is a file rather than a directory.
func ScanFile(ctx context.Context, opts Options) (*types.Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Lstat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", opts.Root, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", opts.Root)
	}

	s := &Scheduler{opts: opts, sink: opts.NewSink()}
	start := time.Now()
	err = s.scanOne(ctx, opts.Root)
	return s.tally.summary(opts.Root, time.Since(start), ctx.Err() != nil), err
}
