// Package watch provides continuous on-access scanning: a recursive
// filesystem watcher feeding newly created or modified files through
// the scan engine as they appear.
package watch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/engine"
	"github.com/talonsec/talon/pkg/talon/estimate"
	"github.com/talonsec/talon/pkg/talon/logging"
	"github.com/talonsec/talon/pkg/talon/output"
	"github.com/talonsec/talon/pkg/talon/quarantine"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/types"
	"github.com/talonsec/talon/pkg/talon/vcache"
)

// DefaultSettle is how long a written file must stay quiet before it
// is scanned, so half-written downloads are not flagged mid-copy.
const DefaultSettle = 500 * time.Millisecond

// Options configures a monitor.
type Options struct {
	// Root is the directory tree to watch.
	Root string

	// Workers is the scan worker count, clamped to [1, 64].
	Workers int

	// QueueSize is the pending-scan queue capacity.
	QueueSize int

	// Exclude holds paths and glob patterns never watched or scanned.
	Exclude []string

	// Settle is the quiet period before a modified file is scanned.
	// Zero uses DefaultSettle.
	Settle time.Duration

	// Engine performs the per-file scan. Required.
	Engine engine.Engine

	// Cache is the optional verdict cache; nil disables caching.
	Cache *vcache.Cache

	// Quarantine, when non-nil, receives infected files.
	Quarantine *quarantine.Store

	// Out receives verdict lines; defaults to os.Stdout.
	Out io.Writer
}

func (o *Options) validate() error {
	if o.Root == "" {
		return errors.New("watch root is required")
	}
	if o.Engine == nil {
		return errors.New("scan engine is required")
	}
	o.Workers = config.ClampWorkers(o.Workers)
	if o.QueueSize < 1 {
		o.QueueSize = config.DefaultQueueSize
	}
	if o.Settle <= 0 {
		o.Settle = DefaultSettle
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	return nil
}

// Monitor is a running on-access scanner. One monitor owns one
// fsnotify watcher, one pending-scan queue, and one worker pool.
type Monitor struct {
	opts Options
	fsw  *fsnotify.Watcher
	sink *output.Sink

	tasks *queue.Queue

	mu      sync.Mutex
	watched map[string]bool
	pending map[string]time.Time
}

// New validates opts and builds a monitor. Watching starts with Run.
func New(opts Options) (*Monitor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		opts:    opts,
		fsw:     fsw,
		sink:    output.NewSink(opts.Out),
		tasks:   queue.New(opts.QueueSize),
		watched: make(map[string]bool),
		pending: make(map[string]time.Time),
	}, nil
}

// Run watches the tree until ctx is cancelled. Workers drain the
// pending queue; on shutdown each worker is handed an exit task so
// already queued files still get scanned.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.fsw.Close()
	log := logging.Get("watch")

	if err := m.watchTree(m.opts.Root); err != nil {
		return err
	}
	log.Info("watching", "root", m.opts.Root, "workers", m.opts.Workers)

	g, wctx := errgroup.WithContext(context.Background())
	for i := 0; i < m.opts.Workers; i++ {
		g.Go(func() error {
			return m.work(wctx)
		})
	}

	m.eventLoop(ctx)

	// Poison the queue so workers finish the backlog and stop.
	pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < m.opts.Workers; i++ {
		if err := m.tasks.Push(pushCtx, types.ExitTask()); err != nil {
			break
		}
	}
	return g.Wait()
}

// eventLoop dispatches fsnotify events until ctx is cancelled.
func (m *Monitor) eventLoop(ctx context.Context) {
	log := logging.Get("watch")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.fsw.Events:
			if !ok {
				return
			}
			m.handleEvent(ctx, event)
		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	path := event.Name
	if estimate.Excluded(path, m.opts.Exclude) {
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			// Directories created with contents produce no events for
			// the contents, so walk them once.
			_ = m.watchTree(path)
			m.enqueueExisting(ctx, path)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	m.enqueue(ctx, path)
}

// enqueue queues one file for scanning, deduplicating event bursts
// within the settle window.
func (m *Monitor) enqueue(ctx context.Context, path string) {
	now := time.Now()
	m.mu.Lock()
	if last, ok := m.pending[path]; ok && now.Sub(last) < m.opts.Settle {
		m.mu.Unlock()
		return
	}
	m.pending[path] = now
	m.mu.Unlock()

	t, err := types.NewTask(types.TaskScanFile, path)
	if err != nil {
		return
	}
	_ = m.tasks.Push(ctx, t)
}

// enqueueExisting queues every regular file already under dir.
func (m *Monitor) enqueueExisting(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.Type().IsRegular() && !estimate.Excluded(full, m.opts.Exclude) {
			m.enqueue(ctx, full)
		}
	}
}

// watchTree adds watches for dir and every subdirectory, skipping
// symlinks and excluded paths.
func (m *Monitor) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if estimate.Excluded(path, m.opts.Exclude) {
			return filepath.SkipDir
		}
		return m.addWatch(path)
	})
}

func (m *Monitor) addWatch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watched[path] {
		return nil
	}
	if err := m.fsw.Add(path); err != nil {
		logging.Get("watch").Warn("failed to add watch", "path", path, "error", err)
		return nil
	}
	m.watched[path] = true
	return nil
}
