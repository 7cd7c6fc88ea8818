package sched

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonsec/talon/pkg/talon/engine"
	"github.com/talonsec/talon/pkg/talon/status"
	"github.com/talonsec/talon/pkg/talon/types"
	"github.com/talonsec/talon/pkg/talon/vcache"
)

// cleanEngine returns OK for everything.
func cleanEngine() engine.Engine {
	return engine.Func(func(_ context.Context, _ string) (types.Verdict, error) {
		return types.Verdict{State: types.Clean}, nil
	})
}

// threatEngine flags files whose basename matches name.
func threatEngine(name, threat string) engine.Engine {
	return engine.Func(func(_ context.Context, path string) (types.Verdict, error) {
		if filepath.Base(path) == name {
			return types.Verdict{State: types.Infected, Threat: threat}, nil
		}
		return types.Verdict{State: types.Clean}, nil
	})
}

// syncBuffer makes a bytes.Buffer safe for the sink plus test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// makeTree builds dirs directories under root, each holding filesPer
// regular files, and returns every file path.
func makeTree(t *testing.T, root string, dirs, filesPer int) []string {
	t.Helper()
	var paths []string
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, "dir"+string(rune('a'+d)))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for f := 0; f < filesPer; f++ {
			p := filepath.Join(dir, fmt.Sprintf("file%02d.bin", f))
			require.NoError(t, os.WriteFile(p, []byte("payload"), 0o644))
			paths = append(paths, p)
		}
	}
	return paths
}

func runScan(t *testing.T, opts Options) (*Scheduler, *types.Summary, error) {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sum, err := s.Run(ctx)
	require.NotNil(t, sum)
	return s, sum, err
}

func TestRunEmptyDirectory(t *testing.T) {
	root := t.TempDir()
	var out syncBuffer

	s, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 4,
		Engine:  cleanEngine(),
		Out:     &out,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.DirsScanned)
	assert.Equal(t, int64(0), sum.FilesScanned)
	assert.False(t, sum.Cancelled)
	assert.Equal(t, status.AllTasksDone, s.Status())
	assert.Empty(t, out.String())
}

func TestRunNestedTree(t *testing.T) {
	for _, workers := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("workers-%d", workers), func(t *testing.T) {
			root := t.TempDir()
			files := makeTree(t, root, 3, 2)
			var out syncBuffer

			s, sum, err := runScan(t, Options{
				Root:    root,
				Workers: workers,
				Engine:  cleanEngine(),
				Out:     &out,
			})
			require.NoError(t, err)

			// Root plus 3 subdirectories.
			assert.Equal(t, int64(4), sum.DirsScanned)
			assert.Equal(t, int64(len(files)), sum.FilesScanned)
			assert.Equal(t, status.AllTasksDone, s.Status())

			// Exactly one verdict line per file, no duplicates.
			got := out.String()
			for _, f := range files {
				assert.Equal(t, 1, strings.Count(got, f+": OK\n"), "verdict for %s", f)
			}
		})
	}
}

func TestRunDeepNesting(t *testing.T) {
	root := t.TempDir()
	dir := root
	want := 0
	for i := 0; i < 20; i++ {
		dir = filepath.Join(dir, "level")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("x"), 0o644))
		want++
	}

	_, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 2,
		Engine:  cleanEngine(),
		Out:     &syncBuffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(want), sum.FilesScanned)
	assert.Equal(t, int64(21), sum.DirsScanned)
}

func TestRunWideTreeSmallQueue(t *testing.T) {
	// More subdirectories than the directory queue can hold forces the
	// producers onto the inline-expansion path.
	root := t.TempDir()
	files := makeWideTree(t, root, 64)

	_, sum, err := runScan(t, Options{
		Root:         root,
		Workers:      4,
		DirQueueSize: 4,
		Engine:       cleanEngine(),
		Out:          &syncBuffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(65), sum.DirsScanned)
	assert.Equal(t, int64(files), sum.FilesScanned)
}

func makeWideTree(t *testing.T, root string, dirs int) int {
	t.Helper()
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, fmt.Sprintf("dir%03d", d))
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("x"), 0o644))
	}
	return dirs
}

func TestRunFindsThreats(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 2, 2)
	evil := filepath.Join(root, "dira", "evil.bin")
	require.NoError(t, os.WriteFile(evil, []byte("payload"), 0o644))
	var out syncBuffer

	_, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 4,
		Engine:  threatEngine("evil.bin", "Eicar-Test-Signature"),
		Out:     &out,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Infected)
	assert.Equal(t, int64(5), sum.FilesScanned)
	assert.False(t, sum.Cancelled)
	assert.Contains(t, out.String(), evil+": Eicar-Test-Signature FOUND")
}

func TestRunSkipsNonRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.bin"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.bin"), filepath.Join(root, "link.bin")))

	_, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 2,
		Engine:  cleanEngine(),
		Out:     &syncBuffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.FilesScanned)
}

func TestRunHonorsExclusions(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 2, 2)
	var out syncBuffer

	_, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 2,
		Exclude: []string{filepath.Join(root, "dira")},
		Engine:  cleanEngine(),
		Out:     &out,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.FilesScanned)
	assert.NotContains(t, out.String(), "dira")
}

func TestRunCancellation(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 4, 8)

	// Engine blocks until its context is cancelled.
	slow := engine.Func(func(ctx context.Context, _ string) (types.Verdict, error) {
		<-ctx.Done()
		return types.Verdict{}, ctx.Err()
	})

	s, err := New(Options{
		Root:    root,
		Workers: 4,
		Engine:  slow,
		Out:     &syncBuffer{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	var sum *types.Summary
	go func() {
		sum, _ = s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not shut down after cancellation")
	}
	require.NotNil(t, sum)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, status.ForceQuit, s.Status())
}

func TestRunQuit(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 4, 8)

	s, err := New(Options{
		Root:    root,
		Workers: 2,
		Engine: engine.Func(func(ctx context.Context, _ string) (types.Verdict, error) {
			<-ctx.Done()
			return types.Verdict{}, ctx.Err()
		}),
		Out: &syncBuffer{},
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Quit()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, _ := s.Run(ctx)
	require.NotNil(t, sum)
	assert.True(t, sum.Cancelled)
}

func TestRunEngineFailureAborts(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 2, 4)

	broken := engine.Func(func(_ context.Context, _ string) (types.Verdict, error) {
		return types.Verdict{}, errors.New("scanner binary vanished")
	})

	s, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 2,
		Engine:  broken,
		Out:     &syncBuffer{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errEngineDown)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, status.ForceQuit, s.Status())
}

func TestRunUnreadableDirRecorded(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not bind for root")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Mkdir(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.bin"), []byte("x"), 0o644))

	_, sum, err := runScan(t, Options{
		Root:    root,
		Workers: 2,
		Engine:  cleanEngine(),
		Out:     &syncBuffer{},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.FilesScanned)
	assert.Equal(t, int64(1), sum.ScanErrors)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, locked, sum.Errors[0].Path)
}

func TestRunCacheHits(t *testing.T) {
	root := t.TempDir()
	files := makeTree(t, root, 2, 3)

	cache, err := vcache.Open(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	opts := Options{
		Root:    root,
		Workers: 4,
		Engine:  cleanEngine(),
		Cache:   cache,
		Out:     &syncBuffer{},
	}

	_, first, err := runScan(t, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.CacheHits)

	_, second, err := runScan(t, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(len(files)), second.CacheHits)
	assert.Equal(t, int64(len(files)), second.FilesScanned)
}

func TestRunProgressHook(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 8, 16)

	var calls atomic.Int64
	_, sum, err := runScan(t, Options{
		Root:       root,
		Workers:    4,
		Engine:     cleanEngine(),
		Out:        &syncBuffer{},
		OnProgress: func(Progress) { calls.Add(1) },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(128), sum.FilesScanned)
	assert.Greater(t, calls.Load(), int64(0))
}

func TestScanFileSingle(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "single.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	var out syncBuffer

	sum, err := ScanFile(context.Background(), Options{
		Root:    path,
		Workers: 1,
		Engine:  threatEngine("single.bin", "Trojan.Generic"),
		Out:     &out,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.FilesScanned)
	assert.Equal(t, int64(1), sum.Infected)
	assert.Equal(t, path+": Trojan.Generic FOUND\n", out.String())
}

func TestScanFileRejectsDirectory(t *testing.T) {
	_, err := ScanFile(context.Background(), Options{
		Root:    t.TempDir(),
		Workers: 1,
		Engine:  cleanEngine(),
		Out:     &syncBuffer{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}

func TestOptionsValidate(t *testing.T) {
	opts := Options{Root: "/tmp", Engine: cleanEngine()}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 1, opts.Workers)
	assert.Equal(t, 2, opts.Producers())

	opts = Options{Root: "/tmp", Engine: cleanEngine(), Workers: 999}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 64, opts.Workers)
	assert.Equal(t, 4, opts.Producers())

	require.Error(t, (&Options{Engine: cleanEngine()}).Validate())
	require.Error(t, (&Options{Root: "/tmp"}).Validate())
	require.Error(t, (&Options{Root: "/tmp", Engine: cleanEngine(), Strategy: "bogus"}).Validate())
}

func TestObserverAnnounceOnce(t *testing.T) {
	obs := NewObserver(context.Background(), "test")

	assert.True(t, obs.NotifyDone())
	assert.False(t, obs.NotifyDone())
	assert.False(t, obs.NotifyDone())

	select {
	case <-obs.Done():
	default:
		t.Fatal("Done channel not closed after NotifyDone")
	}
	require.NoError(t, obs.Stop())
}
