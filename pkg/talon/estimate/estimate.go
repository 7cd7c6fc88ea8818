// Package estimate performs a fast preliminary walk of a tree to count
// what a scan will visit, so progress output can show a total. The walk
// only reads directory entries; it never stats or opens files.
package estimate

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
)

// Totals are the counted entries.
type Totals struct {
	Dirs  int64
	Files int64
}

// Count walks root and counts directories and regular files. Excluded
// paths are pruned the same way the scheduler prunes them. Unreadable
// entries are skipped, matching scan behavior. Cancelling ctx stops the
// walk early and returns the partial totals with ctx's error.
func Count(ctx context.Context, root string, exclude []string) (Totals, error) {
	var dirs, files atomic.Int64

	conf := fastwalk.Config{
		Follow: false,
	}

	done := make(chan struct{})
	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-walkCtx.Done()
		close(done)
	}()

	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-done:
			return filepath.SkipAll
		default:
		}
		if err != nil {
			return nil
		}
		if Excluded(path, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs.Add(1)
		} else if d.Type().IsRegular() {
			files.Add(1)
		}
		return nil
	})

	totals := Totals{Dirs: dirs.Load(), Files: files.Load()}
	if ctx.Err() != nil {
		return totals, ctx.Err()
	}
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return totals, err
	}
	return totals, nil
}

// Excluded reports whether path matches an exclusion pattern: prefix
// matches cover directory subtrees, then glob matches on basename and
// full path.
func Excluded(path string, exclude []string) bool {
	for _, pattern := range exclude {
		if pattern == "" {
			continue
		}
		if path == pattern {
			return true
		}
		if len(path) > len(pattern) && path[:len(pattern)+1] == pattern+string(filepath.Separator) {
			return true
		}
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}
