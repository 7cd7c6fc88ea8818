// Package sched implements the parallel scan scheduler: a pool of
// directory producers and scan workers coupled by two bounded task
// queues, coordinated through a shared status word and shut down by a
// two-phase watchdog.
package sched

import (
	"errors"
	"io"
	"os"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/engine"
	"github.com/talonsec/talon/pkg/talon/output"
	"github.com/talonsec/talon/pkg/talon/quarantine"
	"github.com/talonsec/talon/pkg/talon/queue"
	"github.com/talonsec/talon/pkg/talon/vcache"
)

// Progress is a point-in-time snapshot handed to the OnProgress hook.
type Progress struct {
	DirsScanned  int64
	FilesScanned int64
	Infected     int64
	CurrentPath  string
}

// Options configures a scheduler run.
type Options struct {
	// Root is the directory to scan.
	Root string

	// Workers is the scan worker count, clamped to [1, 64].
	// Producers is derived from it and cannot be set independently.
	Workers int

	// DirQueueSize and FileQueueSize are queue capacities; the queue
	// rounds them up to powers of two.
	DirQueueSize  int
	FileQueueSize int

	// BatchSize is how many tasks a loop pops per iteration.
	BatchSize int

	// Strategy selects the queue pop strategy (poll or backoff).
	Strategy string

	// Exclude holds paths and glob patterns never descended into.
	Exclude []string

	// Engine performs the per-file scan. Required.
	Engine engine.Engine

	// Cache is the optional verdict cache; nil disables caching.
	Cache *vcache.Cache

	// Quarantine, when non-nil, receives infected files.
	Quarantine *quarantine.Store

	// Out receives verdict lines; defaults to os.Stdout.
	Out io.Writer

	// OnProgress, when set, is called periodically from scanning
	// goroutines. It must be safe for concurrent use.
	OnProgress func(Progress)
}

// Validate applies defaults and checks required fields.
func (o *Options) Validate() error {
	if o.Root == "" {
		return errors.New("scan root is required")
	}
	if o.Engine == nil {
		return errors.New("scan engine is required")
	}
	o.Workers = config.ClampWorkers(o.Workers)
	if o.BatchSize < 1 {
		o.BatchSize = config.DefaultBatchSize
	}
	if o.DirQueueSize < 1 {
		o.DirQueueSize = config.DefaultQueueSize
	}
	if o.FileQueueSize < 1 {
		o.FileQueueSize = config.DefaultQueueSize
	}
	if o.Strategy == "" {
		o.Strategy = config.DefaultStrategy
	}
	if _, err := queue.NewStrategy(o.Strategy); err != nil {
		return err
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	return nil
}

// Producers returns the derived producer count.
func (o *Options) Producers() int {
	return config.ProducersFor(o.Workers)
}

// NewSink builds the serialized result sink for this run.
func (o *Options) NewSink() *output.Sink {
	return output.NewSink(o.Out)
}
