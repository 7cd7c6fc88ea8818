// Package config provides configuration management for the talon scanner.
package config

// Default configuration values.
const (
	// DefaultWorkers is the default scan worker count when neither the
	// command line nor the tuner supplies one.
	DefaultWorkers = 8

	// MaxWorkers caps the worker pool. Requested counts are clamped.
	MaxWorkers = 64

	// DefaultQueueSize is the default task queue capacity (rounded to
	// a power of two by the queue itself).
	DefaultQueueSize = 1024

	// DefaultBatchSize is how many tasks a loop pops per iteration.
	DefaultBatchSize = 16

	// DefaultStrategy is the queue pop strategy (poll or backoff).
	DefaultStrategy = "backoff"

	// DefaultEngineCommand is the external scanner binary.
	DefaultEngineCommand = "clamscan"

	// DefaultRetentionDays is how long run history entries are kept.
	DefaultRetentionDays = 30
)

// DefaultExclusions are paths never descended into during a scan.
var DefaultExclusions = []string{
	"/proc",
	"/sys",
	"/dev",
	"/run",
}

// ProducersFor derives the producer count from the worker count: wide
// worker pools get 4 traversal producers, narrow ones get 2.
func ProducersFor(workers int) int {
	if workers >= 8 {
		return 4
	}
	return 2
}

// ClampWorkers bounds a requested worker count to [1, MaxWorkers].
func ClampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
