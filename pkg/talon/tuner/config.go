package tuner

import "github.com/talonsec/talon/pkg/talon/config"

// Worker and queue sizing limits.
const (
	// minWorkers is the floor for the scan worker pool. External scan
	// calls are I/O and subprocess bound, so even small machines get a
	// few in flight.
	minWorkers = 4

	// minQueueSize and maxQueueSize bound the task queue capacity.
	minQueueSize = 256
	maxQueueSize = 65536

	// bytesPerQueueEntry estimates memory per queued task: a path
	// string plus the task header.
	bytesPerQueueEntry = 512

	// queueMemoryFraction is the fraction of available RAM dedicated
	// to the two task queues.
	queueMemoryFraction = 0.02
)

// OptimalConfig is the derived scheduler sizing.
type OptimalConfig struct {
	// Producers is the number of directory traversal loops.
	Producers int

	// Workers is the number of scan worker loops.
	Workers int

	// DirQueueSize and FileQueueSize are the queue capacities. The
	// queue rounds them up to powers of two.
	DirQueueSize  int
	FileQueueSize int
}

// Calculate derives scheduler sizing from detected resources. Worker
// count follows CPU count (scan calls burn a core in the engine
// subprocess) and the producer count is derived from it, never
// configured independently.
func Calculate(resources SystemResources) OptimalConfig {
	workers := max(resources.CPUCores, minWorkers)
	workers = config.ClampWorkers(workers)

	queueSize := calculateQueueSize(resources.AvailableRAM)

	return OptimalConfig{
		Producers:     config.ProducersFor(workers),
		Workers:       workers,
		DirQueueSize:  queueSize,
		FileQueueSize: queueSize,
	}
}

// CalculateWithOverrides applies a user-requested worker count, still
// clamped, with the producer count re-derived.
func CalculateWithOverrides(resources SystemResources, workerOverride int) OptimalConfig {
	cfg := Calculate(resources)
	if workerOverride > 0 {
		cfg.Workers = config.ClampWorkers(workerOverride)
		cfg.Producers = config.ProducersFor(cfg.Workers)
	}
	return cfg
}

// calculateQueueSize sizes a queue from available memory.
func calculateQueueSize(availableRAM int64) int {
	queueMemory := float64(availableRAM) * queueMemoryFraction
	entries := int(queueMemory/bytesPerQueueEntry) / 2

	entries = max(entries, minQueueSize)
	entries = min(entries, maxQueueSize)
	return entries
}
