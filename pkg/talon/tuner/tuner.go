// Package tuner detects system resources and derives the scheduler's
// worker and queue configuration from them.
package tuner

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the available (free) RAM in bytes. May be an
	// estimate based on system heuristics.
	AvailableRAM int64
}
