//go:build !linux && !darwin

package tuner

import "runtime"

// defaultTotalRAM is the fallback when no platform detection exists.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// Detect detects available system resources. Platforms without a
// specific implementation get CPU count plus a conservative RAM guess.
func Detect() (SystemResources, error) {
	return SystemResources{
		CPUCores:     runtime.NumCPU(),
		TotalRAM:     defaultTotalRAM,
		AvailableRAM: defaultTotalRAM / 2,
	}, nil
}
