//go:build linux

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect detects available system resources. On Linux it reads memory
// figures from sysinfo(2).
func Detect() (SystemResources, error) {
	resources := SystemResources{
		CPUCores: runtime.NumCPU(),
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return resources, fmt.Errorf("sysinfo: %w", err)
	}

	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	resources.TotalRAM = int64(info.Totalram) * unit

	// Freeram undercounts what is actually reclaimable (page cache),
	// so treat free plus buffers as available, floored at 25% of total.
	available := (int64(info.Freeram) + int64(info.Bufferram)) * unit
	if floor := resources.TotalRAM / 4; available < floor {
		available = floor
	}
	resources.AvailableRAM = available

	return resources, nil
}
