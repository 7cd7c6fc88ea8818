package sched

import (
	"time"

	"github.com/talonsec/talon/pkg/talon/status"
)

const watchdogInterval = 100 * time.Millisecond

// watch polls the status word until it reaches target or the pool
// announces completion, then cancels the pool and reaps its members.
//
// The watchdog is what turns an announcement into an actual shutdown:
// pool members spin on their queues until cancelled, so somebody has
// to observe the status transition and pull the plug. Running one
// watchdog per pool, producers first, gives the ordered teardown the
// shutdown protocol needs.
func watch(word *status.Word, obs *Observer, target status.Status) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-obs.Done():
		case <-ticker.C:
			if word.Get() < target {
				continue
			}
		}
		return obs.Stop()
	}
}
