package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Strategy names accepted in configuration.
const (
	StrategyPoll    = "poll"
	StrategyBackoff = "backoff"
)

// Default timing for the backoff strategy.
const (
	DefaultBackoffBase = 5 * time.Millisecond
	DefaultBackoffMax  = 200 * time.Millisecond

	// backoffIdleRun is how many consecutive empty polls are tolerated
	// before the wait doubles.
	backoffIdleRun = 4
)

// PopStrategy decides how a consumer loop waits for work. A strategy
// value belongs to a single loop; it is not safe for concurrent use.
// Both strategies return control within a bounded, small time so the
// caller can re-check the shared status word.
type PopStrategy interface {
	// PopBatch fills buf with up to len(buf) tasks and returns how
	// many were obtained, possibly zero.
	PopBatch(ctx context.Context, q *Queue, buf []types.Task) int
}

// NewStrategy builds the named strategy. Each pool member gets its own
// instance since the backoff variant carries per-loop state.
func NewStrategy(name string) (PopStrategy, error) {
	switch name {
	case StrategyPoll, "":
		return Poll{}, nil
	case StrategyBackoff:
		return NewBackoff(DefaultBackoffBase, DefaultBackoffMax), nil
	default:
		return nil, fmt.Errorf("unknown pop strategy %q", name)
	}
}

// Poll is the pure non-blocking strategy: one TryPopBatch attempt per
// call. The caller's loop supplies the pacing.
type Poll struct{}

// PopBatch implements PopStrategy.
func (Poll) PopBatch(_ context.Context, q *Queue, buf []types.Task) int {
	return q.TryPopBatch(buf)
}

// Backoff is the bounded timed-wait strategy: when the queue is empty
// it sleeps for the current wait plus random jitter, and after a run of
// idle calls doubles the wait up to the ceiling. A successful pop
// resets the wait. The sleep itself is context-cancellable, so the
// strategy always hands control back within its maximum wait.
type Backoff struct {
	base time.Duration
	max  time.Duration

	cur  time.Duration
	idle int
	rng  *rand.Rand
}

// NewBackoff creates a backoff strategy with the given base and ceiling.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base: base,
		max:  max,
		cur:  base,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PopBatch implements PopStrategy.
func (b *Backoff) PopBatch(ctx context.Context, q *Queue, buf []types.Task) int {
	if got := q.TryPopBatch(buf); got > 0 {
		b.cur = b.base
		b.idle = 0
		return got
	}

	wait := b.cur + b.jitter()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0
	}

	b.idle++
	if b.idle >= backoffIdleRun {
		b.idle = 0
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}

	// One more attempt after the wait; work may have arrived while we
	// slept and the caller should not pay another full round trip.
	if got := q.TryPopBatch(buf); got > 0 {
		b.cur = b.base
		return got
	}
	return 0
}

// jitter returns a random duration in [0, base).
func (b *Backoff) jitter() time.Duration {
	if b.base <= 0 {
		return 0
	}
	return time.Duration(b.rng.Int63n(int64(b.base)))
}
