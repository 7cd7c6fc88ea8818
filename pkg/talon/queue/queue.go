// Package queue provides the bounded concurrent task queue shared by
// producer and worker pools. The queue is a fixed-capacity ring whose
// capacity is a power of two, flow-controlled by two counting
// semaphores ("slots free" and "items available") with a mutex guarding
// the ring indices.
//
// The consuming side is deliberately non-blocking: loops poll the queue
// in batches and re-check the shared status word between batches, so no
// consumer is ever parked inside a wait it cannot be cancelled out of.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Capacity bounds. Requests outside these are clamped.
const (
	MinCapacity = 2
	MaxCapacity = 1 << 20
)

// Queue operation errors.
var (
	ErrNilQueue = errors.New("queue is nil")
	ErrZeroTask = errors.New("refusing to push zero task")
)

// Queue is a bounded multi-producer multi-consumer task queue.
// All methods are safe for concurrent use. The zero value is not
// usable; construct with New.
type Queue struct {
	mu    sync.Mutex
	buf   []types.Task
	mask  uint64
	front uint64
	rear  uint64

	// count mirrors the number of buffered items. It is written only
	// under mu but read lock-free by observers, so it is atomic.
	count atomic.Int64

	// inflight counts tasks popped but not yet fully processed.
	// A queue is only "drained" when both count and inflight are zero.
	inflight atomic.Int64

	// slots and items are the counting semaphores: receiving from
	// slots claims a free slot, receiving from items claims a buffered
	// task. Their combined token count never exceeds capacity.
	slots chan struct{}
	items chan struct{}
}

// New creates a queue. The capacity is clamped to [MinCapacity,
// MaxCapacity] and rounded up to the next power of two so the ring
// indices wrap by bitmask.
func New(capacity int) *Queue {
	c := nextPowerOfTwo(capacity)

	q := &Queue{
		buf:   make([]types.Task, c),
		mask:  uint64(c - 1),
		slots: make(chan struct{}, c),
		items: make(chan struct{}, c),
	}
	for i := 0; i < c; i++ {
		q.slots <- struct{}{}
	}
	return q
}

// Capacity returns the effective (rounded) capacity.
func (q *Queue) Capacity() int {
	if q == nil {
		return 0
	}
	return len(q.buf)
}

// Len returns the approximate number of buffered tasks.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return int(q.count.Load())
}

// Push inserts a task, blocking until a free slot exists or ctx is
// cancelled. Pushing to a nil queue or pushing a zero task is an
// error, never a panic.
func (q *Queue) Push(ctx context.Context, task types.Task) error {
	if q == nil {
		return ErrNilQueue
	}
	if task.IsZero() {
		return ErrZeroTask
	}

	select {
	case <-q.slots:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	q.buf[q.rear&q.mask] = task
	q.rear++
	q.count.Add(1)
	q.mu.Unlock()

	// Cannot block: slot and item tokens sum to at most capacity.
	q.items <- struct{}{}
	return nil
}

// TryPush inserts a task only if a free slot is immediately available.
// Reports whether the task was enqueued. Producers use this for
// self-feeding queues, where blocking on a full queue while also being
// its only consumer would deadlock.
func (q *Queue) TryPush(task types.Task) bool {
	if q == nil || task.IsZero() {
		return false
	}

	select {
	case <-q.slots:
	default:
		return false
	}

	q.mu.Lock()
	q.buf[q.rear&q.mask] = task
	q.rear++
	q.count.Add(1)
	q.mu.Unlock()

	q.items <- struct{}{}
	return true
}

// TryPopBatch drains up to len(buf) tasks without blocking. If the
// index lock is contended it fails fast and returns 0. Each drain step
// re-acquires the item semaphore non-blockingly and stops early if that
// fails, which defends against a stale count observation. Returns the
// number of tasks written into buf.
//
// Popped tasks are marked in flight under the same lock, so no observer
// can see the queue empty while a batch sits unprocessed in a caller's
// buffer. The caller must retire the batch with DoneInFlight(n) once
// the tasks are handled.
func (q *Queue) TryPopBatch(buf []types.Task) int {
	if q == nil || len(buf) == 0 {
		return 0
	}
	if !q.mu.TryLock() {
		return 0
	}
	defer q.mu.Unlock()

	want := int(q.count.Load())
	if want > len(buf) {
		want = len(buf)
	}

	got := 0
	for got < want {
		select {
		case <-q.items:
		default:
			// count was stale; stop with what we have.
			return got
		}

		buf[got] = q.buf[q.front&q.mask]
		q.buf[q.front&q.mask] = types.Task{}
		q.front++
		q.count.Add(-1)
		q.inflight.Add(1)
		got++

		q.slots <- struct{}{}
	}
	return got
}

// ApproxEmpty is a best-effort emptiness check. If the index lock
// cannot be acquired immediately it assumes non-empty: a contended
// queue must never be declared drained, since that is what completion
// announcements hang off. Otherwise it is empty only when no tasks are
// buffered and none are in flight.
func (q *Queue) ApproxEmpty() bool {
	if q == nil {
		return true
	}
	if !q.mu.TryLock() {
		return false
	}
	defer q.mu.Unlock()
	return q.count.Load() == 0 && q.inflight.Load() == 0
}

// DoneInFlight retires n in-flight tasks.
func (q *Queue) DoneInFlight(n int) {
	if q == nil || n <= 0 {
		return
	}
	q.inflight.Add(int64(-n))
}

// InFlight returns the current in-flight count.
func (q *Queue) InFlight() int {
	if q == nil {
		return 0
	}
	return int(q.inflight.Load())
}

// nextPowerOfTwo clamps n to the capacity bounds and rounds up.
func nextPowerOfTwo(n int) int {
	if n < MinCapacity {
		n = MinCapacity
	}
	if n > MaxCapacity {
		n = MaxCapacity
	}
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}
