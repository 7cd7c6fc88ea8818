package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talonsec/talon/pkg/talon/types"
)

func mustTask(t *testing.T, path string) types.Task {
	t.Helper()
	task, err := types.NewTask(types.TaskScanFile, path)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task
}

// TestCapacityRounding verifies power-of-two rounding and clamping.
func TestCapacityRounding(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{requested: 0, want: 2},
		{requested: -5, want: 2},
		{requested: 2, want: 2},
		{requested: 3, want: 4},
		{requested: 100, want: 128},
		{requested: 1024, want: 1024},
		{requested: MaxCapacity + 1, want: MaxCapacity},
	}
	for _, tt := range tests {
		if got := New(tt.requested).Capacity(); got != tt.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", tt.requested, got, tt.want)
		}
	}
}

// TestPushPopRoundTrip verifies FIFO order through wraparound.
func TestPushPopRoundTrip(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	// Two full cycles through the ring.
	buf := make([]types.Task, 4)
	for cycle := 0; cycle < 2; cycle++ {
		paths := []string{"/a", "/b", "/c", "/d"}
		for _, p := range paths {
			if err := q.Push(ctx, mustTask(t, p)); err != nil {
				t.Fatalf("Push(%s): %v", p, err)
			}
		}
		got := q.TryPopBatch(buf)
		if got != 4 {
			t.Fatalf("cycle %d: popped %d, want 4", cycle, got)
		}
		for i, p := range paths {
			if buf[i].Path != p {
				t.Errorf("cycle %d: buf[%d] = %q, want %q", cycle, i, buf[i].Path, p)
			}
		}
	}
}

// TestNilAndZeroSafety verifies failure modes are errors, not crashes.
func TestNilAndZeroSafety(t *testing.T) {
	var q *Queue

	if err := q.Push(context.Background(), mustTask(t, "/a")); !errors.Is(err, ErrNilQueue) {
		t.Errorf("nil queue push: got %v", err)
	}
	if got := q.TryPopBatch(make([]types.Task, 4)); got != 0 {
		t.Errorf("nil queue pop: got %d", got)
	}
	if !q.ApproxEmpty() {
		t.Error("nil queue should read as empty")
	}
	q.DoneInFlight(1)
	if q.InFlight() != 0 {
		t.Error("nil queue in-flight should be 0")
	}

	if q.TryPush(mustTask(t, "/a")) {
		t.Error("nil queue TryPush should fail")
	}

	real := New(4)
	if err := real.Push(context.Background(), types.Task{}); !errors.Is(err, ErrZeroTask) {
		t.Errorf("zero task push: got %v", err)
	}
	if real.TryPush(types.Task{}) {
		t.Error("zero task TryPush should fail")
	}
	if got := real.TryPopBatch(nil); got != 0 {
		t.Errorf("nil buf pop: got %d", got)
	}
}

// TestTryPushFullQueue verifies TryPush fails fast on a full queue and
// recovers after a pop frees a slot.
func TestTryPushFullQueue(t *testing.T) {
	q := New(2)

	if !q.TryPush(mustTask(t, "/a")) || !q.TryPush(mustTask(t, "/b")) {
		t.Fatal("TryPush should succeed while slots remain")
	}
	if q.TryPush(mustTask(t, "/c")) {
		t.Error("TryPush should fail on a full queue")
	}

	buf := make([]types.Task, 1)
	if got := q.TryPopBatch(buf); got != 1 {
		t.Fatalf("pop: got %d, want 1", got)
	}
	q.DoneInFlight(1)

	if !q.TryPush(mustTask(t, "/c")) {
		t.Error("TryPush should succeed after a slot frees")
	}
}

// TestPushBlocksWhenFull verifies push blocks on a full queue and is
// released by a pop or by context cancellation.
func TestPushBlocksWhenFull(t *testing.T) {
	q := New(2)
	ctx := context.Background()
	for _, p := range []string{"/a", "/b"} {
		if err := q.Push(ctx, mustTask(t, p)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// Blocked push released by a pop.
	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, mustTask(t, "/c"))
	}()
	select {
	case <-done:
		t.Fatal("push on full queue returned without a free slot")
	case <-time.After(20 * time.Millisecond):
	}
	if got := q.TryPopBatch(make([]types.Task, 1)); got != 1 {
		t.Fatalf("pop: got %d", got)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("released push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push not released by pop")
	}

	// Blocked push released by cancellation.
	cctx, cancel := context.WithCancel(context.Background())
	go func() {
		done <- q.Push(cctx, mustTask(t, "/d"))
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled push: got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push not released by cancellation")
	}
}

// TestTryPopBatchBounded verifies the non-blocking pop returns quickly
// on an empty, full, and lock-contended queue.
func TestTryPopBatchBounded(t *testing.T) {
	q := New(8)
	buf := make([]types.Task, 4)

	start := time.Now()
	if got := q.TryPopBatch(buf); got != 0 {
		t.Fatalf("empty queue: got %d", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("empty pop took %v", elapsed)
	}

	// Hold the index lock from another goroutine: pop must fail fast.
	q.mu.Lock()
	start = time.Now()
	if got := q.TryPopBatch(buf); got != 0 {
		t.Errorf("contended pop: got %d", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("contended pop took %v", elapsed)
	}
	q.mu.Unlock()
}

// TestApproxEmptyBias verifies the assume-non-empty bias under lock
// contention and the in-flight contribution.
func TestApproxEmptyBias(t *testing.T) {
	q := New(4)

	if !q.ApproxEmpty() {
		t.Fatal("fresh queue should be empty")
	}

	// Contended lock: must report non-empty even though it is empty.
	q.mu.Lock()
	if q.ApproxEmpty() {
		t.Error("contended check must assume non-empty")
	}
	q.mu.Unlock()

	// A popped batch stays in flight until retired, keeping the queue
	// non-empty for observers.
	if err := q.Push(context.Background(), mustTask(t, "/a")); err != nil {
		t.Fatal(err)
	}
	if q.ApproxEmpty() {
		t.Error("queue with buffered task should be non-empty")
	}
	got := q.TryPopBatch(make([]types.Task, 1))
	if got != 1 {
		t.Fatalf("pop: got %d", got)
	}
	if q.InFlight() != 1 {
		t.Errorf("in-flight = %d after pop, want 1", q.InFlight())
	}
	if q.ApproxEmpty() {
		t.Error("queue with in-flight task should be non-empty")
	}
	q.DoneInFlight(1)
	if !q.ApproxEmpty() {
		t.Error("drained queue should be empty")
	}
}

// TestConservation runs concurrent pushers and poppers and verifies no
// task is lost or duplicated, and the count never exceeds capacity.
func TestConservation(t *testing.T) {
	const (
		pushers  = 4
		poppers  = 4
		perPush  = 500
		capacity = 16
	)

	q := New(capacity)
	ctx := context.Background()

	var popped atomic.Int64
	var maxSeen atomic.Int64
	seen := make(map[string]int)
	var seenMu sync.Mutex

	var pushWG, popWG sync.WaitGroup
	stop := make(chan struct{})

	for p := 0; p < poppers; p++ {
		popWG.Add(1)
		go func() {
			defer popWG.Done()
			buf := make([]types.Task, 8)
			for {
				got := q.TryPopBatch(buf)
				if c := int64(q.Len()); c > maxSeen.Load() {
					maxSeen.Store(c)
				}
				if got == 0 {
					select {
					case <-stop:
						// Final drain before exiting.
						if q.TryPopBatch(buf[:1]) == 0 {
							return
						}
						got = 1
					default:
						continue
					}
				}
				seenMu.Lock()
				for i := 0; i < got; i++ {
					seen[buf[i].Path]++
				}
				seenMu.Unlock()
				popped.Add(int64(got))
				q.DoneInFlight(got)
			}
		}()
	}

	for p := 0; p < pushers; p++ {
		pushWG.Add(1)
		go func(id int) {
			defer pushWG.Done()
			for i := 0; i < perPush; i++ {
				task := types.Task{Kind: types.TaskScanFile, Path: string(rune('a'+id)) + "/" + itoa(i)}
				if err := q.Push(ctx, task); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}(p)
	}

	pushWG.Wait()
	close(stop)
	popWG.Wait()

	total := int64(pushers * perPush)
	if popped.Load() != total {
		t.Errorf("popped %d, pushed %d", popped.Load(), total)
	}
	for path, n := range seen {
		if n != 1 {
			t.Errorf("task %q popped %d times", path, n)
		}
	}
	if m := maxSeen.Load(); m > capacity {
		t.Errorf("count reached %d, capacity %d", m, capacity)
	}
	if !q.ApproxEmpty() {
		t.Error("queue should be drained")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
