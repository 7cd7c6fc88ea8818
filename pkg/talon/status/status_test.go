package status

import (
	"sync"
	"testing"
)

// TestTryAdvanceMonotonic verifies forward-only transitions.
func TestTryAdvanceMonotonic(t *testing.T) {
	var w Word

	if w.Get() != Unfinished {
		t.Fatalf("zero value: got %v", w.Get())
	}

	if !w.TryAdvanceTo(ProducerDone) {
		t.Error("first advance to ProducerDone should succeed")
	}
	if w.TryAdvanceTo(ProducerDone) {
		t.Error("re-advance to same state should be a no-op")
	}
	if w.TryAdvanceTo(Unfinished) {
		t.Error("advance backwards should be a no-op")
	}
	if w.Get() != ProducerDone {
		t.Errorf("got %v, want ProducerDone", w.Get())
	}

	if !w.TryAdvanceTo(AllTasksDone) {
		t.Error("advance to AllTasksDone should succeed")
	}
}

// TestQuitOverrides verifies ForceQuit wins from any state and is never
// rolled back by a late advance.
func TestQuitOverrides(t *testing.T) {
	var w Word
	w.TryAdvanceTo(ProducerDone)
	w.Quit()

	if !w.Quitting() {
		t.Fatal("expected Quitting after Quit")
	}
	if w.TryAdvanceTo(AllTasksDone) {
		t.Error("advance past ForceQuit should be a no-op")
	}
	if w.Get() != ForceQuit {
		t.Errorf("got %v, want ForceQuit", w.Get())
	}
}

// TestConcurrentAdvance hammers the word from many goroutines and
// verifies every observation is non-decreasing.
func TestConcurrentAdvance(t *testing.T) {
	var w Word
	var wg sync.WaitGroup

	observe := func() {
		defer wg.Done()
		prev := Unfinished
		for i := 0; i < 10000; i++ {
			cur := w.Get()
			if cur < prev {
				t.Errorf("status went backwards: %v after %v", cur, prev)
				return
			}
			prev = cur
		}
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go observe()
	}
	for _, s := range []Status{ProducerDone, AllTasksDone} {
		wg.Add(1)
		go func(s Status) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				w.TryAdvanceTo(s)
			}
		}(s)
	}
	wg.Wait()
}

func TestString(t *testing.T) {
	names := map[Status]string{
		Unfinished:   "unfinished",
		ProducerDone: "producer-done",
		AllTasksDone: "all-tasks-done",
		ForceQuit:    "force-quit",
		Status(99):   "invalid",
	}
	for s, want := range names {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q, want %q", s, got, want)
		}
	}
}
