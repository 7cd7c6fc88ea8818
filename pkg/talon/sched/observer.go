package sched

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Observer supervises one pool of goroutines sharing a role. It tracks
// their completion and guarantees the pool's status announcement
// happens at most once, no matter how many members race to make it.
type Observer struct {
	role      string
	group     *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	announced atomic.Bool
}

// NewObserver builds an observer whose members inherit from parent.
func NewObserver(parent context.Context, role string) *Observer {
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	return &Observer{
		role:   role,
		group:  g,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Spawn adds one pool member.
func (o *Observer) Spawn(fn func(ctx context.Context) error) {
	o.group.Go(func() error {
		return fn(o.ctx)
	})
}

// NotifyDone records that the pool's work phase is over. The first
// caller wins; later calls are no-ops.
func (o *Observer) NotifyDone() bool {
	if !o.announced.CompareAndSwap(false, true) {
		return false
	}
	close(o.done)
	return true
}

// Done is closed once NotifyDone has been called.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Stop cancels the pool and waits for every member to return. The
// first non-nil member error is returned.
func (o *Observer) Stop() error {
	o.cancel()
	return o.group.Wait()
}

// Wait blocks until every member has returned, without cancelling.
func (o *Observer) Wait() error {
	return o.group.Wait()
}
