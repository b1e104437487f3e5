// Package widgetsync keeps the visitor widget and the admin dashboard in step
// with the server by polling cheap version checks.
package widgetsync

import (
	"context"
	"sync"
	"time"
)

// Task is a recurring job with a cancellation handle. Runs never overlap: a
// run that outlasts the interval delays the next one.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every runs fn immediately and then every interval until Stop or ctx ends.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) *Task {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	cctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(cctx)
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				fn(cctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for an in-flight run to return.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

func (t *Task) Done() <-chan struct{} { return t.done }
