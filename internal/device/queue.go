package device

import (
	"context"
	"runtime"
	"sync"
)

// Queue runs submitted commands one at a time, in submission order, on a
// single goroutine.
type Queue struct {
	mu     sync.Mutex
	closed bool
	cmds   chan func()
	done   chan struct{}
}

// QueueOptions configure the worker goroutine.
type QueueOptions struct {
	// Depth is the number of commands that may be pending before Submit blocks.
	Depth int
	// LockThread pins the worker to its OS thread, as GL contexts require.
	LockThread bool
	// Setup runs on the worker before any command. A non-nil error aborts the queue.
	Setup func() error
	// Teardown runs on the worker after the last command.
	Teardown func()
}

// NewQueue starts the worker. It returns the Setup error, if any.
func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.Depth <= 0 {
		opts.Depth = 64
	}
	q := &Queue{
		cmds: make(chan func(), opts.Depth),
		done: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go func() {
		defer close(q.done)
		if opts.LockThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		if opts.Setup != nil {
			if err := opts.Setup(); err != nil {
				ready <- err
				return
			}
		}
		ready <- nil

		for cmd := range q.cmds {
			cmd()
		}
		if opts.Teardown != nil {
			opts.Teardown()
		}
	}()

	if err := <-ready; err != nil {
		q.closed = true
		return nil, err
	}
	return q, nil
}

// Submit enqueues fn. It fails with ErrClosed after Close.
func (q *Queue) Submit(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.cmds <- fn
	return nil
}

// OnSubmittedWorkDone returns a channel closed once every command submitted
// before the call has run.
func (q *Queue) OnSubmittedWorkDone() <-chan struct{} {
	ch := make(chan struct{})
	if err := q.Submit(func() { close(ch) }); err != nil {
		close(ch)
	}
	return ch
}

// Do runs fn on the queue and waits for its result.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if err := q.Submit(func() { res <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands, runs the pending ones and waits for the
// worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.cmds)
	}
	q.mu.Unlock()
	<-q.done
}
