package capture

import (
	"context"
	"sync"
)

// Executor runs camera operations on one background goroutine so callers
// never block on device open/close.
type Executor struct {
	tasks chan func()

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor starts a single-worker executor with a queue of the given size.
func NewExecutor(queue int) *Executor {
	if queue < 1 {
		queue = 1
	}
	e := &Executor{tasks: make(chan func(), queue)}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for task := range e.tasks {
			task()
		}
	}()
	return e
}

// Submit queues task. It blocks while the queue is full.
func (e *Executor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.tasks <- task
	return nil
}

// Do runs fn on the worker and waits for its result or for ctx to end.
// When ctx ends first, fn still runs to completion in the background.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := e.Submit(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish.
// It is safe to call more than once.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()

	e.wg.Wait()
}
