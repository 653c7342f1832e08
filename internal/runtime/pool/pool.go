// Package pool runs tasks on goroutines bounded by a weighted semaphore and
// reports each outcome as an explicit Result.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/logging"
)

// ErrorKind classifies a failed Result.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInitialize
	KindExecution
	KindPanic
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInitialize:
		return "initialize"
	case KindExecution:
		return "execution"
	case KindPanic:
		return "panic"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Result is the outcome of a task.
type Result struct {
	Value any
	Err   error
	Kind  ErrorKind
}

// OK reports whether the task succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Failed builds a Result for err with the given kind.
func Failed(kind ErrorKind, err error) Result {
	return Result{Err: err, Kind: kind}
}

// Task is one unit of work. It should return promptly once ctx is done.
type Task func(ctx context.Context) Result

// Future holds the eventual Result of a submitted task.
type Future struct {
	done   chan struct{}
	result Result
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Poll returns the result without waiting. ok is false while the task is
// still queued or running.
func (f *Future) Poll() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Pool runs at most Size tasks at once. Submit never blocks; tasks beyond
// the limit wait for a slot.
type Pool struct {
	size   int
	sem    *semaphore.Weighted
	logger logging.ServiceLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a pool of size workers. size below 1 is treated as 1.
func New(size int, logger logging.ServiceLogger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logging.OrNop(logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Submit schedules task. notify, when non-nil, runs on the worker goroutine
// right after the result is stored; it must not block.
func (p *Pool) Submit(task Task, notify func(*Future)) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, rferrors.ErrPoolClosed
	}

	f := &Future{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f.result = p.run(task)
		close(f.done)
		if notify != nil {
			notify(f)
		}
	}()
	return f, nil
}

func (p *Pool) run(task Task) (res Result) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return Failed(KindCanceled, err)
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panicked", err, logging.LogFields{"stack": string(debug.Stack())})
			res = Failed(KindPanic, err)
		}
	}()
	return task(p.ctx)
}

// Close rejects new tasks and waits for submitted ones. If ctx ends first,
// the context passed to tasks is canceled and queued tasks finish with
// KindCanceled; Close still waits for running tasks to return.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
