// Package loop provides the single-threaded callback loop that owns all
// stream I/O of a process. Other goroutines hand work to the loop with
// AddCallback and never touch loop-owned state directly.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/relayflow/internal/runtime/logging"
)

// Loop runs callbacks one at a time in the order they were added.
type Loop struct {
	logger logging.ServiceLogger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
	running bool
}

// New creates a loop. Callbacks can be queued before Run is called.
func New(logger logging.ServiceLogger) *Loop {
	return &Loop{
		logger: logging.OrNop(logger),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// AddCallback queues fn. It never blocks and is safe from any goroutine.
// Callbacks added after Stop are discarded.
func (l *Loop) AddCallback(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// CallLater queues fn once d has elapsed. The returned timer can cancel it.
func (l *Loop) CallLater(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.AddCallback(fn) })
}

// Len reports the number of queued callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes callbacks until ctx is done or Stop is called. Only one Run
// may be active at a time.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("relayflow: loop is already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		}
	}
}

// RunPending synchronously runs the callbacks queued at the time of the call,
// plus any they queue themselves, and returns how many ran. Tests use it to
// drive the loop without a Run goroutine.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
		n++
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Loop callback panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	fn()
}

// Stop makes Run return and discards callbacks queued afterwards. It is safe
// to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}
