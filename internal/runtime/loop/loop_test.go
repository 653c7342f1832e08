package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPendingPreservesOrder(t *testing.T) {
	l := New(nil)
	var got []int
	for i := 0; i < 5; i++ {
		l.AddCallback(func() { got = append(got, i) })
	}
	assert.Equal(t, 5, l.Len())

	assert.Equal(t, 5, l.RunPending())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, l.Len())
}

func TestRunPendingRunsNestedCallbacks(t *testing.T) {
	l := New(nil)
	var got []string
	l.AddCallback(func() {
		got = append(got, "outer")
		l.AddCallback(func() { got = append(got, "inner") })
	})
	assert.Equal(t, 2, l.RunPending())
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	l := New(nil)
	ran := false
	l.AddCallback(func() { panic("boom") })
	l.AddCallback(func() { ran = true })
	assert.Equal(t, 2, l.RunPending())
	assert.True(t, ran)
}

func TestRunExecutesCallbacksFromOtherGoroutines(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddCallback(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 10
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStop(t *testing.T) {
	l := New(nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	l.Stop()
	l.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	l.AddCallback(func() {})
	assert.Equal(t, 0, l.Len())
}

func TestCallLater(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	fired := make(chan struct{})
	l.CallLater(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("CallLater callback did not run")
	}
}

func TestRunRejectsSecondRunner(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.running
	}, time.Second, time.Millisecond)

	assert.ErrorContains(t, l.Run(ctx), "already running")
}
