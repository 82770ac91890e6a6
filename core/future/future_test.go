package future

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestWrapInvokesEagerly verifies that Wrap issues the underlying call
// immediately rather than waiting for the first Await.
func TestWrapInvokesEagerly(t *testing.T) {
	called := false
	f := Wrap(func(deliver func(int)) {
		called = true
		deliver(7)
	})
	require.True(t, called, "Wrap must call fn before returning")
	require.Equal(t, 7, f.Await())
}

// TestAwaitAfterCallback covers the callback-fires-first ordering: the
// result is stored and a later Await returns it without blocking.
func TestAwaitAfterCallback(t *testing.T) {
	f, deliver := New[string]()
	deliver("done")
	require.Equal(t, "done", f.Await())
}

// TestAwaitBeforeCallback covers the consumer-first ordering: Await blocks
// until the callback fires on another goroutine.
func TestAwaitBeforeCallback(t *testing.T) {
	f, deliver := New[string]()

	go func() {
		time.Sleep(50 * time.Millisecond)
		deliver("late")
	}()

	start := time.Now()
	got := f.Await()
	require.Equal(t, "late", got)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "Await should have blocked until delivery")
}

// TestSecondAwaitPanics: a one-shot future has exactly one consumer;
// awaiting twice is API misuse and must fail loudly.
func TestSecondAwaitPanics(t *testing.T) {
	f, deliver := New[int]()
	deliver(1)
	require.Equal(t, 1, f.Await())
	require.Panics(t, func() { f.Await() })
}

// TestSecondDeliveryPanics: the producer side promises a single callback
// invocation; a second delivery indicates protocol misbehavior.
func TestSecondDeliveryPanics(t *testing.T) {
	_, deliver := New[int]()
	deliver(1)
	require.Panics(t, func() { deliver(2) })
}
