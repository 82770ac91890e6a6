// Package future provides a one-shot, single-consumer future over a
// callback-style asynchronous call. It turns "call fn and wait for its
// callback" into a value that sequential code can block on, independent of
// any SQL semantics.
package future

import "sync"

// Future holds the eventual result of one callback invocation. It may be
// awaited by exactly one consumer, exactly once. The zero value is not
// usable; construct through New or Wrap.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	delivered bool
	claimed   bool
}

// New returns an empty future together with its deliver function. The
// deliver function must be invoked exactly once; a second invocation is
// treated as protocol misbehavior by the producer and panics.
func New[T any]() (*Future[T], func(T)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.deliver
}

// Wrap calls fn immediately, handing it the deliver function to use as its
// callback, and returns the future that will carry the callback's payload.
// fn is invoked eagerly: by the time Wrap returns, the underlying call has
// been issued (and may already have completed, if the callee is
// synchronous).
func Wrap[T any](fn func(deliver func(T))) *Future[T] {
	f, deliver := New[T]()
	fn(deliver)
	return f
}

func (f *Future[T]) deliver(v T) {
	f.mu.Lock()
	if f.delivered {
		f.mu.Unlock()
		panic("future: result delivered twice for the same call")
	}
	f.value = v
	f.delivered = true
	f.mu.Unlock()
	close(f.done)
}

// Await blocks until the result has been delivered and returns it. If the
// callback already fired, Await returns immediately. Await may be called
// once: a one-shot call has a single reader, and a second Await indicates
// misuse upstream, so it panics rather than returning a stale or blocked
// result.
func (f *Future[T]) Await() T {
	f.mu.Lock()
	if f.claimed {
		f.mu.Unlock()
		panic("future: awaited twice; a one-shot future has a single consumer")
	}
	f.claimed = true
	f.mu.Unlock()

	<-f.done
	return f.value
}
