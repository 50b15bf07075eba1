package segment

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrCanceled is returned from Wait when a pending promise's handle was
// canceled before it resolved.
var ErrCanceled = errors.New("operation canceled")

type promiseState int

const (
	statePending promiseState = iota
	stateResolved
	stateCanceled
)

// Promise is a handle to the result of an asynchronous operation scheduled
// on an Executor. Continuations registered on a promise always run as
// executor tasks, never on the resolver's call stack.
type Promise[T any] struct {
	exec *Executor

	mu        sync.Mutex
	state     promiseState
	value     T
	err       error
	callbacks []func(T, error)

	done chan struct{}
}

// newPromise creates a pending promise bound to exec and returns it together
// with its resolver. The first resolver call wins; later calls are ignored.
func newPromise[T any](exec *Executor) (*Promise[T], func(T, error)) {
	p := &Promise[T]{
		exec: exec,
		done: make(chan struct{}),
	}
	return p, p.resolve
}

func (p *Promise[T]) resolve(value T, err error) {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()
		return
	}
	p.state = stateResolved
	p.value, p.err = value, err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb := cb
		p.exec.Defer(func() { cb(value, err) })
	}
}

// then registers a continuation. If the promise is already resolved the
// continuation is deferred to a later executor iteration rather than run
// inline. Continuations on a canceled promise are dropped.
func (p *Promise[T]) then(cb func(T, error)) {
	p.mu.Lock()
	switch p.state {
	case statePending:
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	case stateCanceled:
		p.mu.Unlock()
		return
	}
	value, err := p.value, p.err
	p.mu.Unlock()

	p.exec.Defer(func() { cb(value, err) })
}

// Wait blocks the calling goroutine until the promise resolves or is
// canceled. It is the bridge for synchronous callers; calling it from the
// executor's own goroutine deadlocks the loop.
func (p *Promise[T]) Wait() (T, error) {
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateCanceled {
		var zero T
		return zero, ErrCanceled
	}
	return p.value, p.err
}

// Done returns a channel closed when the promise resolves or is canceled.
// It lets callers compose external timeouts or cancellation around a wait.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Cancel abandons a pending promise: Wait returns ErrCanceled and registered
// continuations are dropped. It only tears down the local state machine;
// bytes already consumed from the underlying transport stay consumed, so the
// stream's framing should be considered broken. Canceling a resolved promise
// is a no-op.
func (p *Promise[T]) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePending {
		return
	}
	p.state = stateCanceled
	p.callbacks = nil
	close(p.done)
}

// canceled reports whether the promise's handle has been canceled. State
// machines poll it between suspension points so a canceled operation stops
// issuing stream operations.
func (p *Promise[T]) canceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateCanceled
}
