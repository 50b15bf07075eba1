package segment

import "sync"

// Executor is a single-threaded cooperative scheduler. It owns exactly one
// goroutine; deferred tasks run on that goroutine in submission order, one at
// a time, until each returns. Reader and writer state machines advance only
// as executor tasks, so a task runs without interruption until it suspends by
// issuing a stream operation.
//
// Multiple Executors may run concurrently, each over its own disjoint set of
// streams. There is no package-level default instance; callers construct one
// and pass it explicitly.
type Executor struct {
	logger Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	stop sync.Once
}

// NewExecutor creates an executor and starts its loop goroutine.
func NewExecutor(opt ...Option) *Executor {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	e := &Executor{
		logger: opts.logger,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Defer schedules fn to run on a later loop iteration. It never runs fn
// inline, which keeps promise resolution from reentering the resolver's call
// stack. Tasks deferred after Shutdown are dropped.
func (e *Executor) Defer(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops the loop after draining already-queued tasks and waits for
// it to exit. Safe to call multiple times.
func (e *Executor) Shutdown() {
	e.stop.Do(func() {
		close(e.quit)
	})
	<-e.done
}

func (e *Executor) run() {
	defer close(e.done)

	for {
		e.runQueued()

		select {
		case <-e.wake:
		case <-e.quit:
			e.runQueued()

			e.mu.Lock()
			e.closed = true
			dropped := len(e.queue)
			e.queue = nil
			e.mu.Unlock()

			if dropped > 0 {
				e.logger.Debug("executor stopped with tasks pending", "dropped", dropped)
			}
			return
		}
	}
}

// runQueued takes the current batch and runs it. Tasks deferred while the
// batch runs land in the next batch.
func (e *Executor) runQueued() {
	for {
		e.mu.Lock()
		tasks := e.queue
		e.queue = nil
		e.mu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}
