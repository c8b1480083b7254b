package reconcile

import "sync"

// Executor runs submitted tasks with per-key serialization: tasks sharing
// a key execute one at a time in submission order, tasks with different
// keys run concurrently. Used to honor per-entity-id event ordering.
type Executor struct {
	mu     sync.Mutex
	queues map[string][]func()
	closed bool
}

// NewExecutor creates an Executor.
func NewExecutor() *Executor {
	return &Executor{queues: make(map[string][]func())}
}

// Submit enqueues fn under key. Submissions after Close are dropped.
func (e *Executor) Submit(key []byte, fn func()) {
	k := string(key)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	// A key present in the map has a live worker draining it.
	_, running := e.queues[k]
	e.queues[k] = append(e.queues[k], fn)
	e.mu.Unlock()

	if !running {
		go e.drain(k)
	}
}

// drain runs queued tasks for one key until the queue empties, then
// retires the worker.
func (e *Executor) drain(k string) {
	for {
		e.mu.Lock()
		q := e.queues[k]
		if len(q) == 0 || e.closed {
			delete(e.queues, k)
			e.mu.Unlock()
			return
		}
		fn := q[0]
		e.queues[k] = q[1:]
		e.mu.Unlock()

		fn()
	}
}

// Close drops all pending tasks and rejects new submissions. It does not
// wait for in-flight tasks; teardown must not block on pending work.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.queues = make(map[string][]func())
	e.mu.Unlock()
}
