package application

import "sync"

// taskQueue runs submitted functions one at a time, in submission order, on
// a single goroutine. It is unbounded: push never blocks.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// push enqueues fn. It returns false once the queue is closed.
func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return true
}

// exec runs fn on the queue and waits for it to finish. It must not be
// called from the queue goroutine.
func (q *taskQueue) exec(fn func()) bool {
	finished := make(chan struct{})
	if !q.push(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// close rejects new tasks, drains the queued ones and waits for the worker
// to exit. It must not be called from the queue goroutine.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *taskQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
