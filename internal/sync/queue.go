package sync

import gosync "sync"

// jobQueue is an unbounded FIFO drained by a single goroutine. push never
// blocks, so timers and callbacks can enqueue without risking deadlock.
type jobQueue struct {
	mu     gosync.Mutex
	cond   *gosync.Cond
	jobs   []func()
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = gosync.NewCond(&q.mu)

	return q
}

// push enqueues fn. Returns false once the queue is closed.
func (q *jobQueue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, fn)
	q.cond.Signal()

	return true
}

// close stops accepting jobs. run returns after draining what is queued.
func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// run executes jobs until the queue is closed and empty.
func (q *jobQueue) run() {
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}

		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}

		fn := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		fn()
	}
}
