package sync

// Executor runs callbacks. Implementations decide the goroutine.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// InlineExecutor runs callbacks on the goroutine that delivers them. The
// engine never holds its lock while delivering.
type InlineExecutor struct{}

func (InlineExecutor) Execute(fn func()) { fn() }

// serialExecutor runs callbacks one at a time, in submission order, on a
// dedicated goroutine.
type serialExecutor struct {
	q    *jobQueue
	done chan struct{}
}

func newSerialExecutor() *serialExecutor {
	se := &serialExecutor{q: newJobQueue(), done: make(chan struct{})}

	go func() {
		defer close(se.done)
		se.q.run()
	}()

	return se
}

// Execute queues fn. After close, fn runs on the caller's goroutine so no
// callback is lost.
func (se *serialExecutor) Execute(fn func()) {
	if !se.q.push(fn) {
		fn()
	}
}

// close stops accepting callbacks. Queued ones still run; with wait set,
// close returns after they have.
func (se *serialExecutor) close(wait bool) {
	se.q.close()

	if wait {
		<-se.done
	}
}
