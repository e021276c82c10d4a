package group

import "sync"

// Dispatcher runs callbacks on the context that owns the delegate.
type Dispatcher interface {
	Dispatch(fn func())
}

// MainQueue is a serial run loop. Functions passed to Dispatch execute one
// at a time, in order, on the goroutine that calls Run.
type MainQueue struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func NewMainQueue() *MainQueue {
	return &MainQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Dispatch enqueues fn without blocking. It is a no-op once the queue is closed.
func (q *MainQueue) Dispatch(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, fn)
	q.mu.Unlock()
	q.signal()
}

// Run drains the queue until Close is called and every pending function ran.
func (q *MainQueue) Run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()
		fn()
	}
}

// Close stops accepting work. Run returns after the backlog is drained.
// Safe to call from a dispatched function.
func (q *MainQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Done is closed when Run has returned.
func (q *MainQueue) Done() <-chan struct{} {
	return q.done
}

func (q *MainQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
