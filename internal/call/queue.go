package call

import (
	"context"
	"sync"
)

// serialQueue runs jobs one at a time, in submission order, on its own
// goroutine. submit never blocks.
type serialQueue struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// submit queues job. It returns false after close.
func (q *serialQueue) submit(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *serialQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		jobs := q.jobs
		q.jobs = nil
		closed := q.closed
		q.mu.Unlock()

		for _, job := range jobs {
			job()
		}
		if len(jobs) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// close stops accepting jobs and waits until the queued ones ran or ctx
// expires.
func (q *serialQueue) close(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	select {
	case <-q.done:
	case <-ctx.Done():
	}
}
