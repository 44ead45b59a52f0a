package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue. Jobs do not survive restarts.
type MemoryQueue struct {
	ready chan *Job

	mu     sync.Mutex
	dead   []*Job
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

// NewMemoryQueue creates an in-process queue with the given buffer size.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		ready:  make(chan *Job, buffer),
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case q.ready <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.ready:
		return job, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(_ context.Context, _ *Job) error { return nil }

func (q *MemoryQueue) Retry(_ context.Context, job *Job, delay time.Duration) error {
	job.NotBefore = time.Now().Add(delay)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		select {
		case q.ready <- job:
		case <-q.done:
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job *Job, reason string) error {
	job.LastError = reason
	q.mu.Lock()
	q.dead = append(q.dead, job)
	q.mu.Unlock()
	return nil
}

// DeadLetters returns the parked jobs.
func (q *MemoryQueue) DeadLetters() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.done)
	return nil
}
