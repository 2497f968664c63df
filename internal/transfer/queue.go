package transfer

import (
	"context"
	"sync"
	"time"
)

// Queue is a FIFO of item ids shared by the workers of one run. It is drained
// when it is empty, no retry is waiting out its backoff and no popped id is
// still being processed.
type Queue struct {
	mu       sync.Mutex
	ids      []string
	delayed  int
	inflight int
	wake     chan struct{}
	timers   sync.WaitGroup
}

func NewQueue(ids ...string) *Queue {
	return &Queue{ids: append([]string(nil), ids...), wake: make(chan struct{})}
}

func (q *Queue) Push(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.broadcastLocked()
	q.mu.Unlock()
}

// PushAfter re-pushes id once delay has elapsed. prepare runs first and may
// veto the push; it is where the caller moves the item back to queued. When
// ctx ends before the delay, the id is dropped and prepare never runs.
func (q *Queue) PushAfter(ctx context.Context, id string, delay time.Duration, prepare func(string) bool) {
	q.mu.Lock()
	q.delayed++
	q.mu.Unlock()

	q.timers.Add(1)
	go func() {
		defer q.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		push := false
		select {
		case <-ctx.Done():
		case <-timer.C:
			// both may be ready at once
			if ctx.Err() == nil {
				push = prepare == nil || prepare(id)
			}
		}

		q.mu.Lock()
		q.delayed--
		if push {
			q.ids = append(q.ids, id)
		}
		q.broadcastLocked()
		q.mu.Unlock()
	}()
}

// Pop blocks until an id is available. It returns false once the queue is
// drained or ctx is done. Every successful Pop must be paired with Done.
func (q *Queue) Pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			q.inflight++
			q.mu.Unlock()
			return id, true
		}
		if q.delayed == 0 && q.inflight == 0 {
			q.mu.Unlock()
			return "", false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-wake:
		}
	}
}

func (q *Queue) Done() {
	q.mu.Lock()
	if q.inflight > 0 {
		q.inflight--
	}
	q.broadcastLocked()
	q.mu.Unlock()
}

// Wait blocks until every PushAfter goroutine has finished. Once it returns no
// prepare callback is running or will run.
func (q *Queue) Wait() {
	q.timers.Wait()
}

// Len reports ids ready to pop plus ids waiting out a retry delay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) + q.delayed
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
