package collab

import "sync"

// writeQueue chains background writes per room. Each write waits for the
// one queued before it, so a leave's decrement can never land ahead of
// the join's increment.
type writeQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// enqueue returns the channel closed when the previous write for roomID is
// done (nil when there is none) and the channel the new write closes.
func (q *writeQueue) enqueue(roomID string) (prev <-chan struct{}, done chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tails == nil {
		q.tails = make(map[string]chan struct{})
	}
	if tail, ok := q.tails[roomID]; ok {
		prev = tail
	}
	done = make(chan struct{})
	q.tails[roomID] = done
	return prev, done
}

func (q *writeQueue) release(roomID string, done chan struct{}) {
	close(done)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tails[roomID] == done {
		delete(q.tails, roomID)
	}
}
