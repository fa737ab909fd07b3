package replay

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// backlog is an unbounded FIFO shared by the worker pool and the collector.
// Bounding happens upstream in TaskQueue.
type backlog struct {
	mu     sync.Mutex
	ready  *sync.Cond
	q      *queue.Queue
	closed bool
}

func newBacklog() *backlog {
	b := &backlog{q: queue.New()}
	b.ready = sync.NewCond(&b.mu)
	return b
}

// push appends v. It returns false once the backlog is closed.
func (b *backlog) push(v any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.q.Add(v)
	b.ready.Signal()
	return true
}

// pop removes the oldest element, blocking while empty. ok is false when
// the backlog is closed and fully drained, or when ctx is done.
func (b *backlog) pop(ctx context.Context) (v any, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.ready.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.q.Length() == 0 {
		if b.closed || ctx.Err() != nil {
			return nil, false
		}
		b.ready.Wait()
	}
	return b.q.Remove(), true
}

// close stops admission; queued elements are still handed out by pop.
func (b *backlog) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.ready.Broadcast()
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}
