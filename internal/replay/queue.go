package replay

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// TaskQueue is a bounded priority queue of tasks. Put blocks while the queue
// is full, which is the only backpressure the replay applies to its input.
type TaskQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	drained  *sync.Cond

	items    itemHeap
	capacity int
	inFlight int
	shutdown bool
}

// NewTaskQueue creates a queue holding at most capacity items.
func NewTaskQueue(capacity int) (*TaskQueue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("task queue capacity must be >= 1, got %d", capacity)
	}
	q := &TaskQueue{
		items:    make(itemHeap, 0, capacity),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	return q, nil
}

// Put inserts task, blocking while the queue is full. A cancelled context
// abandons the wait and the task is not queued.
func (q *TaskQueue) Put(ctx context.Context, task Task) error {
	return q.put(ctx, Item{Task: task})
}

// PutShutdown queues the terminal sentinel. Later calls to Put fail with
// ErrQueueShutdown.
func (q *TaskQueue) PutShutdown(ctx context.Context) error {
	return q.put(ctx, Item{Shutdown: true})
}

func (q *TaskQueue) put(ctx context.Context, it Item) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return ErrQueueShutdown
	}
	for len(q.items) >= q.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
		if q.shutdown {
			return ErrQueueShutdown
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	heap.Push(&q.items, it)
	if it.Shutdown {
		q.shutdown = true
	}
	q.notEmpty.Signal()
	return nil
}

// Take removes and returns the smallest item, blocking while the queue is
// empty. Every successful Take must be matched by a MarkDone.
func (q *TaskQueue) Take(ctx context.Context) (Item, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		q.notEmpty.Wait()
	}

	it := heap.Pop(&q.items).(Item)
	q.inFlight++
	q.notFull.Signal()
	return it, nil
}

// MarkDone acknowledges one item returned by Take.
func (q *TaskQueue) MarkDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == 0 {
		return ErrMarkDoneUnderflow
	}
	q.inFlight--
	if q.inFlight == 0 && len(q.items) == 0 {
		q.drained.Broadcast()
	}
	return nil
}

// AwaitDrained blocks until the queue is empty and every taken item has been
// acknowledged.
func (q *TaskQueue) AwaitDrained(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.drained.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 || q.inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.drained.Wait()
	}
	return nil
}

// Len returns the number of queued items.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *TaskQueue) Cap() int {
	return q.capacity
}

// InFlight returns the number of taken but unacknowledged items.
func (q *TaskQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// itemHeap implements heap.Interface over Item.less.
type itemHeap []Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = Item{}
	*h = old[:n-1]
	return it
}
