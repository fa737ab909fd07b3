package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Response is what a Requester returns for a request that reached the target.
type Response struct {
	Status        int
	Reason        string
	ContentLength int64
}

// Requester performs one request against the replay target. Implementations
// apply their own timeout.
type Requester interface {
	Do(ctx context.Context, url string) (Response, error)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, url string) (Response, error)

func (f RequesterFunc) Do(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// Pending is the handle for a submitted task. It resolves once the request
// has finished.
type Pending struct {
	ctx     context.Context
	seq     int64
	task    Task
	done    chan struct{}
	outcome Outcome
}

func newPending(ctx context.Context, seq int64, task Task) *Pending {
	return &Pending{ctx: ctx, seq: seq, task: task, done: make(chan struct{})}
}

// Task returns the submitted task.
func (p *Pending) Task() Task { return p.task }

// Seq returns the dispatch sequence number.
func (p *Pending) Seq() int64 { return p.seq }

// Done is closed when the outcome is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the outcome is available or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (p *Pending) resolve(o Outcome) {
	p.outcome = o
	close(p.done)
}

// WorkerPool runs requests on a fixed number of goroutines. Submit never
// blocks: tasks wait in an unbounded FIFO until a worker is free, so
// execution starts in submission order.
type WorkerPool struct {
	requester Requester
	clock     Clock
	workers   int
	backlog   *backlog
	wg        sync.WaitGroup
	active    atomic.Int64
	stopOnce  sync.Once
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolClock sets the clock used to measure request time.
func WithPoolClock(c Clock) PoolOption {
	return func(p *WorkerPool) { p.clock = c }
}

// NewWorkerPool starts workers goroutines executing requests with requester.
func NewWorkerPool(workers int, requester Requester, opts ...PoolOption) (*WorkerPool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be >= 1, got %d", workers)
	}
	if requester == nil {
		return nil, fmt.Errorf("worker pool requires a requester")
	}
	p := &WorkerPool{
		requester: requester,
		clock:     RealClock(),
		workers:   workers,
		backlog:   newBacklog(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p, nil
}

// Submit queues task for execution and returns its handle. The request runs
// detached from ctx cancellation; ctx only carries values such as the trace.
func (p *WorkerPool) Submit(ctx context.Context, seq int64, task Task) (*Pending, error) {
	pending := newPending(context.WithoutCancel(ctx), seq, task)
	if !p.backlog.push(pending) {
		return nil, ErrPoolClosed
	}
	return pending, nil
}

// Shutdown stops admission and waits for workers to finish the backlog.
func (p *WorkerPool) Shutdown() {
	p.stopOnce.Do(p.backlog.close)
	p.wg.Wait()
}

// Workers returns the pool size.
func (p *WorkerPool) Workers() int { return p.workers }

// Active returns the number of requests currently executing.
func (p *WorkerPool) Active() int { return int(p.active.Load()) }

// Backlog returns the number of submitted tasks waiting for a worker.
func (p *WorkerPool) Backlog() int { return p.backlog.len() }

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for {
		v, ok := p.backlog.pop(context.Background())
		if !ok {
			return
		}
		pending := v.(*Pending)
		pending.resolve(p.execute(pending))
	}
}

func (p *WorkerPool) execute(pending *Pending) (out Outcome) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := p.clock.Now()
	out = Outcome{Seq: pending.seq, Task: pending.task, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			out.Elapsed = elapsedSince(p.clock, start)
			out.Success = nil
			out.Failure = &Failure{Kind: KindOther, Message: fmt.Sprintf("request panicked: %v", r)}
		}
	}()

	resp, err := p.requester.Do(pending.ctx, pending.task.URL)
	out.Elapsed = elapsedSince(p.clock, start)

	switch {
	case err != nil:
		out.Failure = &Failure{Kind: ClassifyError(err), Message: err.Error()}
	case resp.Status < 200 || resp.Status > 299:
		out.Failure = &Failure{Kind: ClassifyStatus(resp.Status), Status: resp.Status, Message: resp.Reason}
	default:
		out.Success = &Success{Status: resp.Status, Reason: resp.Reason, ContentLength: resp.ContentLength}
	}
	return out
}

func elapsedSince(c Clock, start time.Time) time.Duration {
	d := c.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
