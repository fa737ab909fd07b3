package replay

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/logreplay/internal/tracing"
)

// State is the lifecycle phase of the Dispatcher.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Limiter caps the dispatch rate. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Dispatcher is the single consumer of the task queue. It waits for each
// task's send time and hands it to the worker pool, so tasks reach the pool
// in queue order.
type Dispatcher struct {
	queue     *TaskQueue
	pool      *WorkerPool
	collector *Collector
	clock     Clock
	limiter   Limiter
	observer  Observer

	state      atomic.Int32
	dispatched atomic.Int64

	seq int64 // owned by the Run goroutine
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchClock sets the clock used to wait for send times.
func WithDispatchClock(c Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLimiter caps how fast tasks are handed to the pool.
func WithLimiter(l Limiter) DispatcherOption {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithDispatchObserver sets the observer notified for every dispatch.
func WithDispatchObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher wires a dispatcher between queue, pool and collector.
func NewDispatcher(queue *TaskQueue, pool *WorkerPool, collector *Collector, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:     queue,
		pool:      pool,
		collector: collector,
		clock:     RealClock(),
		observer:  NopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle phase.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Dispatched returns the number of tasks handed to the pool.
func (d *Dispatcher) Dispatched() int64 { return d.dispatched.Load() }

// Run consumes the queue until the terminal sentinel, then shuts the
// collector down. Late tasks are dispatched immediately, never dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for d.State() == StateRunning {
		item, err := d.queue.Take(ctx)
		if err != nil {
			return fmt.Errorf("take task: %w", err)
		}

		if item.Shutdown {
			d.state.Store(int32(StateDraining))
			err := d.collector.Shutdown(ctx, false)
			if doneErr := d.queue.MarkDone(); err == nil {
				err = doneErr
			}
			d.state.Store(int32(StateStopped))
			if err != nil {
				return fmt.Errorf("stop dispatcher: %w", err)
			}
			return nil
		}

		if err := d.dispatch(ctx, item.Task); err != nil {
			return err
		}
		if err := d.queue.MarkDone(); err != nil {
			return fmt.Errorf("acknowledge task: %w", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task Task) error {
	if wait := task.SendTime.Sub(d.clock.Now()); wait > 0 {
		if err := d.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("wait for send time: %w", err)
		}
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	lag := d.clock.Now().Sub(task.SendTime)
	if lag < 0 {
		lag = 0
	}

	seq := d.seq
	spanCtx, span := tracing.StartSpan(ctx, "replay.dispatch",
		attribute.String("url", task.URL),
		attribute.Int64("seq", seq),
		attribute.Int64("lag_ms", lag.Milliseconds()),
	)
	defer span.End()

	pending, err := d.pool.Submit(spanCtx, seq, task)
	if err != nil {
		tracing.SetSpanError(spanCtx, err)
		return fmt.Errorf("submit %s: %w", task.URL, err)
	}
	if err := d.collector.Put(pending); err != nil {
		tracing.SetSpanError(spanCtx, err)
		return fmt.Errorf("forward %s: %w", task.URL, err)
	}
	d.seq++
	d.dispatched.Add(1)
	d.observer.TaskDispatched(task, lag)
	return nil
}
