package replay

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/austindbirch/logreplay/internal/tracing"
)

// Sink receives every outcome, in the order the collector resolves them.
type Sink interface {
	Write(ctx context.Context, outcome Outcome) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, outcome Outcome) error

func (f SinkFunc) Write(ctx context.Context, outcome Outcome) error { return f(ctx, outcome) }

type collectorSentinel struct{}

// Collector drains pending handles in the order they were put, waits for
// each to resolve and writes the outcome to its sink. A fast request
// dispatched after a slow one is therefore reported after it.
type Collector struct {
	sink     Sink
	observer Observer
	onError  func(Outcome, error)

	pending *backlog
	done    chan struct{}

	mu       sync.Mutex
	written  *sync.Cond
	put      int64
	resolved int64
	closed   bool
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectorObserver sets the observer notified for every recorded outcome.
func WithCollectorObserver(o Observer) CollectorOption {
	return func(c *Collector) { c.observer = o }
}

// WithSinkErrorHandler sets the callback invoked when the sink rejects an
// outcome. Sink errors never stop the collector.
func WithSinkErrorHandler(fn func(Outcome, error)) CollectorOption {
	return func(c *Collector) { c.onError = fn }
}

// NewCollector returns a collector writing to sink. Run must be started to
// drain it.
func NewCollector(sink Sink, opts ...CollectorOption) *Collector {
	c := &Collector{
		sink:     sink,
		observer: NopObserver{},
		onError:  func(Outcome, error) {},
		pending:  newBacklog(),
		done:     make(chan struct{}),
	}
	c.written = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put queues a handle for reporting.
func (c *Collector) Put(p *Pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCollectorClosed
	}
	if !c.pending.push(p) {
		return ErrCollectorClosed
	}
	c.put++
	return nil
}

// Shutdown queues the terminal sentinel. With wait set it first blocks until
// every handle put so far has been written. Only the first call queues a
// sentinel.
func (c *Collector) Shutdown(ctx context.Context, wait bool) error {
	if wait {
		if err := c.awaitWritten(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending.push(collectorSentinel{})
	c.pending.close()
	return nil
}

func (c *Collector) awaitWritten(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.written.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.resolved < c.put {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.written.Wait()
	}
	return nil
}

// Run drains handles until the sentinel arrives. It returns ctx.Err() if ctx
// ends first.
func (c *Collector) Run(ctx context.Context) error {
	for {
		v, ok := c.pending.pop(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			close(c.done)
			return nil
		}
		if _, stop := v.(collectorSentinel); stop {
			close(c.done)
			return nil
		}

		p := v.(*Pending)
		outcome, err := p.Wait(ctx)
		if err != nil {
			return err
		}
		c.write(ctx, p, outcome)
		c.observer.OutcomeRecorded(outcome)

		c.mu.Lock()
		c.resolved++
		c.written.Broadcast()
		c.mu.Unlock()
	}
}

// write hands outcome to the sink under a span parented by the task's
// dispatch span, so sinks can propagate the trace.
func (c *Collector) write(ctx context.Context, p *Pending, outcome Outcome) {
	ctx = oteltrace.ContextWithSpan(ctx, oteltrace.SpanFromContext(p.ctx))
	ctx, span := tracing.StartSpan(ctx, "replay.record",
		attribute.String("url", outcome.Task.URL),
		attribute.Int64("seq", outcome.Seq),
	)
	defer span.End()

	if err := c.sink.Write(ctx, outcome); err != nil {
		tracing.SetSpanError(ctx, err)
		c.onError(outcome, err)
	}
}

// Done is closed once Run has processed the sentinel.
func (c *Collector) Done() <-chan struct{} { return c.done }

// Written returns the number of outcomes handed to the sink.
func (c *Collector) Written() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}
