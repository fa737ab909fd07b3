package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// RecordSource yields parsed log records in input order. Next returns io.EOF
// once the input is exhausted and *MalformedRecordError for a bad record
// that can be skipped.
type RecordSource interface {
	Next(ctx context.Context) (Record, error)
}

// SchedulerConfig sizes the pipeline.
type SchedulerConfig struct {
	QueueCapacity int
	Workers       int
	Speed         float64
	// Target turns a recorded path into the URL to request.
	Target func(path string) string
}

// Progress is a point-in-time view of a replay.
type Progress struct {
	State      string `json:"state"`
	Scheduled  int64  `json:"scheduled"`
	Skipped    int64  `json:"skipped"`
	Dispatched int64  `json:"dispatched"`
	Written    int64  `json:"written"`
	QueueDepth int    `json:"queue_depth"`
	Active     int    `json:"active"`
	Backlog    int    `json:"backlog"`
}

// Scheduler turns log records into tasks and drives the queue, dispatcher,
// pool and collector through an orderly shutdown.
type Scheduler struct {
	cfg      SchedulerConfig
	clock    Clock
	observer Observer

	queue      *TaskQueue
	pool       *WorkerPool
	collector  *Collector
	dispatcher *Dispatcher

	started   atomic.Bool
	finished  atomic.Bool
	scheduled atomic.Int64
	skipped   atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	clock    Clock
	limiter  Limiter
	observer Observer
	onError  func(Outcome, error)
}

// WithClock sets the clock for send times, waits and request timing.
func WithClock(c Clock) SchedulerOption {
	return func(o *schedulerOptions) { o.clock = c }
}

// WithRateLimit caps the dispatch rate.
func WithRateLimit(l Limiter) SchedulerOption {
	return func(o *schedulerOptions) { o.limiter = l }
}

// WithObserver sets the observer for every pipeline role.
func WithObserver(obs Observer) SchedulerOption {
	return func(o *schedulerOptions) { o.observer = obs }
}

// WithSinkErrors sets the callback for outcomes the sink failed to write.
func WithSinkErrors(fn func(Outcome, error)) SchedulerOption {
	return func(o *schedulerOptions) { o.onError = fn }
}

// NewScheduler builds the pipeline. Worker goroutines start immediately;
// the dispatcher and collector start with Run.
func NewScheduler(cfg SchedulerConfig, requester Requester, sink Sink, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg.Speed <= 0 || math.IsNaN(cfg.Speed) || math.IsInf(cfg.Speed, 0) {
		return nil, fmt.Errorf("playback speed must be a positive number, got %v", cfg.Speed)
	}
	if cfg.Target == nil {
		cfg.Target = func(path string) string { return path }
	}
	if sink == nil {
		return nil, errors.New("scheduler requires a sink")
	}

	o := schedulerOptions{clock: RealClock(), observer: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	queue, err := NewTaskQueue(cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	pool, err := NewWorkerPool(cfg.Workers, requester, WithPoolClock(o.clock))
	if err != nil {
		return nil, err
	}

	collectorOpts := []CollectorOption{WithCollectorObserver(o.observer)}
	if o.onError != nil {
		collectorOpts = append(collectorOpts, WithSinkErrorHandler(o.onError))
	}
	collector := NewCollector(sink, collectorOpts...)

	dispatchOpts := []DispatcherOption{WithDispatchClock(o.clock), WithDispatchObserver(o.observer)}
	if o.limiter != nil {
		dispatchOpts = append(dispatchOpts, WithLimiter(o.limiter))
	}

	return &Scheduler{
		cfg:        cfg,
		clock:      o.clock,
		observer:   o.observer,
		queue:      queue,
		pool:       pool,
		collector:  collector,
		dispatcher: NewDispatcher(queue, pool, collector, dispatchOpts...),
	}, nil
}

// Queue exposes the task queue for gauges.
func (s *Scheduler) Queue() *TaskQueue { return s.queue }

// Pool exposes the worker pool for gauges.
func (s *Scheduler) Pool() *WorkerPool { return s.pool }

// QueueDepth is the number of tasks waiting in the queue.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// Active is the number of requests currently executing.
func (s *Scheduler) Active() int { return s.pool.Active() }

// Backlog is the number of dispatched tasks waiting for a worker.
func (s *Scheduler) Backlog() int { return s.pool.Backlog() }

// Progress is safe to call while Run is in progress.
func (s *Scheduler) Progress() Progress {
	state := "idle"
	if s.started.Load() {
		state = s.dispatcher.State().String()
	}
	if s.finished.Load() {
		state = "finished"
	}
	return Progress{
		State:      state,
		Scheduled:  s.scheduled.Load(),
		Skipped:    s.skipped.Load(),
		Dispatched: s.dispatcher.Dispatched(),
		Written:    s.collector.Written(),
		QueueDepth: s.queue.Len(),
		Active:     s.pool.Active(),
		Backlog:    s.pool.Backlog(),
	}
}

// Run replays every record from src and returns once each accepted task has
// been dispatched and its outcome written. Cancelling ctx stops reading input
// but the tasks already queued still run; the returned error then wraps
// ctx.Err().
func (s *Scheduler) Run(ctx context.Context, src RecordSource) (Progress, error) {
	if !s.started.CompareAndSwap(false, true) {
		return s.Progress(), errors.New("scheduler can only run once")
	}

	// The pipeline outlives ctx so accepted tasks are never abandoned.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	dispatcherDone := make(chan struct{})
	g.Go(func() error { return s.collector.Run(gctx) })
	g.Go(func() error {
		defer close(dispatcherDone)
		return s.dispatcher.Run(gctx)
	})

	var ingestErr error
	g.Go(func() error {
		ingestErr = s.ingest(ctx, gctx, src)

		if err := s.queue.AwaitDrained(gctx); err != nil {
			return fmt.Errorf("await drained: %w", err)
		}
		if err := s.queue.PutShutdown(gctx); err != nil {
			return fmt.Errorf("queue shutdown: %w", err)
		}
		select {
		case <-dispatcherDone:
		case <-gctx.Done():
			return gctx.Err()
		}
		s.pool.Shutdown()
		select {
		case <-s.collector.Done():
		case <-gctx.Done():
			return gctx.Err()
		}
		return nil
	})

	err := g.Wait()
	s.pool.Shutdown()
	s.finished.Store(true)

	if err != nil {
		return s.Progress(), err
	}
	return s.Progress(), ingestErr
}

func (s *Scheduler) ingest(ctx, pipeline context.Context, src RecordSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(pipeline, cancel)
	defer stop()

	var (
		first         = true
		logStart      time.Time
		playbackStart time.Time
	)
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		var malformed *MalformedRecordError
		if errors.As(err, &malformed) {
			s.skip(err)
			continue
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if rec.Path == "" {
			s.skip(&MalformedRecordError{Line: rec.Line, Reason: "empty path"})
			continue
		}

		if first {
			logStart = rec.Timestamp
			playbackStart = s.clock.Now()
			first = false
		}

		task := Task{
			URL:             s.cfg.Target(rec.Path),
			SendTime:        SendTime(playbackStart, logStart, rec.Timestamp, s.cfg.Speed),
			RecordedLatency: rec.RecordedLatency,
		}
		if err := s.queue.Put(ctx, task); err != nil {
			return fmt.Errorf("enqueue %s: %w", task.URL, err)
		}
		s.scheduled.Add(1)
		s.observer.TaskScheduled(task)
	}
}

func (s *Scheduler) skip(err error) {
	s.skipped.Add(1)
	s.observer.RecordSkipped(err)
}

// SendTime maps a recorded timestamp onto the playback timeline:
// playbackStart + (logTime - logStart) / speed. Offsets beyond the range of
// time.Duration saturate.
func SendTime(playbackStart, logStart, logTime time.Time, speed float64) time.Time {
	offset := float64(logTime.Sub(logStart)) / speed
	switch {
	case offset >= math.MaxInt64:
		return playbackStart.Add(time.Duration(math.MaxInt64))
	case offset <= math.MinInt64:
		return playbackStart.Add(time.Duration(math.MinInt64))
	}
	return playbackStart.Add(time.Duration(offset))
}
