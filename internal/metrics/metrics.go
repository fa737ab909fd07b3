package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/logreplay/internal/replay"
)

var (
	TasksScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logreplay_tasks_scheduled_total",
			Help: "Total number of tasks accepted into the task queue.",
		},
	)

	RecordsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logreplay_records_skipped_total",
			Help: "Total number of malformed log records skipped.",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logreplay_tasks_dispatched_total",
			Help: "Total number of tasks handed to the worker pool.",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logreplay_requests_total",
			Help: "Total number of replayed requests by result and failure kind.",
		},
		[]string{"result", "kind"}, // result: success|failure, kind: "" for success
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logreplay_request_duration_seconds",
			Help:    "Time from request start to response or failure.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	DispatchLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logreplay_dispatch_lag_seconds",
			Help:    "How far behind its send time each task was dispatched.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	SinkErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logreplay_sink_errors_total",
			Help: "Total number of outcomes a result sink failed to write.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		TasksScheduledTotal,
		RecordsSkippedTotal,
		TasksDispatchedTotal,
		RequestsTotal,
		RequestDuration,
		DispatchLagSeconds,
		SinkErrorsTotal,
	)
}

// Gauges reports live pipeline load.
type Gauges interface {
	QueueDepth() int
	Active() int
	Backlog() int
}

// RegisterGauges exposes queue depth and worker load as gauge funcs.
func RegisterGauges(reg *prometheus.Registry, g Gauges) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "logreplay_queue_depth",
			Help: "Tasks waiting in the task queue.",
		}, func() float64 { return float64(g.QueueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "logreplay_workers_active",
			Help: "Workers currently executing a request.",
		}, func() float64 { return float64(g.Active()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "logreplay_pool_backlog",
			Help: "Dispatched tasks waiting for a free worker.",
		}, func() float64 { return float64(g.Backlog()) }),
	)
}

func RecordScheduled() {
	TasksScheduledTotal.Inc()
}

func RecordSkipped() {
	RecordsSkippedTotal.Inc()
}

func RecordDispatched(lag time.Duration) {
	TasksDispatchedTotal.Inc()
	DispatchLagSeconds.Observe(lag.Seconds())
}

// RecordOutcome counts a finished request and observes its duration.
func RecordOutcome(o replay.Outcome) {
	status := "none"
	if s := o.Status(); s != 0 {
		status = strconv.Itoa(s)
	}
	RequestDuration.WithLabelValues(status).Observe(o.Elapsed.Seconds())

	if o.Failed() {
		RequestsTotal.WithLabelValues("failure", string(o.Failure.Kind)).Inc()
		return
	}
	RequestsTotal.WithLabelValues("success", "").Inc()
}

func RecordSinkError() {
	SinkErrorsTotal.Inc()
}

// Observer feeds pipeline events into the collectors above.
type Observer struct{}

var _ replay.Observer = Observer{}

func (Observer) TaskScheduled(replay.Task) { RecordScheduled() }
func (Observer) RecordSkipped(error) { RecordSkipped() }
func (Observer) TaskDispatched(_ replay.Task, lag time.Duration) { RecordDispatched(lag) }
func (Observer) OutcomeRecorded(o replay.Outcome) { RecordOutcome(o) }
