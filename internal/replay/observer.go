package replay

import (
	"time"

	"github.com/austindbirch/logreplay/internal/logging"
)

// Observer is notified of notable pipeline events. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	TaskScheduled(task Task)
	RecordSkipped(err error)
	TaskDispatched(task Task, lag time.Duration)
	OutcomeRecorded(outcome Outcome)
}

// Observers fans events out to every member.
type Observers []Observer

func (obs Observers) TaskScheduled(task Task) {
	for _, o := range obs {
		o.TaskScheduled(task)
	}
}

func (obs Observers) RecordSkipped(err error) {
	for _, o := range obs {
		o.RecordSkipped(err)
	}
}

func (obs Observers) TaskDispatched(task Task, lag time.Duration) {
	for _, o := range obs {
		o.TaskDispatched(task, lag)
	}
}

func (obs Observers) OutcomeRecorded(outcome Outcome) {
	for _, o := range obs {
		o.OutcomeRecorded(outcome)
	}
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TaskScheduled(Task)                 {}
func (NopObserver) RecordSkipped(error)                {}
func (NopObserver) TaskDispatched(Task, time.Duration) {}
func (NopObserver) OutcomeRecorded(Outcome)            {}

// LogObserver writes pipeline events to a structured logger.
type LogObserver struct {
	logger *logging.Logger
	runID  string
}

// NewLogObserver returns an Observer logging through logger.
func NewLogObserver(logger *logging.Logger, runID string) *LogObserver {
	return &LogObserver{logger: logger, runID: runID}
}

func (l *LogObserver) TaskScheduled(task Task) {
	l.logger.Plain().WithRun(l.runID).WithURL(task.URL).
		WithField("send_time", task.SendTime.Format(time.RFC3339Nano)).
		Debug("task scheduled")
}

func (l *LogObserver) RecordSkipped(err error) {
	l.logger.Plain().WithRun(l.runID).WithError(err).Warn("skipping record")
}

func (l *LogObserver) TaskDispatched(task Task, lag time.Duration) {
	l.logger.Plain().WithRun(l.runID).WithURL(task.URL).
		WithField("lag_ms", lag.Milliseconds()).
		Debug("task dispatched")
}

func (l *LogObserver) OutcomeRecorded(o Outcome) {
	entry := l.logger.Plain().WithRun(l.runID).WithURL(o.Task.URL).WithFields(map[string]any{
		"seq":        o.Seq,
		"elapsed_ms": o.Elapsed.Milliseconds(),
	})
	if o.Failed() {
		entry.WithFields(map[string]any{
			"kind":   string(o.Failure.Kind),
			"status": o.Failure.Status,
		}).Warnf("request failed: %s", o.Failure.Message)
		return
	}
	entry.WithField("status", o.Success.Status).Debug("request completed")
}
