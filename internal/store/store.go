// Package store persists replay outcomes so runs can be compared after the
// fact. Both stores implement replay.Sink and health.Pinger.
package store

import (
	"time"

	"github.com/austindbirch/logreplay/internal/replay"
)

// Table is the name of the results table in both backends.
const Table = "replay_results"

// Result is one row of the results table.
type Result struct {
	RunID           string
	Seq             int64
	URL             string
	SendTime        time.Time
	StartedAt       time.Time
	ElapsedSeconds  float64
	Status          int // 0 when no response was received
	Reason          string
	ContentLength   int64
	ErrorKind       string // empty for successes
	RecordedLatency time.Duration
}

// FromOutcome flattens an outcome into a row.
func FromOutcome(runID string, o replay.Outcome) Result {
	r := Result{
		RunID:           runID,
		Seq:             o.Seq,
		URL:             o.Task.URL,
		SendTime:        o.Task.SendTime,
		StartedAt:       o.StartedAt,
		ElapsedSeconds:  o.Elapsed.Seconds(),
		Status:          o.Status(),
		RecordedLatency: o.Task.RecordedLatency,
	}
	switch {
	case o.Success != nil:
		r.Reason = o.Success.Reason
		r.ContentLength = o.Success.ContentLength
	case o.Failure != nil:
		r.Reason = o.Failure.Message
		r.ErrorKind = string(o.Failure.Kind)
	}
	return r
}

// Failed reports whether the row describes a failed request.
func (r Result) Failed() bool { return r.ErrorKind != "" }

// nullable turns zero values into SQL NULLs.
func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func fromMicros(us int64) time.Duration { return time.Duration(us) * time.Microsecond }
