package publish

import (
	"time"

	"github.com/austindbirch/logreplay/internal/replay"
)

const (
	ResultType  = "replay.result"
	FailureType = "replay.failure"
	Version     = "v1"
)

// Result is the snapshot of one replayed request carried by both envelopes.
type Result struct {
	RunID           string  `json:"run_id"`
	Seq             int64   `json:"seq"`
	URL             string  `json:"url"`
	SendTime        string  `json:"send_time"`  // RFC3339Nano
	StartedAt       string  `json:"started_at"` // RFC3339Nano
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	RecordedLatency float64 `json:"recorded_latency_seconds,omitempty"`
	Status          int     `json:"status,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	ContentLength   int64   `json:"content_length,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
}

type ResultEnvelope struct {
	Type         string            `json:"type"`    // "replay.result"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the envelope was emitted
	Result       Result            `json:"result"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

type FailureEnvelope struct {
	Type         string            `json:"type"` // "replay.failure"
	Version      string            `json:"version"`
	At           string            `json:"at"`
	Kind         string            `json:"kind"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Result       Result            `json:"result"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func newResult(runID string, o replay.Outcome) Result {
	r := Result{
		RunID:           runID,
		Seq:             o.Seq,
		URL:             o.Task.URL,
		SendTime:        o.Task.SendTime.Format(time.RFC3339Nano),
		StartedAt:       o.StartedAt.Format(time.RFC3339Nano),
		ElapsedSeconds:  o.Elapsed.Seconds(),
		RecordedLatency: o.Task.RecordedLatency.Seconds(),
		Status:          o.Status(),
	}
	if o.Success != nil {
		r.Reason = o.Success.Reason
		r.ContentLength = o.Success.ContentLength
	}
	if o.Failure != nil {
		r.Reason = o.Failure.Message
		r.ErrorKind = string(o.Failure.Kind)
	}
	return r
}

func NewResultEnvelope(runID string, o replay.Outcome, at time.Time, headers map[string]string) ResultEnvelope {
	return ResultEnvelope{
		Type:         ResultType,
		Version:      Version,
		At:           at.Format(time.RFC3339Nano),
		Result:       newResult(runID, o),
		TraceHeaders: headers,
	}
}

// NewFailureEnvelope expects a failed outcome.
func NewFailureEnvelope(runID string, o replay.Outcome, at time.Time, headers map[string]string) FailureEnvelope {
	return FailureEnvelope{
		Type:         FailureType,
		Version:      Version,
		At:           at.Format(time.RFC3339Nano),
		Kind:         string(o.Failure.Kind),
		HTTPStatus:   o.Failure.Status,
		LastError:    o.Failure.Message,
		Result:       newResult(runID, o),
		TraceHeaders: headers,
	}
}
