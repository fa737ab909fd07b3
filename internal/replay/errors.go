package replay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrQueueShutdown is returned by Put once the terminal sentinel was queued.
	ErrQueueShutdown = errors.New("task queue is shut down")
	// ErrMarkDoneUnderflow is returned when MarkDone is called more often than Take.
	ErrMarkDoneUnderflow = errors.New("MarkDone called with no item in flight")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrCollectorClosed is returned by Put after the collector received its sentinel.
	ErrCollectorClosed = errors.New("result collector is closed")
)

// MalformedRecordError reports a log record that cannot be scheduled. The
// Scheduler skips such records and keeps going.
type MalformedRecordError struct {
	Line   int
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// FailureKind classifies a failed request for reporting and metrics.
type FailureKind string

const (
	KindTimeout           FailureKind = "timeout"
	KindConnectionRefused FailureKind = "connection_refused"
	KindDNS               FailureKind = "dns_error"
	KindNetwork           FailureKind = "network"
	KindHTTP4xx           FailureKind = "http_4xx"
	KindHTTP429           FailureKind = "http_429"
	KindHTTP5xx           FailureKind = "http_5xx"
	KindOther             FailureKind = "other"
	KindPoolClosed        FailureKind = "pool_closed"
)

// ClassifyError maps a transport error to a failure kind.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	errLower := strings.ToLower(err.Error())
	if strings.Contains(errLower, "timeout") {
		return KindTimeout
	}
	if strings.Contains(errLower, "connection refused") {
		return KindConnectionRefused
	}
	if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
		return KindDNS
	}
	return KindNetwork
}

// ClassifyStatus maps a non-2xx HTTP status to a failure kind.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status >= 500:
		return KindHTTP5xx
	case status == 429:
		return KindHTTP429
	case status >= 400:
		return KindHTTP4xx
	}
	return KindOther
}
