package accesslog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/logreplay/internal/replay"
)

// Reader yields replay records from delimiter-separated lines of
// timestamp, path, recorded latency and an optional status column.
// Timestamps are unix seconds, integer or fractional.
type Reader struct {
	csv           *csv.Reader
	latencyMillis bool
}

var _ replay.RecordSource = (*Reader)(nil)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLatencyMillis reads the latency column as fractional milliseconds
// instead of integer microseconds.
func WithLatencyMillis(enabled bool) ReaderOption {
	return func(r *Reader) { r.latencyMillis = enabled }
}

// NewReader reads records from in, splitting fields on delimiter.
func NewReader(in io.Reader, delimiter rune, opts ...ReaderOption) *Reader {
	cr := csv.NewReader(in)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	r := &Reader{csv: cr}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next record. Rows that cannot be scheduled come back as
// *replay.MalformedRecordError and reading may continue.
func (r *Reader) Next(ctx context.Context) (replay.Record, error) {
	if err := ctx.Err(); err != nil {
		return replay.Record{}, err
	}

	row, err := r.csv.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return replay.Record{}, &replay.MalformedRecordError{Line: parseErr.Line, Reason: "unparseable row", Err: err}
		}
		return replay.Record{}, err
	}
	line, _ := r.csv.FieldPos(0)

	if len(row) < 3 {
		return replay.Record{}, &replay.MalformedRecordError{
			Line:   line,
			Reason: fmt.Sprintf("expected at least 3 fields, got %d", len(row)),
		}
	}

	ts, err := parseUnix(row[0])
	if err != nil {
		return replay.Record{}, &replay.MalformedRecordError{Line: line, Reason: "bad timestamp", Err: err}
	}
	path := strings.TrimSpace(row[1])
	if path == "" {
		return replay.Record{}, &replay.MalformedRecordError{Line: line, Reason: "empty path"}
	}
	latency, err := r.parseLatency(row[2])
	if err != nil {
		return replay.Record{}, &replay.MalformedRecordError{Line: line, Reason: "bad latency", Err: err}
	}

	return replay.Record{
		Line:            line,
		Timestamp:       ts,
		Path:            path,
		RecordedLatency: latency,
	}, nil
}

func (r *Reader) parseLatency(field string) (time.Duration, error) {
	field = strings.TrimSpace(field)
	if r.latencyMillis {
		ms, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, err
		}
		if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return 0, fmt.Errorf("latency %q out of range", field)
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}

	us, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, err
	}
	if us < 0 {
		return 0, fmt.Errorf("latency %q out of range", field)
	}
	return time.Duration(us) * time.Microsecond, nil
}

func parseUnix(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if sec, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("timestamp %q out of range", field)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))), nil
}
