package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/austindbirch/logreplay/internal/replay"
)

// Line renders one outcome as a tab separated result line:
//
//	url  status  reason      elapsed  content-length
//	url  ERR     kind[ code] elapsed  -
func Line(o replay.Outcome) string {
	elapsed := strconv.FormatFloat(o.Elapsed.Seconds(), 'f', 6, 64)
	if o.Failed() {
		kind := string(o.Failure.Kind)
		if o.Failure.Status != 0 {
			kind += " " + strconv.Itoa(o.Failure.Status)
		}
		return strings.Join([]string{o.Task.URL, "ERR", kind, elapsed, "-"}, "\t")
	}
	return strings.Join([]string{
		o.Task.URL,
		strconv.Itoa(o.Success.Status),
		o.Success.Reason,
		elapsed,
		strconv.FormatInt(o.Success.ContentLength, 10),
	}, "\t")
}

// Writer is the line sink for replay results.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

var _ replay.Sink = (*Writer)(nil)

// NewWriter writes result lines to w. Call Flush when the run ends.
func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriter(w)}
}

func (w *Writer) Write(_ context.Context, o replay.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.WriteString(Line(o) + "\n"); err != nil {
		return fmt.Errorf("write result line: %w", err)
	}
	return nil
}

// Flush writes any buffered lines.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Multi fans each outcome out to every sink. A failing sink does not keep
// the outcome from the others; their errors are joined.
type Multi []replay.Sink

func (m Multi) Write(ctx context.Context, o replay.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
