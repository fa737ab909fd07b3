package replay

import (
	"context"
	"io"
	"sync"
	"time"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recordingSink keeps every outcome in write order.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *recordingSink) Write(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *recordingSink) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

func (s *recordingSink) URLs() []string {
	var urls []string
	for _, o := range s.Outcomes() {
		urls = append(urls, o.Task.URL)
	}
	return urls
}

// okRequester answers 200 for every URL.
var okRequester = RequesterFunc(func(context.Context, string) (Response, error) {
	return Response{Status: 200, Reason: "OK", ContentLength: 2}, nil
})

// sliceSource replays a fixed list of records, then io.EOF. A non-nil
// entry in errs at the same index is returned instead of the record.
type sliceSource struct {
	records []Record
	errs    []error
	next    int
}

func (s *sliceSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s.next >= len(s.records) {
		return Record{}, io.EOF
	}
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return Record{}, s.errs[i]
	}
	return s.records[i], nil
}

func recordAt(line int, unix float64, path string) Record {
	return Record{
		Line:      line,
		Timestamp: time.Unix(0, int64(unix*float64(time.Second))),
		Path:      path,
	}
}

// dispatchRecorder captures TaskDispatched events.
type dispatchRecorder struct {
	NopObserver
	mu    sync.Mutex
	tasks []Task
	lags  []time.Duration
}

func (d *dispatchRecorder) TaskDispatched(t Task, lag time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, t)
	d.lags = append(d.lags, lag)
}

func (d *dispatchRecorder) snapshot() ([]Task, []time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Task(nil), d.tasks...), append([]time.Duration(nil), d.lags...)
}
