package replay

import (
	"fmt"
	"time"
)

// Task is one request scheduled for playback. Tasks are values and are never
// mutated after the Scheduler builds them.
type Task struct {
	URL             string
	SendTime        time.Time
	RecordedLatency time.Duration // reporting only, never used for scheduling
}

// Less orders tasks by send time, then by URL.
func (t Task) Less(o Task) bool {
	if !t.SendTime.Equal(o.SendTime) {
		return t.SendTime.Before(o.SendTime)
	}
	return t.URL < o.URL
}

// Equal reports whether both tasks share send time and URL.
func (t Task) Equal(o Task) bool {
	return t.SendTime.Equal(o.SendTime) && t.URL == o.URL
}

func (t Task) String() string {
	return fmt.Sprintf("%s@%s", t.URL, t.SendTime.Format(time.RFC3339Nano))
}

// Item is what TaskQueue.Take hands out: either a task or the terminal
// sentinel that tells the consumer nothing else will arrive.
type Item struct {
	Task     Task
	Shutdown bool
}

func (i Item) less(o Item) bool {
	// the sentinel sorts after every task
	if i.Shutdown != o.Shutdown {
		return o.Shutdown
	}
	return i.Task.Less(o.Task)
}

// Record is one parsed entry from the recorded traffic source.
type Record struct {
	Line            int
	Timestamp       time.Time
	Path            string
	RecordedLatency time.Duration
}

// Success holds the response of a request that completed with a 2xx status.
type Success struct {
	Status        int
	Reason        string
	ContentLength int64
}

// Failure describes why a request did not succeed. Status is set when the
// target answered with a non-2xx code.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
}

// Outcome is the result of executing one task. Exactly one of Success and
// Failure is non-nil.
type Outcome struct {
	Seq       int64
	Task      Task
	StartedAt time.Time
	Elapsed   time.Duration
	Success   *Success
	Failure   *Failure
}

// Failed reports whether the outcome carries a failure.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// Status returns the HTTP status of the outcome, or 0 when none was received.
func (o Outcome) Status() int {
	switch {
	case o.Success != nil:
		return o.Success.Status
	case o.Failure != nil:
		return o.Failure.Status
	}
	return 0
}
