package replay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func task(url string, offset time.Duration) Task {
	return Task{URL: url, SendTime: epoch.Add(offset)}
}

func TestNewTaskQueue(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{name: "capacity one", capacity: 1},
		{name: "default capacity", capacity: 100},
		{name: "zero capacity", capacity: 0, wantErr: true},
		{name: "negative capacity", capacity: -3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewTaskQueue(tt.capacity)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTaskQueue(%d) error = %v, wantErr %v", tt.capacity, err, tt.wantErr)
			}
			if !tt.wantErr && q.Cap() != tt.capacity {
				t.Errorf("Cap() = %d, want %d", q.Cap(), tt.capacity)
			}
		})
	}
}

func TestTaskQueue_TakesInSendTimeOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := NewTaskQueue(10)

	puts := []Task{
		task("/c", 3*time.Second),
		task("/b", time.Second),
		task("/z", 2*time.Second),
		task("/a", 2*time.Second), // same time as /z, URL breaks the tie
		task("/first", 0),
	}
	for _, tk := range puts {
		if err := q.Put(ctx, tk); err != nil {
			t.Fatalf("Put(%s) error = %v", tk, err)
		}
	}
	if q.Len() != len(puts) {
		t.Fatalf("Len() = %d, want %d", q.Len(), len(puts))
	}

	want := []string{"/first", "/b", "/a", "/z", "/c"}
	for i, url := range want {
		it, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if it.Shutdown || it.Task.URL != url {
			t.Errorf("Take() #%d = %+v, want %s", i, it, url)
		}
		if q.InFlight() != i+1 {
			t.Errorf("InFlight() = %d, want %d", q.InFlight(), i+1)
		}
	}
}

func TestTaskQueue_ShutdownSentinelSortsLast(t *testing.T) {
	ctx := context.Background()
	q, _ := NewTaskQueue(3)

	if err := q.Put(ctx, task("/early", 0)); err != nil {
		t.Fatal(err)
	}
	if err := q.PutShutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Put(ctx, task("/late", time.Hour)); !errors.Is(err, ErrQueueShutdown) {
		t.Errorf("Put() after shutdown = %v, want ErrQueueShutdown", err)
	}

	first, _ := q.Take(ctx)
	second, _ := q.Take(ctx)
	if first.Shutdown || first.Task.URL != "/early" {
		t.Errorf("first Take() = %+v, want /early", first)
	}
	if !second.Shutdown {
		t.Errorf("second Take() = %+v, want the sentinel", second)
	}
}

func TestTaskQueue_PutBlocksWhileFull(t *testing.T) {
	ctx := context.Background()
	q, _ := NewTaskQueue(1)

	if err := q.Put(ctx, task("/a", 0)); err != nil {
		t.Fatal(err)
	}

	// a bounded wait gives up without queueing
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := q.Put(waitCtx, task("/b", 0)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Put() on full queue = %v, want DeadlineExceeded", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after abandoned Put, want 1", q.Len())
	}

	putDone := make(chan error, 1)
	go func() { putDone <- q.Put(ctx, task("/c", 0)) }()

	select {
	case err := <-putDone:
		t.Fatalf("Put() returned %v while the queue was full", err)
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := q.Take(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-putDone:
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put() still blocked after Take freed a slot")
	}
	if q.Len() > q.Cap() {
		t.Errorf("Len() = %d exceeds Cap() = %d", q.Len(), q.Cap())
	}
}

func TestTaskQueue_TakeBlocksWhileEmpty(t *testing.T) {
	q, _ := NewTaskQueue(2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := q.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Take() on empty queue = %v, want DeadlineExceeded", err)
	}

	got := make(chan Item, 1)
	go func() {
		it, _ := q.Take(context.Background())
		got <- it
	}()
	time.Sleep(10 * time.Millisecond)
	if err := q.Put(context.Background(), task("/a", 0)); err != nil {
		t.Fatal(err)
	}
	select {
	case it := <-got:
		if it.Task.URL != "/a" {
			t.Errorf("Take() = %+v, want /a", it)
		}
	case <-time.After(time.Second):
		t.Fatal("Take() not woken by Put")
	}
}

func TestTaskQueue_MarkDoneAndAwaitDrained(t *testing.T) {
	ctx := context.Background()
	q, _ := NewTaskQueue(2)

	if err := q.MarkDone(); !errors.Is(err, ErrMarkDoneUnderflow) {
		t.Fatalf("MarkDone() on idle queue = %v, want ErrMarkDoneUnderflow", err)
	}

	// an idle queue is already drained
	if err := q.AwaitDrained(ctx); err != nil {
		t.Fatalf("AwaitDrained() on idle queue = %v", err)
	}

	_ = q.Put(ctx, task("/a", 0))
	_ = q.Put(ctx, task("/b", 0))
	_, _ = q.Take(ctx)

	drained := make(chan error, 1)
	go func() { drained <- q.AwaitDrained(ctx) }()

	_, _ = q.Take(ctx)
	if err := q.MarkDone(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-drained:
		t.Fatal("AwaitDrained() returned with an item still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	if err := q.MarkDone(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("AwaitDrained() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitDrained() did not return after the last MarkDone")
	}

	if err := q.MarkDone(); !errors.Is(err, ErrMarkDoneUnderflow) {
		t.Errorf("extra MarkDone() = %v, want ErrMarkDoneUnderflow", err)
	}
}

func TestTaskQueue_AwaitDrainedHonoursContext(t *testing.T) {
	q, _ := NewTaskQueue(1)
	_ = q.Put(context.Background(), task("/a", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.AwaitDrained(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitDrained() = %v, want DeadlineExceeded", err)
	}
}

func TestTask_Ordering(t *testing.T) {
	a := task("/a", time.Second)
	b := task("/b", time.Second)
	early := task("/z", 0)

	if !a.Less(b) || b.Less(a) {
		t.Error("URL should break send time ties")
	}
	if !early.Less(a) {
		t.Error("earlier send time should sort first")
	}
	if !a.Equal(Task{URL: "/a", SendTime: a.SendTime, RecordedLatency: time.Hour}) {
		t.Error("Equal() should ignore recorded latency")
	}
	if a.Equal(b) {
		t.Error("Equal() should compare URLs")
	}
}
