package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopRunsPostedInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Call(ctx, func() {}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	cancel()
	<-done

	for i, v := range got {
		if v != i {
			t.Fatalf("got order %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d closures, want 5", len(got))
	}
}

func TestDeferRunsAfterCurrentTask(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var order []string
	l.Post(func() {
		l.Defer(func() { order = append(order, "deferred") })
		order = append(order, "task")
	})
	if err := l.Call(ctx, func() {}); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	if len(order) != 2 || order[0] != "task" || order[1] != "deferred" {
		t.Errorf("order = %v", order)
	}
}

func TestLoopAfterFunc(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("timer never fired")
	}
	cancel()
	<-done
}

func TestPostAfterRunReturnsIsDropped(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	var ran atomic.Bool
	l.Post(func() { ran.Store(true) })
	if ran.Load() {
		t.Error("closure ran after loop stopped")
	}
}

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	stopped := m.AfterFunc(1500*time.Millisecond, func() { order = append(order, "stopped") })
	stopped.Stop()

	m.Advance(time.Second)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 1s order = %v", order)
	}
	m.Advance(time.Second)
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("after 2s order = %v", order)
	}
	if m.Now() != 2*time.Second {
		t.Errorf("Now = %v", m.Now())
	}
}

func TestManualDrainsDeferredBetweenTimers(t *testing.T) {
	m := NewManual()
	var order []string
	m.AfterFunc(time.Second, func() {
		order = append(order, "timer1")
		m.Defer(func() { order = append(order, "tick") })
	})
	m.AfterFunc(time.Second, func() { order = append(order, "timer2") })
	m.Advance(time.Second)

	want := []string{"timer1", "tick", "timer2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDebouncerResetsOnTrigger(t *testing.T) {
	m := NewManual()
	d := NewDebouncer(m, 500*time.Millisecond)
	runs := 0

	d.Trigger(func() { runs++ })
	m.Advance(400 * time.Millisecond)
	d.Trigger(func() { runs++ })
	m.Advance(400 * time.Millisecond)
	if runs != 0 {
		t.Fatalf("ran %d times before quiet period", runs)
	}
	m.Advance(100 * time.Millisecond)
	if runs != 1 {
		t.Fatalf("ran %d times, want 1", runs)
	}
	if d.Pending() {
		t.Error("debouncer still pending after firing")
	}
}

func TestDebouncerTriggerAfterSupersedes(t *testing.T) {
	m := NewManual()
	d := NewDebouncer(m, 500*time.Millisecond)
	var got []string

	d.Trigger(func() { got = append(got, "content") })
	d.TriggerAfter(time.Second, func() { got = append(got, "settle") })
	m.Advance(2 * time.Second)

	if len(got) != 1 || got[0] != "settle" {
		t.Errorf("got %v, want [settle]", got)
	}
}

func TestDebouncerCancel(t *testing.T) {
	m := NewManual()
	d := NewDebouncer(m, time.Second)
	ran := false
	d.Trigger(func() { ran = true })
	d.Cancel()
	m.Advance(2 * time.Second)
	if ran {
		t.Error("cancelled callback ran")
	}
}
