package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerCoalesces(t *testing.T) {
	clock := NewManualClock()
	var calls []int
	d := New(300*time.Millisecond, func(v int) { calls = append(calls, v) }, WithAfterFunc(clock.AfterFunc))

	for i := 1; i <= 5; i++ {
		d.Trigger(i)
		clock.Advance(50 * time.Millisecond)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no call inside the quiet period, got %v", calls)
	}

	clock.Advance(300 * time.Millisecond)
	if len(calls) != 1 || calls[0] != 5 {
		t.Fatalf("expected one call with the last value, got %v", calls)
	}

	clock.Advance(time.Second)
	if len(calls) != 1 {
		t.Errorf("expected no further calls, got %v", calls)
	}
}

func TestSeparateBursts(t *testing.T) {
	clock := NewManualClock()
	var calls []string
	d := New(100*time.Millisecond, func(v string) { calls = append(calls, v) }, WithAfterFunc(clock.AfterFunc))

	d.Trigger("a")
	clock.Advance(150 * time.Millisecond)
	d.Trigger("b")
	d.Trigger("c")
	clock.Advance(150 * time.Millisecond)

	if len(calls) != 2 || calls[0] != "a" || calls[1] != "c" {
		t.Errorf("expected [a c], got %v", calls)
	}
}

func TestCancelAndClose(t *testing.T) {
	clock := NewManualClock()
	var n int
	d := New(100*time.Millisecond, func(struct{}) { n++ }, WithAfterFunc(clock.AfterFunc))

	d.Trigger(struct{}{})
	if !d.Pending() {
		t.Error("expected a pending call")
	}
	d.Cancel()
	clock.Advance(time.Second)
	if n != 0 || d.Pending() {
		t.Errorf("expected cancelled call not to run, ran %d times", n)
	}

	d.Trigger(struct{}{})
	d.Close()
	clock.Advance(time.Second)
	d.Trigger(struct{}{})
	clock.Advance(time.Second)
	if n != 0 {
		t.Errorf("expected nothing to run after Close, ran %d times", n)
	}
	if clock.Pending() != 0 {
		t.Errorf("expected no live timers, got %d", clock.Pending())
	}
}

func TestFlush(t *testing.T) {
	clock := NewManualClock()
	var got []int
	d := New(time.Second, func(v int) { got = append(got, v) }, WithAfterFunc(clock.AfterFunc))

	if d.Flush() {
		t.Error("expected nothing to flush")
	}
	d.Trigger(7)
	if !d.Flush() {
		t.Error("expected a flush")
	}
	clock.Advance(2 * time.Second)
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("expected a single immediate call, got %v", got)
	}
}

func TestRealTimer(t *testing.T) {
	var n int32
	var wg sync.WaitGroup
	wg.Add(1)
	d := New(20*time.Millisecond, func(int) {
		atomic.AddInt32(&n, 1)
		wg.Done()
	})
	for i := 0; i < 10; i++ {
		d.Trigger(i)
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&n) != 1 {
		t.Errorf("expected exactly one call, got %d", n)
	}
}
