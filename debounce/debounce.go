// Package debounce coalesces bursts of calls into a single trailing call
// carrying the latest value.
package debounce

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Option func(*config)

type config struct {
	after AfterFunc
}

// WithAfterFunc replaces the timer source, mainly for tests.
func WithAfterFunc(a AfterFunc) Option {
	return func(c *config) { c.after = a }
}

// Debouncer holds a single pending-timer slot. Every Trigger resets the slot;
// when the quiet period elapses fn runs once with the last triggered value.
type Debouncer[T any] struct {
	mu      sync.Mutex
	wait    time.Duration
	fn      func(T)
	after   AfterFunc
	timer   Timer
	latest  T
	gen     uint64
	pending bool
	closed  bool
}

func New[T any](wait time.Duration, fn func(T), opts ...Option) *Debouncer[T] {
	c := config{after: realAfterFunc}
	for _, o := range opts {
		o(&c)
	}
	return &Debouncer[T]{wait: wait, fn: fn, after: c.after}
}

// Trigger records v and restarts the quiet period. After Close it does
// nothing.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.latest = v
	d.gen++
	d.pending = true
	gen := d.gen
	d.timer = d.after(d.wait, func() { d.fire(gen) })
}

// fire runs fn unless a later Trigger or Cancel superseded this timer. The
// generation check covers timers whose Stop came too late.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.latest
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Flush runs a pending call immediately. It reports whether one was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.closed || !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	v := d.latest
	d.gen++
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Cancel drops a pending call.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer[T]) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = false
	d.timer = nil
}

// Close cancels any pending call and disables the debouncer.
func (d *Debouncer[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.closed = true
}

func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
