// Package schedulertest provides a deterministic, manually-advanced
// reactor.DelayedExecutor double for testing time-based operators (Sample,
// Throttle, Buffer/Window-by-time, Timeout, Delay, Interval) without
// depending on wall-clock sleeps.
package schedulertest

import (
	"container/heap"
	"sync"
	"time"

	"github.com/joeycumines/reactor"
)

var (
	_ reactor.Executor        = (*Virtual)(nil)
	_ reactor.DelayedExecutor = (*Virtual)(nil)
)

// Virtual is a single-threaded virtual clock: actions scheduled via
// Schedule run immediately on the next Advance/RunPending call (as if with
// zero delay), and actions scheduled via ScheduleDelayed/SchedulePeriodically
// run only once Advance has moved the virtual clock to or past their
// deadline. A mutex guards the clock and the timer heap, so scheduling from
// another goroutine is safe, but every action runs on the goroutine that
// calls Advance or RunPending.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers vTimerHeap
	nextID uint64
}

// NewVirtual creates a Virtual clock starting at the given time (or the
// zero time if start is the zero value).
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Schedule implements reactor.Executor: the action is scheduled for the
// current virtual time, and will run on the next Advance(0) or RunPending.
func (v *Virtual) Schedule(action func()) reactor.Cancellation {
	return v.ScheduleDelayed(action, 0)
}

// ScheduleDelayed implements reactor.DelayedExecutor.
func (v *Virtual) ScheduleDelayed(action func(), delay time.Duration) reactor.Cancellation {
	return v.scheduleAt(action, delay, 0)
}

// SchedulePeriodically implements reactor.DelayedExecutor.
func (v *Virtual) SchedulePeriodically(action func(), initialDelay, period time.Duration) reactor.Cancellation {
	return v.scheduleAt(action, initialDelay, period)
}

func (v *Virtual) scheduleAt(action func(), delay, period time.Duration) reactor.Cancellation {
	v.mu.Lock()
	v.nextID++
	t := &vTimer{id: v.nextID, deadline: v.now.Add(delay), period: period, action: action}
	heap.Push(&v.timers, t)
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		t.cancelled = true
		v.mu.Unlock()
	}
}

// RunPending fires every timer due at the current virtual time, without
// advancing it. Equivalent to Advance(0).
func (v *Virtual) RunPending() {
	v.Advance(0)
}

// Advance moves the virtual clock forward by d, firing (in deadline order)
// every timer whose deadline is now at or before the new time, including
// periodic timers that come due more than once within a single Advance
// call.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	target := v.now
	v.mu.Unlock()

	for {
		v.mu.Lock()
		if len(v.timers) == 0 || v.timers[0].deadline.After(target) {
			v.mu.Unlock()
			return
		}
		t := heap.Pop(&v.timers).(*vTimer)
		if t.cancelled {
			v.mu.Unlock()
			continue
		}
		if t.period > 0 {
			t.deadline = t.deadline.Add(t.period)
			heap.Push(&v.timers, t)
		}
		v.mu.Unlock()
		t.action()
	}
}

type vTimer struct {
	id        uint64
	deadline  time.Time
	period    time.Duration
	action    func()
	cancelled bool
	index     int
}

type vTimerHeap []*vTimer

func (h vTimerHeap) Len() int { return len(h) }
func (h vTimerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h vTimerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *vTimerHeap) Push(x any) {
	t := x.(*vTimer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *vTimerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
