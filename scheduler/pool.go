// Package scheduler provides a concrete, production-grade implementation
// of reactor.Executor and reactor.DelayedExecutor, adapted from a
// single-threaded event loop design: a goroutine-backed worker pulls tasks
// from a lock-free MPSC ring (the hot path for Schedule) and fires delayed
// actions from a min-heap timer wheel, all driven by one drain loop per
// Pool rather than spawning a goroutine per scheduled action.
package scheduler

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/reactor"
	"github.com/joeycumines/reactor/internal/queue"
	"github.com/joeycumines/reactor/rlog"
)

// Option configures a Pool at construction time.
type Option interface{ apply(*Pool) }

type optionFunc func(*Pool)

func (f optionFunc) apply(p *Pool) { f(p) }

// WithLogger installs l as the Pool's diagnostic logger, in place of the
// process-wide rlog.Default().
func WithLogger(l rlog.Logger) Option {
	return optionFunc(func(p *Pool) { p.logger = l })
}

var (
	_ reactor.Executor        = (*Pool)(nil)
	_ reactor.DelayedExecutor = (*Pool)(nil)
)

// poolState mirrors the corpus's cache-line-padded atomic state machine,
// rescoped from a JS-loop's Awake/Running/Sleeping/Terminating states to
// the three a worker pool actually needs.
type poolState uint32

const (
	poolAwake poolState = iota
	poolRunning
	poolStopped
)

// Pool is a goroutine-backed Executor and DelayedExecutor. A Pool owns
// exactly one worker goroutine started by Run and stopped by Stop; every
// action scheduled on it, immediate or delayed, executes on that one
// goroutine, so user code scheduled on the same Pool never races with
// itself.
type Pool struct {
	name string

	state atomic.Uint32

	immediate *queue.Ring[func()]
	wake      chan struct{}
	wakeOnce  sync.Once

	timersMu sync.Mutex
	timers   timerHeap
	nextID   uint64

	stopCh chan struct{}
	doneCh chan struct{}

	logger   rlog.Logger
	registry *rlog.Registry[timerTask]
}

// New creates a Pool identified by name (used in diagnostics and logging)
// but does not start its worker goroutine; call Run to start it.
func New(name string, opts ...Option) *Pool {
	p := &Pool{
		name:      name,
		immediate: queue.NewRing[func()](),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		registry: rlog.NewRegistry[timerTask](
			func(t *timerTask) string {
				if t.period > 0 {
					return "periodic"
				}
				return "delayed"
			},
			func(t *timerTask) bool { return t.cancelled },
		),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	if p.logger == nil {
		p.logger = rlog.Default()
	}
	return p
}

// ActiveTimers reports the number of delayed/periodic actions currently
// tracked for diagnostics, including ones pending scavenge that have since
// fired or been cancelled.
func (p *Pool) ActiveTimers() int { return p.registry.Len() }

// Name returns the Pool's diagnostic name.
func (p *Pool) Name() string { return p.name }

// Run starts the worker goroutine. Calling Run more than once is a no-op.
func (p *Pool) Run() {
	if !p.state.CompareAndSwap(uint32(poolAwake), uint32(poolRunning)) {
		return
	}
	rlog.NewEntry(rlog.Info, "pool started").WithStage(p.name).Emit(p.logger)
	go p.loop()
}

// Stop requests the worker goroutine to exit once it has drained any
// actions already submitted, and blocks until it has. Scheduling further
// actions after Stop has no effect.
func (p *Pool) Stop() {
	if p.state.Swap(uint32(poolStopped)) == uint32(poolStopped) {
		<-p.doneCh
		return
	}
	close(p.stopCh)
	p.nudge()
	<-p.doneCh
	rlog.NewEntry(rlog.Info, "pool stopped").WithStage(p.name).Emit(p.logger)
}

func (p *Pool) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Schedule implements reactor.Executor.
func (p *Pool) Schedule(action func()) reactor.Cancellation {
	if poolState(p.state.Load()) == poolStopped || action == nil {
		return func() {}
	}
	var cancelled atomic.Bool
	p.immediate.Push(func() {
		if !cancelled.Load() {
			action()
		}
	})
	p.nudge()
	return func() { cancelled.Store(true) }
}

// ScheduleDelayed implements reactor.DelayedExecutor.
func (p *Pool) ScheduleDelayed(action func(), delay time.Duration) reactor.Cancellation {
	return p.scheduleTimer(action, delay, 0)
}

// SchedulePeriodically implements reactor.DelayedExecutor.
func (p *Pool) SchedulePeriodically(action func(), initialDelay, period time.Duration) reactor.Cancellation {
	return p.scheduleTimer(action, initialDelay, period)
}

func (p *Pool) scheduleTimer(action func(), delay, period time.Duration) reactor.Cancellation {
	if poolState(p.state.Load()) == poolStopped || action == nil {
		return func() {}
	}
	t := &timerTask{
		deadline: time.Now().Add(delay),
		period:   period,
		action:   action,
	}

	p.timersMu.Lock()
	p.nextID++
	t.id = p.nextID
	heap.Push(&p.timers, t)
	p.timersMu.Unlock()
	p.registry.Register(t)
	p.nudge()

	return func() {
		p.timersMu.Lock()
		defer p.timersMu.Unlock()
		t.cancelled = true
	}
}

// loop is the single drain-loop owner for this Pool: it repeatedly fires
// any due timers, drains the immediate queue, and sleeps (with a deadline
// set by the next timer, if any) until more work arrives.
func (p *Pool) loop() {
	defer func() {
		for {
			action, ok := p.immediate.Pop()
			if !ok {
				break
			}
			p.safeExecute(action)
		}
		close(p.doneCh)
	}()
	for {
		p.runTimers()
		p.registry.Scavenge(64)
		for {
			action, ok := p.immediate.Pop()
			if !ok {
				break
			}
			p.safeExecute(action)
		}

		select {
		case <-p.stopCh:
			return
		default:
		}

		wait := p.nextTimerWait()
		if wait < 0 {
			select {
			case <-p.wake:
			case <-p.stopCh:
				return
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		case <-p.stopCh:
			timer.Stop()
			return
		}
	}
}

func (p *Pool) nextTimerWait() time.Duration {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if len(p.timers) == 0 {
		return -1
	}
	return time.Until(p.timers[0].deadline)
}

func (p *Pool) runTimers() {
	now := time.Now()
	var due []*timerTask
	p.timersMu.Lock()
	for len(p.timers) > 0 && !p.timers[0].deadline.After(now) {
		t := heap.Pop(&p.timers).(*timerTask)
		if t.cancelled {
			continue
		}
		due = append(due, t)
		if t.period > 0 {
			t.deadline = now.Add(t.period)
			heap.Push(&p.timers, t)
		}
	}
	p.timersMu.Unlock()

	for _, t := range due {
		p.safeExecute(t.action)
	}
}

func (p *Pool) safeExecute(action func()) {
	defer func() {
		if r := recover(); r != nil {
			rlog.NewEntry(rlog.Error, "panic recovered in scheduled action").
				WithStage(p.name).
				WithField("panic", r).
				Emit(p.logger)
		}
	}()
	action()
}

// timerTask is one entry in the Pool's timer min-heap.
type timerTask struct {
	id        uint64
	deadline  time.Time
	period    time.Duration
	action    func()
	cancelled bool
	index     int
}

// timerHeap implements container/heap.Interface over timerTask, ordered by
// deadline (earliest first), tie-broken by insertion order for stable
// firing of simultaneous timers.
type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
