package reactor

import "time"

// Cancellation is returned by scheduling calls; invoking it prevents the
// scheduled action from running if it has not already started. It is safe
// to call more than once and from any goroutine.
type Cancellation func()

// Executor runs actions, typically on a dedicated goroutine or pool,
// decoupling "when this code runs" from "which goroutine called Schedule."
// Operators consume this interface for publishOn/subscribeOn; they never
// spawn goroutines of their own. scheduler.Pool is the module's own
// concrete implementation; callers may substitute any Executor, including
// one backed by an existing application event loop.
type Executor interface {
	// Schedule submits action to run on the executor, returning a
	// Cancellation that prevents it from running if called before the
	// executor gets to it.
	Schedule(action func()) Cancellation
}

// DelayedExecutor is an Executor that can also run actions after a delay,
// or repeatedly on a period. Every time-based operator (Sample, Throttle,
// Buffer-by-time, Window-by-time, Timeout, Delay, Interval) requires one.
type DelayedExecutor interface {
	Executor
	// ScheduleDelayed runs action once, after delay has elapsed.
	ScheduleDelayed(action func(), delay time.Duration) Cancellation
	// SchedulePeriodically runs action repeatedly, first after initialDelay
	// then every period thereafter, until cancelled.
	SchedulePeriodically(action func(), initialDelay, period time.Duration) Cancellation
}

// ExecutorFunc adapts a plain synchronous function into an Executor that
// runs actions inline (useful for tests and for trivial single-threaded
// callers). It provides no delay support; wrap it or use schedulertest.Virtual
// where DelayedExecutor is required.
type ExecutorFunc func(action func())

// Schedule implements Executor by invoking action immediately and
// synchronously; the returned Cancellation is always a no-op since the
// action has already run by the time it could be called.
func (f ExecutorFunc) Schedule(action func()) Cancellation {
	f(action)
	return func() {}
}
