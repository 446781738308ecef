package operator

import (
	"sync"
	"time"

	"github.com/joeycumines/reactor"
)

// Interval produces an ever-increasing counter, starting at 0, once every
// period, on executor, until the consumer cancels.
func Interval(executor reactor.DelayedExecutor, period time.Duration) reactor.Source[int64] {
	return reactor.SourceFunc[int64](func(downstream reactor.Consumer[int64]) {
		b := newBuffered[int64]()
		var n int64
		var cancelTimer reactor.Cancellation
		b.start(downstream, func() {
			if cancelTimer != nil {
				cancelTimer()
			}
		})
		cancelTimer = executor.SchedulePeriodically(func() {
			v := n
			n++
			b.push(v)
		}, period, period)
	})
}

// Delay re-emits every value and terminal signal of src after delay has
// elapsed, scheduled on executor, preserving relative ordering.
func Delay[T any](src reactor.Source[T], executor reactor.DelayedExecutor, delay time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var upSub reactor.Subscription
		b.start(downstream, func() {
			if upSub != nil {
				upSub.Cancel()
			}
		})
		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				executor.ScheduleDelayed(func() { b.push(v) }, delay)
			},
			func(err error) {
				executor.ScheduleDelayed(func() { b.fail(err) }, delay)
			},
			func() {
				executor.ScheduleDelayed(func() { b.complete() }, delay)
			},
		))
	})
}

// DelaySubscription postpones subscribing to src until delay has elapsed
// on executor.
func DelaySubscription[T any](src reactor.Source[T], executor reactor.DelayedExecutor, delay time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		executor.ScheduleDelayed(func() {
			src.Subscribe(downstream)
		}, delay)
	})
}

// Timeout fails with a reactor.TimeoutError if no value (nor a terminal
// signal) arrives from src within d of the previous one (or of
// subscription, for the first value).
func Timeout[T any](src reactor.Source[T], executor reactor.DelayedExecutor, d time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var upSub reactor.Subscription
		var cancelTimer reactor.Cancellation
		var gen uint64

		armTimer := func() {
			mu.Lock()
			gen++
			myGen := gen
			if cancelTimer != nil {
				cancelTimer()
			}
			cancelTimer = executor.ScheduleDelayed(func() {
				mu.Lock()
				expired := gen == myGen
				mu.Unlock()
				if expired {
					b.fail(&reactor.TimeoutError{})
					if upSub != nil {
						upSub.Cancel()
					}
				}
			}, d)
			mu.Unlock()
		}

		b.start(downstream, func() {
			mu.Lock()
			if cancelTimer != nil {
				cancelTimer()
			}
			sub := upSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})

		armTimer()
		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				mu.Lock()
				upSub = sub
				mu.Unlock()
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				armTimer()
				b.push(v)
			},
			func(err error) {
				mu.Lock()
				if cancelTimer != nil {
					cancelTimer()
				}
				mu.Unlock()
				b.fail(err)
			},
			func() {
				mu.Lock()
				if cancelTimer != nil {
					cancelTimer()
				}
				mu.Unlock()
				b.complete()
			},
		))
	})
}

// Sample emits the most recent value of src once per period, on executor,
// if a new value has arrived since the last tick (periods with no new
// value produce no emission).
func Sample[T any](src reactor.Source[T], executor reactor.DelayedExecutor, period time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var latest T
		var has bool
		var upSub reactor.Subscription
		var cancelTimer reactor.Cancellation

		b.start(downstream, func() {
			if cancelTimer != nil {
				cancelTimer()
			}
			if upSub != nil {
				upSub.Cancel()
			}
		})

		cancelTimer = executor.SchedulePeriodically(func() {
			mu.Lock()
			var v T
			emit := has
			if has {
				v = latest
				has = false
			}
			mu.Unlock()
			if emit {
				b.push(v)
			}
		}, period, period)

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				latest = v
				has = true
				mu.Unlock()
			},
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

// SampleFirst emits the first value of src seen within each period window
// and ignores the rest of that window, on executor.
func SampleFirst[T any](src reactor.Source[T], executor reactor.DelayedExecutor, period time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var open bool
		var upSub reactor.Subscription

		b.start(downstream, func() {
			if upSub != nil {
				upSub.Cancel()
			}
		})

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				if open {
					mu.Unlock()
					return
				}
				open = true
				mu.Unlock()
				b.push(v)
				executor.ScheduleDelayed(func() {
					mu.Lock()
					open = false
					mu.Unlock()
				}, period)
			},
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

// SampleTimeout (debounce) emits the most recent value of src only once src
// has stayed quiet for quietPeriod, on executor; a burst of values that
// arrives faster than quietPeriod collapses to a single emission of the
// last one.
func SampleTimeout[T any](src reactor.Source[T], executor reactor.DelayedExecutor, quietPeriod time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var latest T
		var gen uint64
		var upSub reactor.Subscription
		var cancelTimer reactor.Cancellation

		b.start(downstream, func() {
			mu.Lock()
			if cancelTimer != nil {
				cancelTimer()
			}
			sub := upSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				latest = v
				gen++
				myGen := gen
				if cancelTimer != nil {
					cancelTimer()
				}
				cancelTimer = executor.ScheduleDelayed(func() {
					mu.Lock()
					fire := gen == myGen
					val := latest
					mu.Unlock()
					if fire {
						b.push(val)
					}
				}, quietPeriod)
				mu.Unlock()
			},
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

// Throttle forwards a value of src, then drops every subsequent value that
// arrives within duration of it (leading-edge rate limiting), on executor.
func Throttle[T any](src reactor.Source[T], executor reactor.DelayedExecutor, duration time.Duration) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var silenced bool
		var upSub reactor.Subscription

		b.start(downstream, func() {
			if upSub != nil {
				upSub.Cancel()
			}
		})

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				if silenced {
					mu.Unlock()
					return
				}
				silenced = true
				mu.Unlock()
				b.push(v)
				executor.ScheduleDelayed(func() {
					mu.Lock()
					silenced = false
					mu.Unlock()
				}, duration)
			},
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

// Buffer collects values of src into slices, emitting (and clearing) the
// current slice every period on executor. A trailing non-empty partial
// buffer is flushed on completion.
func Buffer[T any](src reactor.Source[T], executor reactor.DelayedExecutor, period time.Duration) reactor.Source[[]T] {
	return reactor.SourceFunc[[]T](func(downstream reactor.Consumer[[]T]) {
		b := newBuffered[[]T]()
		var mu sync.Mutex
		var cur []T
		var upSub reactor.Subscription
		var cancelTimer reactor.Cancellation

		flush := func() {
			mu.Lock()
			if len(cur) == 0 {
				mu.Unlock()
				return
			}
			batch := cur
			cur = nil
			mu.Unlock()
			b.push(batch)
		}

		b.start(downstream, func() {
			if cancelTimer != nil {
				cancelTimer()
			}
			if upSub != nil {
				upSub.Cancel()
			}
		})

		cancelTimer = executor.SchedulePeriodically(flush, period, period)

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				cur = append(cur, v)
				mu.Unlock()
			},
			func(err error) { b.fail(err) },
			func() {
				flush()
				b.complete()
			},
		))
	})
}

// Window groups values of src into a new inner Source produced every
// period on executor; each inner Source receives the values that arrived
// during its window and then completes when the next window begins (or
// when src itself completes).
func Window[T any](src reactor.Source[T], executor reactor.DelayedExecutor, period time.Duration) reactor.Source[reactor.Source[T]] {
	return reactor.SourceFunc[reactor.Source[T]](func(downstream reactor.Consumer[reactor.Source[T]]) {
		outer := newBuffered[reactor.Source[T]]()
		var mu sync.Mutex
		var cur *windowEmitter[T]
		var upSub reactor.Subscription
		var cancelTimer reactor.Cancellation

		openWindow := func() *windowEmitter[T] {
			w := newWindowEmitter[T]()
			outer.push(reactor.Source[T](w))
			return w
		}

		rotate := func() {
			mu.Lock()
			prev := cur
			cur = openWindow()
			mu.Unlock()
			if prev != nil {
				prev.complete()
			}
		}

		outer.start(downstream, func() {
			if cancelTimer != nil {
				cancelTimer()
			}
			if upSub != nil {
				upSub.Cancel()
			}
		})

		mu.Lock()
		cur = openWindow()
		mu.Unlock()

		cancelTimer = executor.SchedulePeriodically(rotate, period, period)

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				w := cur
				mu.Unlock()
				w.push(v)
			},
			func(err error) {
				mu.Lock()
				w := cur
				mu.Unlock()
				w.fail(err)
				outer.fail(err)
			},
			func() {
				mu.Lock()
				w := cur
				mu.Unlock()
				w.complete()
				outer.complete()
			},
		))
	})
}

// windowEmitter is a minimal Source used as the inner window value produced
// by Window: Subscribe may be called at most once (consistent with a hot,
// already-open window).
type windowEmitter[T any] struct {
	b *buffered[T]
}

func newWindowEmitter[T any]() *windowEmitter[T] {
	return &windowEmitter[T]{b: newBuffered[T]()}
}

func (w *windowEmitter[T]) Subscribe(consumer reactor.Consumer[T]) {
	w.b.start(consumer, func() {})
}

func (w *windowEmitter[T]) push(v T)        { w.b.push(v) }
func (w *windowEmitter[T]) fail(err error)  { w.b.fail(err) }
func (w *windowEmitter[T]) complete()       { w.b.complete() }
