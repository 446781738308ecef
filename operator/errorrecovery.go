package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
)

// OnErrorResumeWith subscribes to fallback(err) in place of delivering err
// downstream, whenever src terminates in error.
func OnErrorResumeWith[T any](src reactor.Source[T], fallback func(error) reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var curSub reactor.Subscription
		b.start(downstream, func() {
			mu.Lock()
			sub := curSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})
		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				mu.Lock()
				curSub = sub
				mu.Unlock()
				sub.Request(reactor.Unbounded)
			},
			func(v T) { b.push(v) },
			func(err error) {
				var next reactor.Source[T]
				func() {
					defer func() {
						if p := recover(); p != nil {
							b.fail(wrapPanic(p))
						}
					}()
					next = fallback(err)
				}()
				if next == nil {
					return
				}
				next.Subscribe(reactor.NewRequestingConsumer[T](
					func(sub reactor.Subscription) {
						mu.Lock()
						curSub = sub
						mu.Unlock()
						sub.Request(reactor.Unbounded)
					},
					func(v T) { b.push(v) },
					func(err error) { b.fail(err) },
					func() { b.complete() },
				))
			},
			func() { b.complete() },
		))
	})
}

// OnErrorReturn substitutes a single fallback value (computed from the
// error) in place of an error signal, then completes normally.
func OnErrorReturn[T any](src reactor.Source[T], fallback func(error) T) reactor.Source[T] {
	return OnErrorResumeWith(src, func(err error) reactor.Source[T] {
		return justOne(fallback(err))
	})
}

func justOne[T any](v T) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		b.start(downstream, func() {})
		b.push(v)
		b.complete()
	})
}

// Retry resubscribes to src up to n times (the original subscription plus
// up to n retries, so n+1 attempts total) whenever it terminates in error
// and pred(err) reports true for that error; the first error pred rejects,
// or the error from the final retry once n is exhausted, surfaces
// downstream unchanged (not wrapped, unlike RetryWhen's aggregate).
func Retry[T any](src reactor.Source[T], n int, pred func(error) bool) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var curSub reactor.Subscription
		var retries int

		b.start(downstream, func() {
			mu.Lock()
			sub := curSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})

		var subscribeOnce func()
		subscribeOnce = func() {
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					mu.Lock()
					curSub = sub
					mu.Unlock()
					sub.Request(reactor.Unbounded)
				},
				func(v T) { b.push(v) },
				func(err error) {
					if pred(err) && retries < n {
						retries++
						subscribeOnce()
						return
					}
					b.fail(err)
				},
				func() { b.complete() },
			))
		}
		subscribeOnce()
	})
}

// RetryWhen resubscribes to src whenever it errors, as long as shouldRetry
// (given the 1-based attempt number that just failed, and its error)
// returns true; otherwise it surfaces a reactor.CompositeError aggregating
// every attempt's error.
func RetryWhen[T any](src reactor.Source[T], shouldRetry func(attempt int, err error) bool) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var curSub reactor.Subscription
		var attempt int
		var errs []error

		b.start(downstream, func() {
			mu.Lock()
			sub := curSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})

		var subscribeOnce func()
		subscribeOnce = func() {
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					mu.Lock()
					curSub = sub
					mu.Unlock()
					sub.Request(reactor.Unbounded)
				},
				func(v T) { b.push(v) },
				func(err error) {
					attempt++
					errs = append(errs, err)
					if shouldRetry(attempt, err) {
						subscribeOnce()
						return
					}
					b.fail(&reactor.CompositeError{Errors: append([]error(nil), errs...)})
				},
				func() { b.complete() },
			))
		}
		subscribeOnce()
	})
}

// Repeat resubscribes to src up to n total times after each completion
// (the original subscription plus n-1 further repeats), forwarding any
// error immediately without retrying it.
func Repeat[T any](src reactor.Source[T], n int) reactor.Source[T] {
	return RepeatWhen(src, func(iteration int) bool { return iteration < n })
}

// RepeatWhen resubscribes to src after each completion as long as
// shouldRepeat (given the 1-based count of completions observed so far)
// returns true, then completes for good once it returns false.
func RepeatWhen[T any](src reactor.Source[T], shouldRepeat func(iteration int) bool) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		var mu sync.Mutex
		var curSub reactor.Subscription
		var iteration int

		b.start(downstream, func() {
			mu.Lock()
			sub := curSub
			mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})

		var subscribeOnce func()
		subscribeOnce = func() {
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					mu.Lock()
					curSub = sub
					mu.Unlock()
					sub.Request(reactor.Unbounded)
				},
				func(v T) { b.push(v) },
				func(err error) { b.fail(err) },
				func() {
					iteration++
					if shouldRepeat(iteration) {
						subscribeOnce()
						return
					}
					b.complete()
				},
			))
		}
		subscribeOnce()
	})
}
