package operator

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"github.com/joeycumines/reactor"
)

// Scan emits, for every value of src, the running accumulation
// fn(accumulator, value), starting from seed. Unlike the rest of this
// file, Scan's result is a Source, not a Mono: every intermediate
// accumulation is itself part of the output stream.
func Scan[T, A any](src reactor.Source[T], seed A, fn func(A, T) A) reactor.Source[A] {
	return reactor.SourceFunc[A](func(downstream reactor.Consumer[A]) {
		acc := seed
		newRelay(src, func(v T) (out A, keep bool, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = wrapPanic(p)
				}
			}()
			acc = fn(acc, v)
			return acc, true, nil
		}).Subscribe(downstream)
	})
}

// subscribeUnbounded subscribes to src with a consumer that immediately
// requests Unbounded demand, the common shape every reduction operator
// below needs since they must observe every value to compute their result.
//
// If src grants FusionSync (a synchronous source, or a Map/Filter chain
// over one), it drains by polling directly in a tight loop instead of
// going through Request/OnNext at all, the same optimization a fused
// Request(n) loop performs in operator/stateless.go, just taken here all
// the way to exhaustion in one shot rather than n items at a time.
func subscribeUnbounded[T any](src reactor.Source[T], onNext func(T), onError func(error), onComplete func()) {
	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			if fusable, ok := sub.(reactor.Fusable[T]); ok && fusable.RequestFusion(reactor.FusionSync) == reactor.FusionSync {
				for {
					v, has := fusable.Poll()
					if !has {
						onComplete()
						return
					}
					onNext(v)
				}
			}
			sub.Request(reactor.Unbounded)
		},
		onNext, onError, onComplete,
	))
}

// Reduce folds every value of src into a single result via fn, starting
// from seed, delivered through the returned Mono once src completes.
func Reduce[T, A any](src reactor.Source[T], seed A, fn func(A, T) A) *reactor.Mono[A] {
	m, resolve, reject := reactor.NewMono[A]()
	acc := seed
	subscribeUnbounded(src,
		func(v T) {
			func() {
				defer func() {
					if p := recover(); p != nil {
						reject(wrapPanic(p))
					}
				}()
				acc = fn(acc, v)
			}()
		},
		reject,
		func() { resolve(acc) },
	)
	return m
}

// Count resolves with the number of values src produced.
func Count[T any](src reactor.Source[T]) *reactor.Mono[int64] {
	return Reduce(src, int64(0), func(acc int64, _ T) int64 { return acc + 1 })
}

// All resolves with true iff predicate held for every value of src (true on
// an empty src), short-circuiting to false (and cancelling src) on the
// first value for which predicate is false.
func All[T any](src reactor.Source[T], predicate func(T) bool) *reactor.Mono[bool] {
	m, resolve, reject := reactor.NewMono[bool]()
	var upSub reactor.Subscription
	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			upSub = sub
			sub.Request(reactor.Unbounded)
		},
		func(v T) {
			if !predicate(v) {
				resolve(false)
				if upSub != nil {
					upSub.Cancel()
				}
			}
		},
		reject,
		func() { resolve(true) },
	))
	return m
}

// Any resolves with true as soon as predicate holds for some value of src
// (cancelling src at that point), or false if src completes without one.
func Any[T any](src reactor.Source[T], predicate func(T) bool) *reactor.Mono[bool] {
	m, resolve, reject := reactor.NewMono[bool]()
	var upSub reactor.Subscription
	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			upSub = sub
			sub.Request(reactor.Unbounded)
		},
		func(v T) {
			if predicate(v) {
				resolve(true)
				if upSub != nil {
					upSub.Cancel()
				}
			}
		},
		reject,
		func() { resolve(false) },
	))
	return m
}

// ElementAt resolves with the n-th (0-indexed) value of src, or rejects
// with a reactor.ProtocolViolation if src completes with fewer than n+1
// values.
func ElementAt[T any](src reactor.Source[T], n int) *reactor.Mono[T] {
	m, resolve, reject := reactor.NewMono[T]()
	var upSub reactor.Subscription
	idx := 0
	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			upSub = sub
			sub.Request(reactor.Unbounded)
		},
		func(v T) {
			if idx == n {
				resolve(v)
				if upSub != nil {
					upSub.Cancel()
				}
			}
			idx++
		},
		reject,
		func() {
			if idx <= n {
				reject(&reactor.ProtocolViolation{Message: "ElementAt: index out of range"})
			}
		},
	))
	return m
}

// Single resolves with the sole value of src, or rejects with a
// reactor.ProtocolViolation if src produces zero or more than one value.
func Single[T any](src reactor.Source[T]) *reactor.Mono[T] {
	m, resolve, reject := reactor.NewMono[T]()
	var upSub reactor.Subscription
	count := 0
	var only T
	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			upSub = sub
			sub.Request(reactor.Unbounded)
		},
		func(v T) {
			count++
			if count == 1 {
				only = v
			} else if upSub != nil {
				upSub.Cancel()
				reject(&reactor.ProtocolViolation{Message: "Single: source produced more than one value"})
			}
		},
		reject,
		func() {
			switch count {
			case 0:
				reject(&reactor.ProtocolViolation{Message: "Single: source produced no values"})
			case 1:
				resolve(only)
			}
		},
	))
	return m
}

// Last resolves with the final value of src, or rejects with a
// reactor.ProtocolViolation if src completed without producing any.
func Last[T any](src reactor.Source[T]) *reactor.Mono[T] {
	m, resolve, reject := reactor.NewMono[T]()
	var last T
	var has bool
	subscribeUnbounded(src,
		func(v T) { last = v; has = true },
		reject,
		func() {
			if !has {
				reject(&reactor.ProtocolViolation{Message: "Last: source produced no values"})
				return
			}
			resolve(last)
		},
	)
	return m
}

// ToList resolves with every value of src, in order, as a slice.
func ToList[T any](src reactor.Source[T]) *reactor.Mono[[]T] {
	return Reduce(src, []T(nil), func(acc []T, v T) []T { return append(acc, v) })
}

// ToMap resolves with a map built by applying keyFn to every value of src.
// A later value whose key collides with an earlier one overwrites it.
func ToMap[T any, K comparable](src reactor.Source[T], keyFn func(T) K) *reactor.Mono[map[K]T] {
	return Reduce(src, map[K]T{}, func(acc map[K]T, v T) map[K]T {
		acc[keyFn(v)] = v
		return acc
	})
}

// ToMultimap resolves with a map from key to every value of src that
// produced it, preserving arrival order within each key's slice.
func ToMultimap[T any, K comparable](src reactor.Source[T], keyFn func(T) K) *reactor.Mono[map[K][]T] {
	return Reduce(src, map[K][]T{}, func(acc map[K][]T, v T) map[K][]T {
		k := keyFn(v)
		acc[k] = append(acc[k], v)
		return acc
	})
}

// ToSortedList resolves with every value of src collected into a slice and
// sorted ascending by key.
func ToSortedList[T any, K constraints.Ordered](src reactor.Source[T], keyFn func(T) K) *reactor.Mono[[]T] {
	out, resolve, reject := reactor.NewMono[[]T]()
	ToList(src).Subscribe(func(list []T) {
		sorted := append([]T(nil), list...)
		slices.SortFunc(sorted, func(a, b T) int {
			ka, kb := keyFn(a), keyFn(b)
			switch {
			case ka < kb:
				return -1
			case ka > kb:
				return 1
			default:
				return 0
			}
		})
		resolve(sorted)
	}, reject)
	return out
}
