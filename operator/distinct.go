package operator

import "github.com/joeycumines/reactor"

// Distinct relays only values of src never seen before (by equality of the
// comparable type itself), suppressing every later duplicate for the
// lifetime of the subscription.
func Distinct[T comparable](src reactor.Source[T]) reactor.Source[T] {
	return DistinctBy(src, func(v T) T { return v })
}

// DistinctBy relays only values of src whose key (as computed by keyFn) was
// never seen before, suppressing every later value with a duplicate key.
func DistinctBy[T any, K comparable](src reactor.Source[T], keyFn func(T) K) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		seen := make(map[K]struct{})
		newRelay(src, func(v T) (out T, keep bool, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = wrapPanic(p)
				}
			}()
			k := keyFn(v)
			if _, ok := seen[k]; ok {
				return v, false, nil
			}
			seen[k] = struct{}{}
			return v, true, nil
		}).Subscribe(downstream)
	})
}

// DistinctUntilChanged relays a value of src only when it differs from the
// immediately preceding value (by equality of the comparable type itself);
// consecutive duplicates are suppressed but a repeated value is relayed
// again once something else has intervened.
func DistinctUntilChanged[T comparable](src reactor.Source[T]) reactor.Source[T] {
	return DistinctUntilChangedBy(src, func(a, b T) bool { return a == b })
}

// DistinctUntilChangedBy relays a value of src only when equal(previous,
// value) is false, using a caller-supplied equality function.
func DistinctUntilChangedBy[T any](src reactor.Source[T], equal func(a, b T) bool) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		var prev T
		hasPrev := false
		newRelay(src, func(v T) (out T, keep bool, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = wrapPanic(p)
				}
			}()
			if hasPrev && equal(prev, v) {
				return v, false, nil
			}
			prev = v
			hasPrev = true
			return v, true, nil
		}).Subscribe(downstream)
	})
}
