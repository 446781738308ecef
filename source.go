package reactor

import "sync"

// sliceSource is a cold, replayable Source backed by a fixed slice: each
// Subscribe gets its own independent cursor, and it additionally implements
// Fusable so operator chains built directly on top of it (Map, Filter, and
// so on, via the fusion negotiation those operators perform) can bypass the
// Signal protocol entirely and pull values with a plain index increment.
//
// This is the "scalar source" concept generalized to N elements: Just and
// Range and FromSlice are all instances of it, exposing out-of-band value
// access for trivial chains (just(x).map(f) pulls directly from values[0]).
type sliceSource[T any] struct {
	values []T
}

// FromSlice returns a cold Source that replays values, in order, to each
// subscriber independently, then completes.
func FromSlice[T any](values []T) Source[T] {
	return &sliceSource[T]{values: values}
}

// Just returns a cold Source that emits the single value v, then completes.
func Just[T any](v T) Source[T] {
	return &sliceSource[T]{values: []T{v}}
}

// Empty returns a cold Source that completes immediately without emitting
// any value.
func Empty[T any]() Source[T] {
	return &sliceSource[T]{}
}

// Range returns a cold Source emitting the count consecutive int64 values
// starting at start, then completing.
func Range(start, count int64) Source[int64] {
	values := make([]int64, count)
	for i := range values {
		values[i] = start + int64(i)
	}
	return &sliceSource[int64]{values: values}
}

// Fail returns a cold Source that, once subscribed, immediately terminates
// with err and never emits a value.
func Fail[T any](err error) Source[T] {
	return SourceFunc[T](func(consumer Consumer[T]) {
		consumer.OnSubscribe(NoopSubscription())
		consumer.OnError(err)
	})
}

func (s *sliceSource[T]) Subscribe(consumer Consumer[T]) {
	it := &sliceIterator[T]{values: s.values}
	it.stage.TryTransition(StageIdle, StageSubscribed)
	it.consumer = consumer
	consumer.OnSubscribe(&sliceSubscription[T]{it: it})
}

// sliceIterator drives one subscriber's view of a sliceSource: it doubles
// as the Fusable implementation, so an adjacent operator negotiating SYNC
// fusion can Poll it directly instead of going through Request/OnNext.
type sliceIterator[T any] struct {
	mu       sync.Mutex
	values   []T
	idx      int
	consumer Consumer[T]
	stage    Stage
	demand   DemandCounter
	draining bool
}

var _ Fusable[int] = (*sliceIterator[int])(nil)

// RequestFusion grants FusionSync unconditionally: a slice source never
// produces asynchronously, so SYNC (pull-on-demand) is always honored,
// while ASYNC falls back to NONE since there is no shared queue to offer.
func (it *sliceIterator[T]) RequestFusion(mode FusionMode) FusionMode {
	switch mode {
	case FusionSync:
		return FusionSync
	default:
		return FusionNone
	}
}

// Poll returns the next value without going through the Signal protocol, or
// ok=false once the slice is exhausted. It does not itself deliver
// OnComplete; a downstream operator that has negotiated SYNC fusion is
// responsible for treating an empty Poll as the terminal signal.
func (it *sliceIterator[T]) Poll() (value T, ok bool) {
	if it.idx >= len(it.values) {
		var zero T
		return zero, false
	}
	v := it.values[it.idx]
	it.idx++
	return v, true
}

func (it *sliceIterator[T]) IsEmpty() bool {
	return it.idx >= len(it.values)
}

// Size reports the number of values not yet polled.
func (it *sliceIterator[T]) Size() int {
	return len(it.values) - it.idx
}

// Clear discards every value not yet polled, without delivering them.
func (it *sliceIterator[T]) Clear() {
	it.idx = len(it.values)
}

func (it *sliceIterator[T]) request(n int64) {
	if n <= 0 {
		it.consumer.OnError(&ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	it.demand.Add(n)
	it.drain()
}

// drain is the CAS-elected single emission loop for the relay (non-fused)
// path: it is never entered at all once a downstream has negotiated SYNC
// fusion, since that downstream instead calls Poll directly from its own
// drain loop.
func (it *sliceIterator[T]) drain() {
	it.mu.Lock()
	if it.draining {
		it.mu.Unlock()
		return
	}
	it.draining = true
	for {
		if it.stage.Load() != StageSubscribed {
			it.draining = false
			it.mu.Unlock()
			return
		}
		if !it.demand.Take() {
			break
		}
		v, ok := it.Poll()
		if !ok {
			it.demand.Add(1)
			break
		}
		it.mu.Unlock()
		it.consumer.OnNext(v)
		it.mu.Lock()
	}
	done := it.IsEmpty()
	it.draining = false
	it.mu.Unlock()
	if done && it.stage.TryTransition(StageSubscribed, StageTerminated) {
		it.consumer.OnComplete()
	}
}

func (it *sliceIterator[T]) cancel() {
	it.stage.TryTransition(StageIdle, StageCancelled)
	it.stage.TryTransition(StageSubscribed, StageCancelled)
}

// sliceSubscription is both the Subscription and (via delegation) the
// Fusable handle for one sliceSource subscriber: a downstream operator's
// OnSubscribe type-asserts the Subscription it receives to Fusable[T] to
// discover fusion is available at all, exactly the negotiation point
// described by the fusion contract.
type sliceSubscription[T any] struct {
	it *sliceIterator[T]
}

var _ Fusable[int] = (*sliceSubscription[int])(nil)

func (s *sliceSubscription[T]) Request(n int64) { s.it.request(n) }
func (s *sliceSubscription[T]) Cancel()         { s.it.cancel() }

func (s *sliceSubscription[T]) RequestFusion(mode FusionMode) FusionMode { return s.it.RequestFusion(mode) }
func (s *sliceSubscription[T]) Poll() (T, bool)                          { return s.it.Poll() }
func (s *sliceSubscription[T]) IsEmpty() bool                            { return s.it.IsEmpty() }
func (s *sliceSubscription[T]) Size() int                                { return s.it.Size() }
func (s *sliceSubscription[T]) Clear()                                   { s.it.Clear() }
