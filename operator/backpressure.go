package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
)

// OnBackpressureBuffer relays src downstream through an unbounded buffer,
// exactly like the plain buffered scaffold every combinator already uses:
// values produced faster than downstream demand accumulate rather than
// being dropped or rejected.
func OnBackpressureBuffer[T any](src reactor.Source[T]) reactor.Source[T] {
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
			func(v T) { b.push(v) },
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

// onBackpressureBase is the shared scaffold for the drop/latest/error
// variants: unlike buffered, it tracks outstanding demand directly (rather
// than an internal queue) since each variant's whole point is to decide,
// at arrival time, what to do with a value that demand doesn't yet cover.
type onBackpressureBase[T any] struct {
	mu         sync.Mutex
	downstream reactor.Consumer[T]
	upSub      reactor.Subscription
	demand     reactor.DemandCounter
	stage      reactor.Stage
	onRequest  func()
}

func (o *onBackpressureBase[T]) start(downstream reactor.Consumer[T]) {
	o.downstream = downstream
	o.stage.TryTransition(reactor.StageIdle, reactor.StageSubscribed)
	downstream.OnSubscribe(&onBackpressureSub[T]{o: o})
}

func (o *onBackpressureBase[T]) fail(err error) {
	if !o.stage.TerminateWithError(err) {
		return
	}
	o.downstream.OnError(err)
}

func (o *onBackpressureBase[T]) complete() {
	if !o.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
		return
	}
	o.downstream.OnComplete()
}

func (o *onBackpressureBase[T]) takeDemand() bool {
	if o.stage.Load() != reactor.StageSubscribed {
		return false
	}
	return o.demand.Take()
}

type onBackpressureSub[T any] struct{ o *onBackpressureBase[T] }

func (s *onBackpressureSub[T]) Request(n int64) {
	if n <= 0 {
		s.o.fail(&reactor.ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	s.o.demand.Add(n)
	if s.o.onRequest != nil {
		s.o.onRequest()
	}
}

func (s *onBackpressureSub[T]) Cancel() {
	o := s.o
	if !o.stage.TryTransition(reactor.StageIdle, reactor.StageCancelled) &&
		!o.stage.TryTransition(reactor.StageSubscribed, reactor.StageCancelled) {
		return
	}
	if o.upSub != nil {
		o.upSub.Cancel()
	}
}

// OnBackpressureDrop relays src downstream only while there is outstanding
// demand, silently discarding any value that arrives without it.
func OnBackpressureDrop[T any](src reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		o := &onBackpressureBase[T]{}
		o.start(downstream)
		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				o.upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				if o.takeDemand() {
					o.downstream.OnNext(v)
				}
			},
			func(err error) { o.fail(err) },
			func() { o.complete() },
		))
	})
}

// OnBackpressureLatest relays src downstream only while there is
// outstanding demand; when a value arrives without any, it overwrites
// whatever the previously-dropped value was, so the next time demand opens
// up the most recent value (not the oldest) is delivered.
func OnBackpressureLatest[T any](src reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		o := &onBackpressureBase[T]{}
		var mu sync.Mutex
		var pending T
		var hasPending bool

		flush := func() {
			for {
				mu.Lock()
				if !hasPending {
					mu.Unlock()
					return
				}
				if !o.takeDemand() {
					mu.Unlock()
					return
				}
				v := pending
				hasPending = false
				mu.Unlock()
				o.downstream.OnNext(v)
			}
		}
		o.onRequest = flush
		o.start(downstream)

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				o.upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				mu.Lock()
				if !hasPending && o.takeDemand() {
					mu.Unlock()
					o.downstream.OnNext(v)
					return
				}
				pending = v
				hasPending = true
				mu.Unlock()
			},
			func(err error) { o.fail(err) },
			func() { o.complete() },
		))
	})
}

// OnBackpressureError relays src downstream only while there is outstanding
// demand; a value arriving without any terminates the stream with a
// reactor.OverflowError instead of being buffered or dropped silently.
func OnBackpressureError[T any](src reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		o := &onBackpressureBase[T]{}
		o.start(downstream)
		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				o.upSub = sub
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				if o.takeDemand() {
					o.downstream.OnNext(v)
					return
				}
				o.fail(&reactor.OverflowError{Message: "OnBackpressureError: no outstanding demand"})
				if o.upSub != nil {
					o.upSub.Cancel()
				}
			},
			func(err error) { o.fail(err) },
			func() { o.complete() },
		))
	})
}
