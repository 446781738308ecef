package reactor

import (
	"sync"

	"github.com/joeycumines/reactor/internal/queue"
)

// Emitter is the imperative handle passed to the callback given to Create.
// It lets ordinary, non-reactive code produce a Source by calling Next any
// number of times, followed by exactly one of Error or Complete.
type Emitter[T any] interface {
	// Next delivers a value downstream, buffering it if the consumer has
	// not yet requested enough demand to receive it immediately. Calling
	// Next after Error, Complete, or cancellation is a no-op.
	Next(value T)
	// Error delivers a terminal error signal. A no-op if already terminal.
	Error(err error)
	// Complete delivers a terminal completion signal. A no-op if already
	// terminal.
	Complete()
	// SetCancellation installs a callback invoked when the downstream
	// consumer cancels its subscription, so the emitting code can stop
	// producing (e.g. close a channel or file it was reading from).
	SetCancellation(fn func())
	// IsCancelled reports whether the downstream has cancelled, so a long
	// running producer loop can check it between iterations instead of
	// only reacting via SetCancellation.
	IsCancelled() bool
}

// emitterSource is the Source built by Create: it buffers values produced
// faster than requested in an unbounded (or, with WithBufferCapacity,
// bounded-with-drop) Chunked queue, and drains that queue as demand arrives
// via Subscription.Request. The buffer and Stage together give it the same
// "single drain-loop owner, CAS-elected" discipline every operator in this
// module uses.
type emitterSource[T any] struct {
	run    func(Emitter[T])
	opts   *sourceOptions
}

// Create builds a Source from an imperative producer function. run is
// invoked once per Subscribe, synchronously, on the goroutine that calls
// Subscribe; it is expected to call the given Emitter's Next/Error/Complete
// as values become available, typically in a loop.
func Create[T any](run func(Emitter[T]), opts ...SourceOption) Source[T] {
	return &emitterSource[T]{run: run, opts: resolveSourceOptions(opts)}
}

func (s *emitterSource[T]) Subscribe(consumer Consumer[T]) {
	e := &emitter[T]{
		opts:     s.opts,
		buf:      queue.NewChunked[T](),
		consumer: consumer,
	}
	sub := &emitterSubscription[T]{e: e}
	consumer.OnSubscribe(sub)
	s.run(e)
}

// NewEmitter returns a Source paired directly with the Emitter that drives
// it, for callers who want to start producing values immediately rather
// than inside a callback handed to Create. Only one subscriber is
// supported: values and any terminal signal pushed before Subscribe is
// called are buffered and replayed, in order, to whichever single consumer
// eventually subscribes.
func NewEmitter[T any](opts ...SourceOption) (Source[T], Emitter[T]) {
	e := &emitter[T]{opts: resolveSourceOptions(opts), buf: queue.NewChunked[T]()}
	src := SourceFunc[T](func(consumer Consumer[T]) {
		e.mu.Lock()
		e.consumer = consumer
		pendingErr := e.pendingErr
		e.mu.Unlock()
		consumer.OnSubscribe(&emitterSubscription[T]{e: e})
		if pendingErr != nil {
			e.mu.Lock()
			e.buf = queue.NewChunked[T]()
			e.mu.Unlock()
			consumer.OnError(pendingErr)
			return
		}
		e.drain()
	})
	return src, e
}

type emitter[T any] struct {
	mu         sync.Mutex
	opts       *sourceOptions
	buf        *queue.Chunked[T]
	consumer   Consumer[T]
	demand     DemandCounter
	stage      Stage
	cancelFn   func()
	terminated bool
	draining   bool

	// pendingErr/pendingComplete hold a terminal signal raised before a
	// consumer had subscribed (only possible via NewEmitter), delivered once
	// Subscribe attaches the real consumer and drains any buffered values.
	pendingErr      error
	pendingComplete bool
}

func (e *emitter[T]) Next(value T) {
	e.mu.Lock()
	if e.terminated || e.stage.Load() == StageCancelled {
		e.mu.Unlock()
		return
	}
	if !e.draining && e.buf.Len() == 0 && e.demand.Take() {
		e.mu.Unlock()
		e.consumer.OnNext(value)
		return
	}
	if e.opts.bufferCapacity > 0 && e.buf.Len() >= e.opts.bufferCapacity {
		e.mu.Unlock()
		if e.opts.onBackpressureOverflow != nil {
			e.opts.onBackpressureOverflow(1)
		}
		return
	}
	e.buf.Push(value)
	e.mu.Unlock()
}

func (e *emitter[T]) Error(err error) {
	e.mu.Lock()
	if e.terminated || e.stage.Load() == StageCancelled {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	if e.consumer == nil {
		e.pendingErr = err
		e.mu.Unlock()
		return
	}
	e.buf = queue.NewChunked[T]()
	e.mu.Unlock()
	e.consumer.OnError(err)
}

func (e *emitter[T]) Complete() {
	e.mu.Lock()
	if e.terminated || e.stage.Load() == StageCancelled {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	if e.consumer == nil {
		e.pendingComplete = true
		e.mu.Unlock()
		return
	}
	if e.buf.Len() > 0 {
		// values are still waiting on demand; drain delivers OnComplete
		// once they've all been popped instead of racing ahead of them.
		e.pendingComplete = true
		e.mu.Unlock()
		e.drain()
		return
	}
	e.mu.Unlock()
	e.consumer.OnComplete()
}

func (e *emitter[T]) SetCancellation(fn func()) {
	e.mu.Lock()
	cancelled := e.stage.Load() == StageCancelled
	if !cancelled {
		e.cancelFn = fn
	}
	e.mu.Unlock()
	if cancelled && fn != nil {
		fn()
	}
}

func (e *emitter[T]) IsCancelled() bool {
	return e.stage.Load() == StageCancelled
}

func (e *emitter[T]) drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for {
		if e.stage.Load() == StageCancelled {
			e.draining = false
			e.mu.Unlock()
			return
		}
		if e.buf.Len() == 0 || !e.demand.Take() {
			break
		}
		value, _ := e.buf.Pop()
		e.mu.Unlock()
		e.consumer.OnNext(value)
		e.mu.Lock()
	}
	deliverComplete := e.pendingComplete && e.buf.Len() == 0
	if deliverComplete {
		e.pendingComplete = false
	}
	e.draining = false
	e.mu.Unlock()
	if deliverComplete {
		e.consumer.OnComplete()
	}
}

type emitterSubscription[T any] struct {
	e *emitter[T]
}

func (s *emitterSubscription[T]) Request(n int64) {
	if n <= 0 {
		s.e.consumer.OnError(&ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	s.e.demand.Add(n)
	s.e.drain()
}

func (s *emitterSubscription[T]) Cancel() {
	e := s.e
	e.mu.Lock()
	if !e.stage.TryTransition(StageIdle, StageCancelled) && !e.stage.TryTransition(StageSubscribed, StageCancelled) {
		e.mu.Unlock()
		return
	}
	fn := e.cancelFn
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}
