// Package operator implements the stream operator algebra: stateless
// transforms, ordering and interleaving combinators, time-based operators,
// reduction operators that terminate into a reactor.Mono, error-recovery
// operators, backpressure adapters, distinct filtering, and grouping.
//
// Every operator here is a plain function taking one or more
// reactor.Source values and returning a new reactor.Source (or, for
// reduction operators, a function taking a reactor.Source and returning a
// *reactor.Mono). None of them spawn goroutines directly; time-based
// operators accept a reactor.DelayedExecutor instead.
package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
	"github.com/joeycumines/reactor/internal/queue"
)

// buffered is the common drain-loop scaffold shared by the combinator,
// time, backpressure, and grouping operators: an internal queue decouples
// however the upstream(s) actually produce values from the pace at which
// the downstream consumer has requested them, with a CAS-elected single
// drain-loop owner so concurrent upstream producers (Merge, CombineLatest)
// and a concurrently re-entrant Request call never race on delivery order.
type buffered[U any] struct {
	mu              sync.Mutex
	buf             *queue.Chunked[U]
	downstream      reactor.Consumer[U]
	demand          reactor.DemandCounter
	stage           reactor.Stage
	draining        bool
	completePending bool
	failPending     error
	onCancel        func()
}

func newBuffered[U any]() *buffered[U] {
	return &buffered[U]{buf: queue.NewChunked[U]()}
}

// start delivers the Subscription to downstream and stores it, completing
// the handshake, then delivers any terminal signal raised before it ran.
func (b *buffered[U]) start(downstream reactor.Consumer[U], onCancel func()) {
	b.downstream = downstream
	b.onCancel = onCancel
	b.stage.TryTransition(reactor.StageIdle, reactor.StageSubscribed)
	downstream.OnSubscribe(&bufferedSubscription[U]{b: b})
	b.drain()
}

// push enqueues value for delivery, then runs the drain loop if nobody else
// currently owns it.
func (b *buffered[U]) push(value U) {
	b.mu.Lock()
	if b.stage.IsTerminal() {
		b.mu.Unlock()
		return
	}
	b.buf.Push(value)
	b.mu.Unlock()
	b.drain()
}

// fail delivers a terminal error, discarding any buffered values (per the
// Signal protocol, a terminal signal overrides pending data).
func (b *buffered[U]) fail(err error) {
	b.mu.Lock()
	if b.stage.Load() == reactor.StageIdle {
		// no downstream yet: start delivers the error once it subscribes
		b.buf = queue.NewChunked[U]()
		b.failPending = err
		b.mu.Unlock()
		return
	}
	if !b.stage.TerminateWithError(err) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.downstream.OnError(err)
}

// complete delivers the Complete signal once the buffer has fully drained;
// if values remain buffered, it marks completion pending and lets drain
// deliver it once empty.
func (b *buffered[U]) complete() {
	b.mu.Lock()
	if b.stage.Load() == reactor.StageIdle {
		// no downstream yet: start delivers completion once it subscribes
		b.completePending = true
		b.mu.Unlock()
		return
	}
	if b.buf.Len() > 0 {
		b.completePending = true
		b.mu.Unlock()
		b.drain()
		return
	}
	if !b.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.downstream.OnComplete()
}

// failAfterDrain marks err to be delivered once any values already pushed
// have drained to the downstream, instead of discarding them as fail does.
// Concat/ConcatMap's BOUNDARY error mode uses this: the source that just
// errored stops the chain from advancing, but whatever it had already
// produced is still delivered before the error is.
func (b *buffered[U]) failAfterDrain(err error) {
	b.mu.Lock()
	if b.buf.Len() == 0 {
		b.mu.Unlock()
		b.fail(err)
		return
	}
	b.failPending = err
	b.mu.Unlock()
	b.drain()
}

func (b *buffered[U]) request(n int64) {
	if n <= 0 {
		b.downstream.OnError(&reactor.ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	b.demand.Add(n)
	b.drain()
}

func (b *buffered[U]) cancel() {
	if !b.stage.TryTransition(reactor.StageIdle, reactor.StageCancelled) &&
		!b.stage.TryTransition(reactor.StageSubscribed, reactor.StageCancelled) {
		return
	}
	if b.onCancel != nil {
		b.onCancel()
	}
}

// drain is the CAS-elected single emission loop: whoever successfully
// flips draining from false to true owns delivering buffered values (and
// the pending terminal signal, if any) until the buffer and demand are
// exhausted, re-checking after every delivery so a value pushed mid-drain
// by a concurrent producer is never missed.
func (b *buffered[U]) drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for {
		if b.stage.IsTerminal() {
			b.draining = false
			b.mu.Unlock()
			return
		}
		if !b.demand.Take() {
			break
		}
		value, ok := b.buf.Pop()
		if !ok {
			b.demand.Add(1)
			break
		}
		b.mu.Unlock()
		b.downstream.OnNext(value)
		b.mu.Lock()
	}
	bufEmpty := b.buf.Len() == 0
	pendingComplete := b.completePending && bufEmpty
	if pendingComplete {
		b.completePending = false
	}
	var pendingFail error
	if bufEmpty && b.failPending != nil {
		pendingFail = b.failPending
		b.failPending = nil
	}
	b.draining = false
	b.mu.Unlock()

	if pendingFail != nil {
		b.fail(pendingFail)
		return
	}
	if pendingComplete {
		b.complete()
	}
}

type bufferedSubscription[U any] struct {
	b *buffered[U]
}

func (s *bufferedSubscription[U]) Request(n int64) { s.b.request(n) }
func (s *bufferedSubscription[U]) Cancel()         { s.b.cancel() }
