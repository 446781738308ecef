package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
	"github.com/joeycumines/reactor/internal/queue"
)

// drainBatch bounds how many values a single publishOn drain round
// delivers before yielding the executor goroutine back and rescheduling,
// so an unbounded stream can't monopolize it.
const drainBatch = 64

// SubscribeOn moves the act of subscribing to src, and any synchronous
// work its Subscribe does before the first OnSubscribe, onto executor
// instead of running it on the caller's goroutine.
func SubscribeOn[T any](src reactor.Source[T], executor reactor.Executor) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		executor.Schedule(func() {
			src.Subscribe(downstream)
		})
	})
}

// PublishOn re-dispatches every signal (OnNext, OnError, OnComplete) from
// src onto executor, decoupling whatever goroutine src produces values on
// from whichever goroutine the downstream consumer runs on. A bounded
// queue with prefetch capacity sits between src and executor: prefetch
// values (or unbounded, if prefetch <= 0) are requested from src up
// front, and one more is requested each time a value is handed off to
// executor, keeping at most prefetch values in flight at once.
func PublishOn[T any](src reactor.Source[T], executor reactor.Executor, prefetch int) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		p := &publishOnStage[T]{
			downstream: downstream,
			executor:   executor,
			prefetch:   prefetch,
			buf:        queue.NewChunked[T](),
		}
		p.stage.TryTransition(reactor.StageIdle, reactor.StageSubscribed)
		downstream.OnSubscribe(&publishOnSubscription[T]{p: p})
		src.Subscribe(p)
	})
}

// publishOnStage is the drain-loop scaffold for PublishOn: it holds the
// same CAS-elected single-owner discipline as buffered, except the owner
// dispatches each round of delivery through executor.Schedule rather than
// running it inline. A worker that finds draining already scheduled sets
// dirty and returns; the current owner observes dirty at the end of its
// round and reschedules itself instead of relinquishing the token.
type publishOnStage[T any] struct {
	downstream reactor.Consumer[T]
	executor   reactor.Executor
	prefetch   int

	mu              sync.Mutex
	buf             *queue.Chunked[T]
	demand          reactor.DemandCounter
	stage           reactor.Stage
	upSub           reactor.Subscription
	scheduled       bool
	dirty           bool
	completePending bool
	failPending     error
}

func (p *publishOnStage[T]) OnSubscribe(sub reactor.Subscription) {
	p.upSub = sub
	if p.prefetch > 0 {
		sub.Request(int64(p.prefetch))
	} else {
		sub.Request(reactor.Unbounded)
	}
}

func (p *publishOnStage[T]) OnNext(v T) {
	p.mu.Lock()
	if p.stage.Load() == reactor.StageCancelled {
		p.mu.Unlock()
		return
	}
	p.buf.Push(v)
	p.mu.Unlock()
	p.scheduleDrain()
}

func (p *publishOnStage[T]) OnError(err error) {
	p.mu.Lock()
	p.failPending = err
	p.mu.Unlock()
	p.scheduleDrain()
}

func (p *publishOnStage[T]) OnComplete() {
	p.mu.Lock()
	p.completePending = true
	p.mu.Unlock()
	p.scheduleDrain()
}

// scheduleDrain is the drain token acquisition: the first caller to flip
// scheduled from false to true owns the next executor round; everyone
// else just raises dirty so the owner knows to loop again before giving
// the token back up.
func (p *publishOnStage[T]) scheduleDrain() {
	p.mu.Lock()
	if p.scheduled {
		p.dirty = true
		p.mu.Unlock()
		return
	}
	p.scheduled = true
	p.mu.Unlock()
	p.executor.Schedule(p.drainOnce)
}

func (p *publishOnStage[T]) drainOnce() {
	p.mu.Lock()
	emitted := 0
	for emitted < drainBatch {
		if p.stage.Load() == reactor.StageCancelled {
			p.scheduled = false
			p.mu.Unlock()
			return
		}
		if !p.demand.Take() {
			break
		}
		value, ok := p.buf.Pop()
		if !ok {
			p.demand.Add(1)
			break
		}
		p.mu.Unlock()
		p.downstream.OnNext(value)
		if p.prefetch > 0 {
			p.upSub.Request(1)
		}
		emitted++
		p.mu.Lock()
	}

	bufEmpty := p.buf.Len() == 0
	completePending := p.completePending && bufEmpty
	if completePending {
		p.completePending = false
	}
	var failErr error
	if bufEmpty && p.failPending != nil {
		failErr = p.failPending
		p.failPending = nil
	}
	moreWork := p.dirty || (emitted == drainBatch && !bufEmpty)
	p.dirty = false
	if moreWork && failErr == nil && !completePending {
		p.mu.Unlock()
		p.executor.Schedule(p.drainOnce)
		return
	}
	p.scheduled = false
	p.mu.Unlock()

	if failErr != nil {
		if p.stage.TerminateWithError(failErr) {
			p.downstream.OnError(failErr)
		}
		return
	}
	if completePending {
		if p.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
			p.downstream.OnComplete()
		}
	}
}

func (p *publishOnStage[T]) request(n int64) {
	if n <= 0 {
		p.downstream.OnError(&reactor.ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	p.demand.Add(n)
	p.scheduleDrain()
}

func (p *publishOnStage[T]) cancel() {
	if !p.stage.TryTransition(reactor.StageIdle, reactor.StageCancelled) &&
		!p.stage.TryTransition(reactor.StageSubscribed, reactor.StageCancelled) {
		return
	}
	if p.upSub != nil {
		p.upSub.Cancel()
	}
}

type publishOnSubscription[T any] struct {
	p *publishOnStage[T]
}

func (s *publishOnSubscription[T]) Request(n int64) { s.p.request(n) }
func (s *publishOnSubscription[T]) Cancel()         { s.p.cancel() }
