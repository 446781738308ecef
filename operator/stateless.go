package operator

import (
	"github.com/joeycumines/reactor"
)

// relayStage is the scaffold for the pure stateless transforms (Map,
// Filter, Cast, Hide, Peek): it forwards the Signal protocol directly,
// applying transform to decide, per upstream value, whether to deliver it
// downstream (keep=true) or silently drop it and request one more value
// from upstream to compensate (keep=false), which is exactly how a
// filtering transform preserves the 1-for-1 meaning of downstream demand
// without needing its own buffer.
type relayStage[T, U any] struct {
	downstream reactor.Consumer[U]
	upSub      reactor.Subscription
	transform  func(T) (U, bool, error)
	stage      reactor.Stage
	// fused is non-nil once the upstream has granted FusionSync: Poll pulls
	// straight through transform instead of relaying via the Signal
	// protocol, letting a chain of Map/Filter over a synchronous source
	// (Just, Range, FromSlice) compile into a single pull loop with no
	// per-element signalling overhead.
	fused reactor.Fusable[T]
}

func newRelay[T, U any](upstream reactor.Source[T], transform func(T) (U, bool, error)) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		r := &relayStage[T, U]{downstream: downstream, transform: transform}
		upstream.Subscribe(r)
	})
}

func (r *relayStage[T, U]) OnSubscribe(sub reactor.Subscription) {
	r.upSub = sub
	r.stage.TryTransition(reactor.StageIdle, reactor.StageSubscribed)
	if fusable, ok := sub.(reactor.Fusable[T]); ok {
		if fusable.RequestFusion(reactor.FusionSync) == reactor.FusionSync {
			r.fused = fusable
		}
	}
	r.downstream.OnSubscribe(&relaySubscription[T, U]{r: r})
}

func (r *relayStage[T, U]) OnNext(value T) {
	if r.stage.IsTerminal() {
		return
	}
	out, keep, err := r.transform(value)
	if err != nil {
		if r.stage.TerminateWithError(err) {
			r.upSub.Cancel()
			r.downstream.OnError(err)
		}
		return
	}
	if !keep {
		r.upSub.Request(1)
		return
	}
	r.downstream.OnNext(out)
}

func (r *relayStage[T, U]) OnError(err error) {
	if r.stage.TerminateWithError(err) {
		r.downstream.OnError(err)
	}
}

func (r *relayStage[T, U]) OnComplete() {
	if r.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
		r.downstream.OnComplete()
	}
}

// pollOnce pulls a single transformed value through a fused upstream,
// silently skipping values the transform drops (a fused Filter), and
// stopping at the first transform error or upstream exhaustion.
func (r *relayStage[T, U]) pollOnce() (out U, ok bool, err error) {
	for {
		v, has := r.fused.Poll()
		if !has {
			return out, false, nil
		}
		out, ok, err = r.transform(v)
		if err != nil {
			return out, false, err
		}
		if ok {
			return out, true, nil
		}
	}
}

// RequestFusion, Poll, and IsEmpty let a further-downstream operator fuse
// straight through this relay to whatever granted it fusion, so a chain of
// several Map/Filter stages over one synchronous source compiles into a
// single pull loop. One limitation: a transform error surfacing while a further-downstream
// consumer is polling directly (three or more fused stages deep) is
// delivered to this stage's own downstream, not to that caller.
func (s *relaySubscription[T, U]) RequestFusion(mode reactor.FusionMode) reactor.FusionMode {
	if s.r.fused != nil && mode == reactor.FusionSync {
		return reactor.FusionSync
	}
	return reactor.FusionNone
}

func (s *relaySubscription[T, U]) Poll() (U, bool) {
	out, ok, err := s.r.pollOnce()
	if err != nil {
		if s.r.stage.TerminateWithError(err) {
			s.r.downstream.OnError(err)
		}
		return out, false
	}
	return out, ok
}

func (s *relaySubscription[T, U]) IsEmpty() bool {
	return s.r.fused.IsEmpty()
}

// Size delegates to the fused upstream; since transform may drop values it
// is an upper bound on what Poll will actually yield, not an exact count.
func (s *relaySubscription[T, U]) Size() int {
	return s.r.fused.Size()
}

// Clear discards whatever the fused upstream still has queued.
func (s *relaySubscription[T, U]) Clear() {
	s.r.fused.Clear()
}

type relaySubscription[T, U any] struct {
	r *relayStage[T, U]
}

func (s *relaySubscription[T, U]) Request(n int64) {
	if s.r.fused == nil {
		s.r.upSub.Request(n)
		return
	}
	for i := int64(0); i < n; i++ {
		if s.r.stage.IsTerminal() {
			return
		}
		out, ok, err := s.r.pollOnce()
		if err != nil {
			if s.r.stage.TerminateWithError(err) {
				s.r.downstream.OnError(err)
			}
			return
		}
		if !ok {
			if s.r.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
				s.r.downstream.OnComplete()
			}
			return
		}
		s.r.downstream.OnNext(out)
	}
}

func (s *relaySubscription[T, U]) Cancel() {
	if s.r.stage.TryTransition(reactor.StageIdle, reactor.StageCancelled) ||
		s.r.stage.TryTransition(reactor.StageSubscribed, reactor.StageCancelled) {
		s.r.upSub.Cancel()
	}
}

// Map transforms every value of src with fn. If fn panics, the panic is
// recovered and delivered downstream as a reactor.UserError, per this
// module's convention of never letting a user callback crash the emitting
// goroutine.
func Map[T, U any](src reactor.Source[T], fn func(T) U) reactor.Source[U] {
	return newRelay(src, func(v T) (out U, keep bool, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = wrapPanic(p)
			}
		}()
		return fn(v), true, nil
	})
}

// MapErr is Map for a mapper that can itself fail; returning a non-nil
// error terminates the stream with that error (always wrapped as a
// reactor.UserError).
func MapErr[T, U any](src reactor.Source[T], fn func(T) (U, error)) reactor.Source[U] {
	return newRelay(src, func(v T) (out U, keep bool, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = wrapPanic(p)
			}
		}()
		out, err = fn(v)
		if err != nil {
			return out, false, &reactor.UserError{Cause: err}
		}
		return out, true, nil
	})
}

// Filter keeps only the values of src for which predicate returns true.
func Filter[T any](src reactor.Source[T], predicate func(T) bool) reactor.Source[T] {
	return newRelay(src, func(v T) (out T, keep bool, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = wrapPanic(p)
			}
		}()
		return v, predicate(v), nil
	})
}

// Cast asserts every value of src to type U, terminating the stream with a
// reactor.UserError on the first value that fails the assertion.
func Cast[T any, U any](src reactor.Source[T]) reactor.Source[U] {
	return newRelay(src, func(v T) (out U, keep bool, err error) {
		var any_ any = v
		out, ok := any_.(U)
		if !ok {
			return out, false, &reactor.UserError{Message: "Cast: value does not implement target type"}
		}
		return out, true, nil
	})
}

// Hide erases any additional capability (such as Fusable) the upstream
// Source exposed via type assertion, returning a Source that only exposes
// the plain Signal protocol. Useful when a caller deliberately wants to
// disable a downstream fusion optimization.
func Hide[T any](src reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(consumer reactor.Consumer[T]) {
		src.Subscribe(reactor.NewRequestingConsumer(
			func(sub reactor.Subscription) { consumer.OnSubscribe(plainSub{sub}) },
			consumer.OnNext,
			consumer.OnError,
			consumer.OnComplete,
		))
	})
}

// Peek calls onNext, onError, and onComplete as the corresponding signals
// pass through, without otherwise altering the stream. Any of the three
// may be nil.
func Peek[T any](src reactor.Source[T], onNext func(T), onError func(error), onComplete func()) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		src.Subscribe(reactor.NewRequestingConsumer(
			// plainSub strips any Fusable capability sub might expose: Peek's
			// side effects only fire on values that actually pass through
			// OnNext, so a further-downstream fusion that bypassed this stage
			// via Poll would silently skip them.
			func(sub reactor.Subscription) { downstream.OnSubscribe(plainSub{sub}) },
			func(v T) {
				if onNext != nil {
					onNext(v)
				}
				downstream.OnNext(v)
			},
			func(err error) {
				if onError != nil {
					onError(err)
				}
				downstream.OnError(err)
			},
			func() {
				if onComplete != nil {
					onComplete()
				}
				downstream.OnComplete()
			},
		))
	})
}

// plainSub forwards Request/Cancel without exposing whatever other
// capabilities (Fusable in particular) the wrapped Subscription has.
type plainSub struct{ reactor.Subscription }

func wrapPanic(p any) error {
	if err, ok := p.(error); ok {
		return &reactor.UserError{Cause: err}
	}
	return &reactor.UserError{Message: "panic in user callback"}
}
