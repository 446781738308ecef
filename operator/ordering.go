package operator

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/reactor"
)

// ErrorMode controls how Concat and ConcatMap react to an error while only
// one upstream is active at a time.
type ErrorMode int

const (
	// ErrorImmediate surfaces an error as soon as it arrives, discarding
	// anything still buffered downstream's way and never advancing to a
	// further source.
	ErrorImmediate ErrorMode = iota
	// ErrorBoundary lets whatever the erroring source already produced
	// finish draining to the downstream consumer, then surfaces the error
	// instead of advancing to the next source.
	ErrorBoundary
	// ErrorEnd treats every source's error as if it had completed normally,
	// running every remaining source, then surfaces every collected error
	// (wrapped in a reactor.CompositeError) once the last one finishes.
	ErrorEnd
)

// Concat subscribes to each source in order, only moving on to the next
// once the current one completes, and reacts to an error from any of them
// according to errorMode.
func Concat[T any](errorMode ErrorMode, sources ...reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		c := &concatStage[T]{b: b, sources: sources, errorMode: errorMode}
		b.start(downstream, func() {
			c.mu.Lock()
			sub := c.curSub
			c.mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})
		c.advance()
	})
}

type concatStage[T any] struct {
	b         *buffered[T]
	sources   []reactor.Source[T]
	errorMode ErrorMode
	idx       int
	mu        sync.Mutex
	curSub    reactor.Subscription
	errs      []error
}

func (c *concatStage[T]) advance() {
	c.mu.Lock()
	if c.idx >= len(c.sources) {
		errs := c.errs
		c.mu.Unlock()
		c.finish(errs)
		return
	}
	src := c.sources[c.idx]
	c.idx++
	c.mu.Unlock()

	src.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			c.mu.Lock()
			c.curSub = sub
			c.mu.Unlock()
			sub.Request(reactor.Unbounded)
		},
		func(v T) { c.b.push(v) },
		func(err error) { c.onError(err) },
		func() { c.advance() },
	))
}

func (c *concatStage[T]) onError(err error) {
	switch c.errorMode {
	case ErrorBoundary:
		c.b.failAfterDrain(err)
	case ErrorEnd:
		c.mu.Lock()
		c.errs = append(c.errs, err)
		c.mu.Unlock()
		c.advance()
	default:
		c.b.fail(err)
	}
}

func (c *concatStage[T]) finish(errs []error) {
	if len(errs) > 0 {
		c.b.fail(&reactor.CompositeError{Errors: errs})
		return
	}
	c.b.complete()
}

// ConcatMap maps each value of src to an inner Source via fn, and
// concatenates the resulting sources in the order their outer values
// arrived, never running two inner sources concurrently, reacting to an
// inner error according to errorMode.
func ConcatMap[T, U any](src reactor.Source[T], fn func(T) reactor.Source[U], errorMode ErrorMode) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		b := newBuffered[U]()
		cm := &concatMapStage[T, U]{b: b, fn: fn, errorMode: errorMode}
		b.start(downstream, func() {
			cm.mu.Lock()
			sub := cm.curSub
			cm.mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
			if cm.outerSub != nil {
				cm.outerSub.Cancel()
			}
		})
		src.Subscribe(cm)
	})
}

type concatMapStage[T, U any] struct {
	b         *buffered[U]
	fn        func(T) reactor.Source[U]
	errorMode ErrorMode
	outerSub  reactor.Subscription
	mu        sync.Mutex
	curSub    reactor.Subscription
	pending   []T
	active    bool
	outerDone bool
	errs      []error
}

func (c *concatMapStage[T, U]) OnSubscribe(sub reactor.Subscription) {
	c.outerSub = sub
	sub.Request(reactor.Unbounded)
}

func (c *concatMapStage[T, U]) OnNext(v T) {
	c.mu.Lock()
	if c.active {
		c.pending = append(c.pending, v)
		c.mu.Unlock()
		return
	}
	c.active = true
	c.mu.Unlock()
	c.subscribeInner(v)
}

func (c *concatMapStage[T, U]) subscribeInner(v T) {
	var inner reactor.Source[U]
	func() {
		defer func() {
			if p := recover(); p != nil {
				c.b.fail(wrapPanic(p))
			}
		}()
		inner = c.fn(v)
	}()
	if inner == nil {
		return
	}
	inner.Subscribe(reactor.NewRequestingConsumer[U](
		func(sub reactor.Subscription) {
			c.mu.Lock()
			c.curSub = sub
			c.mu.Unlock()
			sub.Request(reactor.Unbounded)
		},
		func(v U) { c.b.push(v) },
		func(err error) { c.innerError(err) },
		func() { c.innerComplete() },
	))
}

func (c *concatMapStage[T, U]) innerError(err error) {
	switch c.errorMode {
	case ErrorBoundary:
		c.b.failAfterDrain(err)
	case ErrorEnd:
		c.mu.Lock()
		c.errs = append(c.errs, err)
		c.mu.Unlock()
		c.innerComplete()
	default:
		c.b.fail(err)
	}
}

func (c *concatMapStage[T, U]) innerComplete() {
	c.mu.Lock()
	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.subscribeInner(next)
		return
	}
	c.active = false
	done := c.outerDone
	errs := c.errs
	c.mu.Unlock()
	if done {
		c.finish(errs)
	}
}

func (c *concatMapStage[T, U]) finish(errs []error) {
	if len(errs) > 0 {
		c.b.fail(&reactor.CompositeError{Errors: errs})
		return
	}
	c.b.complete()
}

func (c *concatMapStage[T, U]) OnError(err error) { c.b.fail(err) }

func (c *concatMapStage[T, U]) OnComplete() {
	c.mu.Lock()
	c.outerDone = true
	idle := !c.active
	errs := c.errs
	c.mu.Unlock()
	if idle {
		c.finish(errs)
	}
}

// Amb subscribes to every source concurrently and forwards only whichever
// one emits (or terminates) first, cancelling the rest.
func Amb[T any](sources ...reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		winner := &atomic.Int32{}
		winner.Store(-1)
		subs := make([]reactor.Subscription, len(sources))
		var mu sync.Mutex

		b.start(downstream, func() {
			mu.Lock()
			defer mu.Unlock()
			for _, s := range subs {
				if s != nil {
					s.Cancel()
				}
			}
		})

		for i, src := range sources {
			i := i
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					mu.Lock()
					subs[i] = sub
					mu.Unlock()
					if w := winner.Load(); w != -1 && w != int32(i) {
						sub.Cancel()
						return
					}
					sub.Request(reactor.Unbounded)
				},
				func(v T) {
					if winner.CompareAndSwap(-1, int32(i)) {
						cancelOthers(subs, &mu, i)
					}
					if winner.Load() == int32(i) {
						b.push(v)
					}
				},
				func(err error) {
					if winner.CompareAndSwap(-1, int32(i)) || winner.Load() == int32(i) {
						cancelOthers(subs, &mu, i)
						b.fail(err)
					}
				},
				func() {
					if winner.CompareAndSwap(-1, int32(i)) || winner.Load() == int32(i) {
						cancelOthers(subs, &mu, i)
						b.complete()
					}
				},
			))
		}
	})
}

func cancelOthers(subs []reactor.Subscription, mu *sync.Mutex, keep int) {
	mu.Lock()
	defer mu.Unlock()
	for i, s := range subs {
		if i != keep && s != nil {
			s.Cancel()
		}
	}
}

// SwitchMap maps each value of src to an inner Source via fn, always
// forwarding only the most recently produced inner source's signals,
// cancelling whichever inner source was previously active.
func SwitchMap[T, U any](src reactor.Source[T], fn func(T) reactor.Source[U]) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		b := newBuffered[U]()
		sm := &switchMapStage[T, U]{b: b, fn: fn}
		b.start(downstream, func() {
			sm.mu.Lock()
			sub := sm.curSub
			outer := sm.outerSub
			sm.mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
			if outer != nil {
				outer.Cancel()
			}
		})
		src.Subscribe(sm)
	})
}

type switchMapStage[T, U any] struct {
	b        *buffered[U]
	fn       func(T) reactor.Source[U]
	outerSub reactor.Subscription
	mu       sync.Mutex
	curSub   reactor.Subscription
	gen      uint64
	outerEnd bool
}

func (s *switchMapStage[T, U]) OnSubscribe(sub reactor.Subscription) {
	s.outerSub = sub
	sub.Request(reactor.Unbounded)
}

func (s *switchMapStage[T, U]) OnNext(v T) {
	s.mu.Lock()
	if s.curSub != nil {
		s.curSub.Cancel()
		s.curSub = nil
	}
	s.gen++
	myGen := s.gen
	s.mu.Unlock()

	var inner reactor.Source[U]
	func() {
		defer func() {
			if p := recover(); p != nil {
				s.b.fail(wrapPanic(p))
			}
		}()
		inner = s.fn(v)
	}()
	if inner == nil {
		return
	}
	inner.Subscribe(reactor.NewRequestingConsumer[U](
		func(sub reactor.Subscription) {
			s.mu.Lock()
			if s.gen == myGen {
				s.curSub = sub
			}
			s.mu.Unlock()
			sub.Request(reactor.Unbounded)
		},
		func(v U) {
			s.mu.Lock()
			current := s.gen == myGen
			s.mu.Unlock()
			if current {
				s.b.push(v)
			}
		},
		func(err error) {
			s.mu.Lock()
			current := s.gen == myGen
			s.mu.Unlock()
			if current {
				s.b.fail(err)
			}
		},
		func() {
			s.mu.Lock()
			current := s.gen == myGen
			outerDone := s.outerEnd
			if current {
				s.curSub = nil
			}
			s.mu.Unlock()
			if current && outerDone {
				s.b.complete()
			}
		},
	))
}

func (s *switchMapStage[T, U]) OnError(err error) { s.b.fail(err) }

func (s *switchMapStage[T, U]) OnComplete() {
	s.mu.Lock()
	s.outerEnd = true
	noActiveInner := s.curSub == nil
	s.mu.Unlock()
	if noActiveInner {
		s.b.complete()
	}
}

// SwitchOnNext flattens a Source of Sources, always forwarding only the
// most recently produced inner Source's signals. It is SwitchMap with the
// identity mapping.
func SwitchOnNext[T any](src reactor.Source[reactor.Source[T]]) reactor.Source[T] {
	return SwitchMap(src, func(s reactor.Source[T]) reactor.Source[T] { return s })
}
