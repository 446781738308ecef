package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
)

// Merge subscribes to up to maxConcurrency sources at once (maxConcurrency
// <= 0 means unbounded, subscribing to all of them immediately), queueing
// the rest until one of the active ones completes, and forwards values from
// whichever is active in arrival order. If delayError is false, the first
// error cancels every other source and surfaces immediately; if true, every
// remaining source keeps draining and the collected errors surface together
// (wrapped in a reactor.CompositeError if there is more than one) once every
// source has finished.
func Merge[T any](maxConcurrency int, delayError bool, sources ...reactor.Source[T]) reactor.Source[T] {
	return reactor.SourceFunc[T](func(downstream reactor.Consumer[T]) {
		b := newBuffered[T]()
		m := &mergeStage[T]{b: b, sources: sources, maxConcurrency: maxConcurrency, delayError: delayError, remaining: len(sources)}
		b.start(downstream, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, s := range m.subs {
				if s != nil {
					s.Cancel()
				}
			}
		})

		if len(sources) == 0 {
			b.complete()
			return
		}

		limit := maxConcurrency
		if limit <= 0 || limit > len(sources) {
			limit = len(sources)
		}
		m.subs = make([]reactor.Subscription, len(sources))
		m.nextIdx = limit
		for i := 0; i < limit; i++ {
			m.startAt(i)
		}
	})
}

type mergeStage[T any] struct {
	b              *buffered[T]
	sources        []reactor.Source[T]
	maxConcurrency int
	delayError     bool
	mu             sync.Mutex
	subs           []reactor.Subscription
	nextIdx        int
	remaining      int
	errs           []error
}

func (m *mergeStage[T]) startAt(i int) {
	m.sources[i].Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			m.mu.Lock()
			m.subs[i] = sub
			m.mu.Unlock()
			if m.b.stage.IsTerminal() {
				sub.Cancel()
				return
			}
			sub.Request(reactor.Unbounded)
		},
		func(v T) { m.b.push(v) },
		func(err error) { m.onError(err) },
		func() { m.onSourceDone() },
	))
}

func (m *mergeStage[T]) onError(err error) {
	if !m.delayError {
		m.b.fail(err)
		m.b.onCancel()
		return
	}
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
	m.onSourceDone()
}

func (m *mergeStage[T]) onSourceDone() {
	m.mu.Lock()
	m.remaining--
	done := m.remaining == 0
	next := -1
	if m.nextIdx < len(m.sources) {
		next = m.nextIdx
		m.nextIdx++
	}
	errs := m.errs
	m.mu.Unlock()
	if next >= 0 {
		m.startAt(next)
	}
	if done {
		m.finish(errs)
	}
}

func (m *mergeStage[T]) finish(errs []error) {
	if len(errs) == 1 {
		m.b.fail(errs[0])
		return
	}
	if len(errs) > 0 {
		m.b.fail(&reactor.CompositeError{Errors: errs})
		return
	}
	m.b.complete()
}

// FlatMap maps each value of src to an inner Source via fn, running up to
// maxConcurrency inner sources at once (maxConcurrency <= 0 means
// unbounded) and merging their outputs, queueing outer values that arrive
// once the concurrency bound is reached until an active inner completes.
// Each inner subscription is primed with prefetch items (prefetch <= 0
// means unbounded) and refilled by one every time it emits a value into
// FlatMap's internal buffer; the refill does not wait for downstream
// demand, so with a slow downstream that buffer is not bounded by
// prefetch. If delayError is false, the first error (outer or inner)
// cancels everything and surfaces immediately; if true, every inner keeps
// draining and the collected errors surface together (wrapped in a
// reactor.CompositeError if there is more than one) once the outer and
// every inner have finished.
func FlatMap[T, U any](src reactor.Source[T], fn func(T) reactor.Source[U], maxConcurrency, prefetch int, delayError bool) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		b := newBuffered[U]()
		fm := &flatMapStage[T, U]{b: b, fn: fn, maxConcurrency: maxConcurrency, prefetch: prefetch, delayError: delayError, active: 1}
		b.start(downstream, func() {
			fm.mu.Lock()
			defer fm.mu.Unlock()
			if fm.outerSub != nil {
				fm.outerSub.Cancel()
			}
			for _, s := range fm.innerSubs {
				s.Cancel()
			}
		})
		src.Subscribe(fm)
	})
}

type flatMapStage[T, U any] struct {
	b              *buffered[U]
	fn             func(T) reactor.Source[U]
	maxConcurrency int
	prefetch       int
	delayError     bool
	outerSub       reactor.Subscription
	mu             sync.Mutex
	innerSubs      []reactor.Subscription
	activeInner    int
	active         int // outer (1 while not complete) + activeInner
	pendingVals    []T
	errs           []error
}

func (f *flatMapStage[T, U]) OnSubscribe(sub reactor.Subscription) {
	f.outerSub = sub
	sub.Request(reactor.Unbounded)
}

func (f *flatMapStage[T, U]) OnNext(v T) {
	f.mu.Lock()
	if f.maxConcurrency > 0 && f.activeInner >= f.maxConcurrency {
		f.pendingVals = append(f.pendingVals, v)
		f.mu.Unlock()
		return
	}
	f.activeInner++
	f.active++
	f.mu.Unlock()
	f.subscribeInner(v)
}

func (f *flatMapStage[T, U]) subscribeInner(v T) {
	var inner reactor.Source[U]
	var panicErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				panicErr = wrapPanic(p)
			}
		}()
		inner = f.fn(v)
	}()
	if panicErr != nil {
		f.onInnerError(panicErr)
		return
	}
	if inner == nil {
		f.innerDone()
		return
	}
	prefetch := f.prefetch
	var innerSub reactor.Subscription
	inner.Subscribe(reactor.NewRequestingConsumer[U](
		func(sub reactor.Subscription) {
			innerSub = sub
			f.mu.Lock()
			f.innerSubs = append(f.innerSubs, sub)
			f.mu.Unlock()
			if prefetch > 0 {
				sub.Request(int64(prefetch))
			} else {
				sub.Request(reactor.Unbounded)
			}
		},
		func(v U) {
			f.b.push(v)
			if prefetch > 0 && innerSub != nil {
				innerSub.Request(1)
			}
		},
		func(err error) { f.onInnerError(err) },
		func() { f.innerDone() },
	))
}

func (f *flatMapStage[T, U]) onInnerError(err error) {
	if !f.delayError {
		f.b.fail(err)
		f.b.onCancel()
		return
	}
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	f.innerDone()
}

func (f *flatMapStage[T, U]) innerDone() {
	f.mu.Lock()
	f.activeInner--
	f.active--
	var next T
	hasNext := false
	if len(f.pendingVals) > 0 {
		next = f.pendingVals[0]
		f.pendingVals = f.pendingVals[1:]
		hasNext = true
		f.activeInner++
		f.active++
	}
	done := f.active == 0
	errs := f.errs
	f.mu.Unlock()
	if hasNext {
		f.subscribeInner(next)
	}
	if done {
		f.finish(errs)
	}
}

func (f *flatMapStage[T, U]) finish(errs []error) {
	if len(errs) == 1 {
		f.b.fail(errs[0])
		return
	}
	if len(errs) > 0 {
		f.b.fail(&reactor.CompositeError{Errors: errs})
		return
	}
	f.b.complete()
}

func (f *flatMapStage[T, U]) OnError(err error) {
	if !f.delayError {
		f.b.fail(err)
		f.b.onCancel()
		return
	}
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	f.outerDone()
}

func (f *flatMapStage[T, U]) OnComplete() { f.outerDone() }

// outerDone retires the outer Source's slot in active without touching
// activeInner or the pending queue, since the outer completing frees no
// concurrency slot for a queued value to take.
func (f *flatMapStage[T, U]) outerDone() {
	f.mu.Lock()
	f.active--
	done := f.active == 0
	errs := f.errs
	f.mu.Unlock()
	if done {
		f.finish(errs)
	}
}

// CombineLatest waits for every source to produce at least one value, then
// emits combine(latestValues...) every time any source produces a new
// value. It completes once a source completes without ever having produced
// a value, or once every source has completed, and fails immediately when
// any source errors.
func CombineLatest[T any, U any](combine func([]T) U, sources ...reactor.Source[T]) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		n := len(sources)
		b := newBuffered[U]()
		cl := &combineLatestStage[T, U]{
			b:       b,
			combine: combine,
			latest:  make([]T, n),
			has:     make([]bool, n),
			subs:    make([]reactor.Subscription, n),
		}
		b.start(downstream, func() {
			cl.mu.Lock()
			defer cl.mu.Unlock()
			for _, s := range cl.subs {
				if s != nil {
					s.Cancel()
				}
			}
		})
		if n == 0 {
			b.complete()
			return
		}
		for i, src := range sources {
			i := i
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					cl.mu.Lock()
					cl.subs[i] = sub
					cl.mu.Unlock()
					sub.Request(reactor.Unbounded)
				},
				func(v T) { cl.onNext(i, v) },
				func(err error) { b.fail(err) },
				func() { cl.onDone(i) },
			))
		}
	})
}

type combineLatestStage[T, U any] struct {
	b         *buffered[U]
	combine   func([]T) U
	mu        sync.Mutex
	latest    []T
	has       []bool
	ready     int
	completed int
	subs      []reactor.Subscription
}

func (c *combineLatestStage[T, U]) onDone(i int) {
	c.mu.Lock()
	c.completed++
	finished := !c.has[i] || c.completed == len(c.latest)
	c.mu.Unlock()
	if finished {
		c.b.complete()
	}
}

func (c *combineLatestStage[T, U]) onNext(i int, v T) {
	c.mu.Lock()
	if !c.has[i] {
		c.has[i] = true
		c.ready++
	}
	c.latest[i] = v
	allReady := c.ready == len(c.latest)
	var snapshot []T
	if allReady {
		snapshot = append([]T(nil), c.latest...)
	}
	c.mu.Unlock()
	if !allReady {
		return
	}
	var out U
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = wrapPanic(p)
			}
		}()
		out = c.combine(snapshot)
	}()
	if err != nil {
		c.b.fail(err)
		return
	}
	c.b.push(out)
}

// Zip pairs up the i-th value from every source into combine(values...),
// one tuple per i, completing as soon as the shortest source completes.
func Zip[T any, U any](combine func([]T) U, sources ...reactor.Source[T]) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		n := len(sources)
		b := newBuffered[U]()
		z := &zipStage[T, U]{
			b:       b,
			combine: combine,
			queues:  make([][]T, n),
			done:    make([]bool, n),
			subs:    make([]reactor.Subscription, n),
		}
		b.start(downstream, func() {
			z.mu.Lock()
			defer z.mu.Unlock()
			for _, s := range z.subs {
				if s != nil {
					s.Cancel()
				}
			}
		})
		if n == 0 {
			b.complete()
			return
		}
		for i, src := range sources {
			i := i
			src.Subscribe(reactor.NewRequestingConsumer[T](
				func(sub reactor.Subscription) {
					z.mu.Lock()
					z.subs[i] = sub
					z.mu.Unlock()
					sub.Request(reactor.Unbounded)
				},
				func(v T) { z.onNext(i, v) },
				func(err error) { b.fail(err) },
				func() { z.onDone(i) },
			))
		}
	})
}

type zipStage[T, U any] struct {
	b       *buffered[U]
	combine func([]T) U
	mu      sync.Mutex
	queues  [][]T
	done    []bool
	subs    []reactor.Subscription
}

func (z *zipStage[T, U]) onNext(i int, v T) {
	z.mu.Lock()
	z.queues[i] = append(z.queues[i], v)
	ready := true
	for _, q := range z.queues {
		if len(q) == 0 {
			ready = false
			break
		}
	}
	var tuple []T
	finished := false
	if ready {
		tuple = make([]T, len(z.queues))
		for j, q := range z.queues {
			tuple[j] = q[0]
			z.queues[j] = q[1:]
			if z.done[j] && len(z.queues[j]) == 0 {
				finished = true
			}
		}
	}
	z.mu.Unlock()
	if !ready {
		return
	}
	var out U
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = wrapPanic(p)
			}
		}()
		out = z.combine(tuple)
	}()
	if err != nil {
		z.b.fail(err)
		return
	}
	z.b.push(out)
	if finished {
		z.b.complete()
	}
}

func (z *zipStage[T, U]) onDone(i int) {
	z.mu.Lock()
	z.done[i] = true
	empty := len(z.queues[i]) == 0
	z.mu.Unlock()
	if empty {
		z.b.complete()
	}
}

// WithLatestFrom combines every value of src with the most recent value of
// other (dropping src values produced before other has emitted at least
// once). Only src completing (or erroring) ends the stream; other
// completing does not.
func WithLatestFrom[T, O, U any](src reactor.Source[T], other reactor.Source[O], combine func(T, O) U) reactor.Source[U] {
	return reactor.SourceFunc[U](func(downstream reactor.Consumer[U]) {
		b := newBuffered[U]()
		w := &withLatestStage[T, O, U]{b: b, combine: combine}
		b.start(downstream, func() {
			w.mu.Lock()
			srcSub, otherSub := w.srcSub, w.otherSub
			w.mu.Unlock()
			if srcSub != nil {
				srcSub.Cancel()
			}
			if otherSub != nil {
				otherSub.Cancel()
			}
		})

		other.Subscribe(reactor.NewRequestingConsumer[O](
			func(sub reactor.Subscription) {
				w.mu.Lock()
				w.otherSub = sub
				w.mu.Unlock()
				sub.Request(reactor.Unbounded)
			},
			func(v O) {
				w.mu.Lock()
				w.latest = v
				w.has = true
				w.mu.Unlock()
			},
			func(error) {},
			func() {},
		))

		src.Subscribe(reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				w.mu.Lock()
				w.srcSub = sub
				w.mu.Unlock()
				sub.Request(reactor.Unbounded)
			},
			func(v T) {
				w.mu.Lock()
				has, latest := w.has, w.latest
				w.mu.Unlock()
				if !has {
					return
				}
				var out U
				var err error
				func() {
					defer func() {
						if p := recover(); p != nil {
							err = wrapPanic(p)
						}
					}()
					out = combine(v, latest)
				}()
				if err != nil {
					b.fail(err)
					return
				}
				b.push(out)
			},
			func(err error) { b.fail(err) },
			func() { b.complete() },
		))
	})
}

type withLatestStage[T, O, U any] struct {
	b       *buffered[U]
	combine func(T, O) U
	mu      sync.Mutex
	srcSub  reactor.Subscription
	otherSub reactor.Subscription
	latest  O
	has     bool
}
