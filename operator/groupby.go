package operator

import (
	"sync"

	"github.com/joeycumines/reactor"
)

// Group is the Source of values sharing a single key, produced by GroupBy.
// Subscribe may be called at most once per Group, consistent with a hot,
// already-open substream.
type Group[K any, T any] struct {
	Key    K
	Source reactor.Source[T]
}

type groupEmitter[T any] struct {
	b *buffered[T]
}

func newGroupEmitter[T any]() *groupEmitter[T] {
	return &groupEmitter[T]{b: newBuffered[T]()}
}

func (g *groupEmitter[T]) Subscribe(consumer reactor.Consumer[T]) { g.b.start(consumer, func() {}) }
func (g *groupEmitter[T]) push(v T)                               { g.b.push(v) }
func (g *groupEmitter[T]) fail(err error)                         { g.b.fail(err) }
func (g *groupEmitter[T]) complete()                              { g.b.complete() }

// GroupBy partitions src into one substream per distinct key (as computed
// by keyFn), emitting a Group the first time a given key is seen. Every
// substream buffers unboundedly, the same strategy as OnBackpressureBuffer,
// so a slow consumer of one group can never stall delivery to another, or
// to the outer stream of Groups itself.
func GroupBy[T any, K comparable](src reactor.Source[T], keyFn func(T) K) reactor.Source[Group[K, T]] {
	return reactor.SourceFunc[Group[K, T]](func(downstream reactor.Consumer[Group[K, T]]) {
		outer := newBuffered[Group[K, T]]()
		g := &groupByStage[T, K]{
			outer:  outer,
			keyFn:  keyFn,
			groups: make(map[K]*groupEmitter[T]),
		}
		outer.start(downstream, func() {
			g.mu.Lock()
			sub := g.upSub
			g.mu.Unlock()
			if sub != nil {
				sub.Cancel()
			}
		})
		src.Subscribe(g)
	})
}

type groupByStage[T any, K comparable] struct {
	outer  *buffered[Group[K, T]]
	keyFn  func(T) K
	upSub  reactor.Subscription
	mu     sync.Mutex
	groups map[K]*groupEmitter[T]
}

func (g *groupByStage[T, K]) OnSubscribe(sub reactor.Subscription) {
	g.mu.Lock()
	g.upSub = sub
	g.mu.Unlock()
	sub.Request(reactor.Unbounded)
}

func (g *groupByStage[T, K]) OnNext(v T) {
	var key K
	var keyErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				keyErr = wrapPanic(p)
			}
		}()
		key = g.keyFn(v)
	}()
	if keyErr != nil {
		g.outer.fail(keyErr)
		return
	}

	g.mu.Lock()
	emitter, ok := g.groups[key]
	if !ok {
		emitter = newGroupEmitter[T]()
		g.groups[key] = emitter
	}
	g.mu.Unlock()

	if !ok {
		g.outer.push(Group[K, T]{Key: key, Source: emitter})
	}
	emitter.push(v)
}

func (g *groupByStage[T, K]) OnError(err error) {
	g.mu.Lock()
	emitters := make([]*groupEmitter[T], 0, len(g.groups))
	for _, e := range g.groups {
		emitters = append(emitters, e)
	}
	g.mu.Unlock()
	for _, e := range emitters {
		e.fail(err)
	}
	g.outer.fail(err)
}

func (g *groupByStage[T, K]) OnComplete() {
	g.mu.Lock()
	emitters := make([]*groupEmitter[T], 0, len(g.groups))
	for _, e := range g.groups {
		emitters = append(emitters, e)
	}
	g.mu.Unlock()
	for _, e := range emitters {
		e.complete()
	}
	g.outer.complete()
}
