// Package multicast adapts a cold, single-subscriber Source into a hot
// Source shared by many subscribers, with upstream subscription deferred to
// an explicit Connect.
package multicast

import (
	"sync"
	"time"

	"github.com/joeycumines/reactor"
	"github.com/joeycumines/reactor/internal/queue"
)

// replayPolicy decides how much history a Connectable retains for
// subscribers that arrive after values have already been broadcast.
type replayPolicy int

const (
	replayNone replayPolicy = iota
	replayAll
	replayLast
	replayAge
)

// Connectable separates subscription from starting the upstream: Subscribe
// queues the caller as one of potentially many consumers of a single
// upstream subscription, created only when Connect is called.
type Connectable[T any] struct {
	source reactor.Source[T]

	mu          sync.Mutex
	connected   bool
	upSub       reactor.Subscription
	subscribers map[*fanoutSub[T]]struct{}
	nextID      uint64

	policy   replayPolicy
	replayN  int
	replayD  time.Duration
	now      func() time.Time
	history  []replayItem[T]
	finished bool
	finalErr error
}

type replayItem[T any] struct {
	value T
	at    time.Time
}

// New wraps source as a Connectable with no replay: subscribers that arrive
// after Connect see only values emitted from that point forward.
func New[T any](source reactor.Source[T]) *Connectable[T] {
	return &Connectable[T]{source: source, subscribers: make(map[*fanoutSub[T]]struct{})}
}

// NewReplayAll wraps source as a Connectable that replays every value ever
// broadcast to every subscriber that arrives late.
func NewReplayAll[T any](source reactor.Source[T]) *Connectable[T] {
	c := New(source)
	c.policy = replayAll
	return c
}

// NewReplayLast wraps source as a Connectable that replays only the most
// recent n values to a late subscriber.
func NewReplayLast[T any](source reactor.Source[T], n int) *Connectable[T] {
	c := New(source)
	c.policy = replayLast
	c.replayN = n
	return c
}

// NewReplayAge wraps source as a Connectable that replays only values
// broadcast within the last d, as measured by now (time.Now if nil).
func NewReplayAge[T any](source reactor.Source[T], d time.Duration, now func() time.Time) *Connectable[T] {
	c := New(source)
	c.policy = replayAge
	c.replayD = d
	if now == nil {
		now = time.Now
	}
	c.now = now
	return c
}

// Subscribe queues consumer as a new subscriber, replaying history (per the
// configured policy) before any live value. If the Connectable has already
// terminated, consumer observes the stored terminal signal immediately.
func (c *Connectable[T]) Subscribe(consumer reactor.Consumer[T]) {
	sub := newFanoutSub(c, consumer)

	c.mu.Lock()
	if c.finished {
		err := c.finalErr
		c.mu.Unlock()
		sub.start()
		if err != nil {
			sub.fail(err)
		} else {
			sub.complete()
		}
		return
	}
	replay := c.replaySnapshot()
	c.subscribers[sub] = struct{}{}
	c.mu.Unlock()

	sub.start()
	for _, item := range replay {
		sub.push(item.value)
	}
}

// replaySnapshot must be called with c.mu held.
func (c *Connectable[T]) replaySnapshot() []replayItem[T] {
	switch c.policy {
	case replayAll:
		return append([]replayItem[T](nil), c.history...)
	case replayLast:
		if len(c.history) <= c.replayN {
			return append([]replayItem[T](nil), c.history...)
		}
		return append([]replayItem[T](nil), c.history[len(c.history)-c.replayN:]...)
	case replayAge:
		cutoff := c.now().Add(-c.replayD)
		out := make([]replayItem[T], 0, len(c.history))
		for _, item := range c.history {
			if !item.at.Before(cutoff) {
				out = append(out, item)
			}
		}
		return out
	default:
		return nil
	}
}

func (c *Connectable[T]) record(v T) {
	if c.policy == replayNone {
		return
	}
	var at time.Time
	if c.now != nil {
		at = c.now()
	}
	c.history = append(c.history, replayItem[T]{value: v, at: at})
	if c.policy == replayAge {
		cutoff := c.now().Add(-c.replayD)
		i := 0
		for i < len(c.history) && c.history[i].at.Before(cutoff) {
			i++
		}
		if i > 0 {
			c.history = append([]replayItem[T](nil), c.history[i:]...)
		}
	}
}

// Connect starts the single upstream subscription, broadcasting every
// signal to every subscriber present at the time it arrives (plus any that
// subscribe later, per the replay policy). Calling Connect more than once
// is a no-op; it returns a Cancellation that tears down the upstream
// subscription.
func (c *Connectable[T]) Connect() reactor.Cancellation {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return func() {}
	}
	c.connected = true
	c.mu.Unlock()

	c.source.Subscribe(reactor.NewRequestingConsumer[T](
		func(sub reactor.Subscription) {
			c.mu.Lock()
			c.upSub = sub
			c.mu.Unlock()
			sub.Request(reactor.Unbounded)
		},
		func(v T) {
			c.mu.Lock()
			c.record(v)
			subs := c.snapshotSubs()
			c.mu.Unlock()
			for _, s := range subs {
				s.push(v)
			}
		},
		func(err error) {
			c.mu.Lock()
			c.finished = true
			c.finalErr = err
			subs := c.snapshotSubs()
			c.mu.Unlock()
			for _, s := range subs {
				s.fail(err)
			}
		},
		func() {
			c.mu.Lock()
			c.finished = true
			subs := c.snapshotSubs()
			c.mu.Unlock()
			for _, s := range subs {
				s.complete()
			}
		},
	))

	return func() {
		c.mu.Lock()
		sub := c.upSub
		c.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
	}
}

// snapshotSubs must be called with c.mu held.
func (c *Connectable[T]) snapshotSubs() []*fanoutSub[T] {
	out := make([]*fanoutSub[T], 0, len(c.subscribers))
	for s := range c.subscribers {
		out = append(out, s)
	}
	return out
}

func (c *Connectable[T]) removeSub(sub *fanoutSub[T]) {
	c.mu.Lock()
	delete(c.subscribers, sub)
	c.mu.Unlock()
}

// AutoConnect returns a Source that behaves like c, except that Connect is
// invoked automatically as soon as the k-th subscriber arrives.
func AutoConnect[T any](c *Connectable[T], k int) reactor.Source[T] {
	var mu sync.Mutex
	count := 0
	return reactor.SourceFunc[T](func(consumer reactor.Consumer[T]) {
		c.Subscribe(consumer)
		mu.Lock()
		count++
		fire := count == k
		mu.Unlock()
		if fire {
			c.Connect()
		}
	})
}

// RefCount returns a Source that connects c when the k-th subscriber
// arrives and cancels the upstream subscription once the live subscriber
// count drops back below k.
func RefCount[T any](c *Connectable[T], k int) reactor.Source[T] {
	var mu sync.Mutex
	count := 0
	var cancelUpstream reactor.Cancellation

	return reactor.SourceFunc[T](func(consumer reactor.Consumer[T]) {
		tracked := reactor.NewRequestingConsumer[T](
			func(sub reactor.Subscription) {
				consumer.OnSubscribe(&refCountSub{
					inner: sub,
					onCancel: func() {
						mu.Lock()
						count--
						drop := count < k && cancelUpstream != nil
						var cancel reactor.Cancellation
						if drop {
							cancel = cancelUpstream
							cancelUpstream = nil
						}
						mu.Unlock()
						if cancel != nil {
							cancel()
						}
					},
				})
			},
			consumer.OnNext,
			consumer.OnError,
			consumer.OnComplete,
		)
		c.Subscribe(tracked)

		mu.Lock()
		count++
		fire := count == k
		mu.Unlock()
		if fire {
			cancel := c.Connect()
			mu.Lock()
			cancelUpstream = cancel
			mu.Unlock()
		}
	})
}

type refCountSub struct {
	inner    reactor.Subscription
	onCancel func()
}

func (s *refCountSub) Request(n int64) { s.inner.Request(n) }
func (s *refCountSub) Cancel() {
	s.inner.Cancel()
	s.onCancel()
}

// fanoutSub is one subscriber's private buffered view onto a Connectable's
// broadcast signals: each subscriber drains at its own pace, exactly like
// the buffered scaffold used throughout the operator package.
type fanoutSub[T any] struct {
	c          *Connectable[T]
	mu         sync.Mutex
	buf        *queue.Chunked[T]
	downstream reactor.Consumer[T]
	demand     reactor.DemandCounter
	stage      reactor.Stage
	draining   bool
	pendingEnd bool
	pendingErr error
}

func newFanoutSub[T any](c *Connectable[T], downstream reactor.Consumer[T]) *fanoutSub[T] {
	return &fanoutSub[T]{c: c, buf: queue.NewChunked[T](), downstream: downstream}
}

func (s *fanoutSub[T]) start() {
	s.stage.TryTransition(reactor.StageIdle, reactor.StageSubscribed)
	s.downstream.OnSubscribe(&fanoutSubscription[T]{s: s})
}

func (s *fanoutSub[T]) push(v T) {
	s.mu.Lock()
	if s.stage.Load() == reactor.StageCancelled {
		s.mu.Unlock()
		return
	}
	s.buf.Push(v)
	s.mu.Unlock()
	s.drain()
}

func (s *fanoutSub[T]) fail(err error) {
	s.mu.Lock()
	s.pendingErr = err
	s.pendingEnd = true
	s.mu.Unlock()
	s.drain()
}

func (s *fanoutSub[T]) complete() {
	s.mu.Lock()
	s.pendingEnd = true
	s.mu.Unlock()
	s.drain()
}

func (s *fanoutSub[T]) request(n int64) {
	if n <= 0 {
		s.downstream.OnError(&reactor.ProtocolViolation{Message: "Request called with non-positive n"})
		return
	}
	s.demand.Add(n)
	s.drain()
}

func (s *fanoutSub[T]) cancel() {
	if !s.stage.TryTransition(reactor.StageIdle, reactor.StageCancelled) &&
		!s.stage.TryTransition(reactor.StageSubscribed, reactor.StageCancelled) {
		return
	}
	s.c.removeSub(s)
}

func (s *fanoutSub[T]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		if s.stage.Load() == reactor.StageCancelled {
			s.draining = false
			s.mu.Unlock()
			return
		}
		if !s.demand.Take() {
			break
		}
		v, ok := s.buf.Pop()
		if !ok {
			s.demand.Add(1)
			break
		}
		s.mu.Unlock()
		s.downstream.OnNext(v)
		s.mu.Lock()
	}
	finish := s.pendingEnd && s.buf.Len() == 0
	err := s.pendingErr
	if finish {
		s.pendingEnd = false
	}
	s.draining = false
	s.mu.Unlock()

	if !finish {
		return
	}
	if !s.stage.TryTransition(reactor.StageSubscribed, reactor.StageTerminated) {
		return
	}
	s.c.removeSub(s)
	if err != nil {
		s.downstream.OnError(err)
		return
	}
	s.downstream.OnComplete()
}

type fanoutSubscription[T any] struct{ s *fanoutSub[T] }

func (f *fanoutSubscription[T]) Request(n int64) { f.s.request(n) }
func (f *fanoutSubscription[T]) Cancel()         { f.s.cancel() }
