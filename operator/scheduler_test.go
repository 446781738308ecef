package operator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor"
	"github.com/joeycumines/reactor/schedulertest"
)

func TestSubscribeOn_MovesSubscribeCallOntoExecutor(t *testing.T) {
	v := schedulertest.NewVirtual(time.Time{})
	var subscribed bool
	src := reactor.SourceFunc[int](func(downstream reactor.Consumer[int]) {
		subscribed = true
		downstream.OnSubscribe(reactor.NoopSubscription())
		downstream.OnNext(1)
		downstream.OnComplete()
	})

	var values []int
	var completed bool
	SubscribeOn(src, v).Subscribe(reactor.NewConsumer[int](
		func(n int) { values = append(values, n) },
		func(error) {},
		func() { completed = true },
	))

	assert.False(t, subscribed)
	v.RunPending()
	assert.True(t, subscribed)
	assert.Equal(t, []int{1}, values)
	assert.True(t, completed)
}

func TestPublishOn_RedispatchesValuesAndCompleteOntoExecutor(t *testing.T) {
	v := schedulertest.NewVirtual(time.Time{})
	var values []int
	var completed bool
	PublishOn(reactor.FromSlice([]int{1, 2, 3}), v, 0).Subscribe(reactor.NewConsumer[int](
		func(n int) { values = append(values, n) },
		func(error) {},
		func() { completed = true },
	))

	assert.Empty(t, values)
	assert.False(t, completed)

	v.RunPending()
	assert.Equal(t, []int{1, 2, 3}, values)
	assert.True(t, completed)
}

func TestPublishOn_RedispatchesError(t *testing.T) {
	v := schedulertest.NewVirtual(time.Time{})
	boom := assert.AnError
	var gotErr error
	PublishOn(reactor.Fail[int](boom), v, 0).Subscribe(reactor.NewConsumer[int](
		func(int) {},
		func(err error) { gotErr = err },
		func() {},
	))

	v.RunPending()
	assert.Same(t, boom, gotErr)
}

func TestPublishOn_PrefetchBoundsInFlightUpstreamDemand(t *testing.T) {
	v := schedulertest.NewVirtual(time.Time{})
	var requested []int64
	src := reactor.SourceFunc[int](func(downstream reactor.Consumer[int]) {
		downstream.OnSubscribe(trackingSubscription{onRequest: func(n int64) { requested = append(requested, n) }})
	})

	PublishOn(src, v, 2).Subscribe(reactor.NewConsumer[int](
		func(int) {},
		func(error) {},
		func() {},
	))

	require.Len(t, requested, 1)
	assert.Equal(t, int64(2), requested[0])
}

type trackingSubscription struct {
	onRequest func(int64)
}

func (s trackingSubscription) Request(n int64) { s.onRequest(n) }
func (s trackingSubscription) Cancel()         {}
