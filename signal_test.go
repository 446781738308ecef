package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumer_RequestsUnbounded(t *testing.T) {
	var requested int64
	var values []int
	var completed bool

	c := NewConsumer[int](
		func(v int) { values = append(values, v) },
		func(error) {},
		func() { completed = true },
	)
	c.OnSubscribe(&recordingSubscription{requested: &requested})
	c.OnNext(1)
	c.OnNext(2)
	c.OnComplete()

	assert.Equal(t, Unbounded, requested)
	assert.Equal(t, []int{1, 2}, values)
	assert.True(t, completed)
}

func TestNewRequestingConsumer_DefersRequest(t *testing.T) {
	var gotSub Subscription
	var values []int

	c := NewRequestingConsumer[int](
		func(sub Subscription) { gotSub = sub },
		func(v int) { values = append(values, v) },
		func(error) {},
		func() {},
	)

	var requested int64
	sub := &recordingSubscription{requested: &requested}
	c.OnSubscribe(sub)
	require.Same(t, sub, gotSub)
	assert.Equal(t, int64(0), requested) // onSubscribe callback, not auto-Unbounded

	gotSub.Request(5)
	assert.Equal(t, int64(5), requested)

	c.OnNext(7)
	assert.Equal(t, []int{7}, values)
}

func TestConsumerFuncs_NilCallbacksAreNoops(t *testing.T) {
	c := NewConsumer[int](nil, nil, nil)
	assert.NotPanics(t, func() {
		c.OnSubscribe(NoopSubscription())
		c.OnNext(1)
		c.OnError(assert.AnError)
		c.OnComplete()
	})
}

func TestSourceFunc_Subscribe(t *testing.T) {
	var got int
	src := SourceFunc[int](func(consumer Consumer[int]) {
		consumer.OnSubscribe(NoopSubscription())
		consumer.OnNext(42)
		consumer.OnComplete()
	})
	src.Subscribe(NewConsumer[int](func(v int) { got = v }, nil, nil))
	assert.Equal(t, 42, got)
}

type recordingSubscription struct {
	requested *int64
}

func (r *recordingSubscription) Request(n int64) { *r.requested += n }
func (r *recordingSubscription) Cancel()         {}
