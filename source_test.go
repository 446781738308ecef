package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJust_EmitsSingleValueThenCompletes(t *testing.T) {
	var values []int
	var completed bool
	Just(7).Subscribe(NewConsumer[int](
		func(v int) { values = append(values, v) },
		func(error) { t.Fatal("unexpected error") },
		func() { completed = true },
	))
	assert.Equal(t, []int{7}, values)
	assert.True(t, completed)
}

func TestEmpty_CompletesImmediately(t *testing.T) {
	var sawValue, completed bool
	Empty[string]().Subscribe(NewConsumer[string](
		func(string) { sawValue = true },
		func(error) {},
		func() { completed = true },
	))
	assert.False(t, sawValue)
	assert.True(t, completed)
}

func TestRange_EmitsConsecutiveValues(t *testing.T) {
	var values []int64
	Range(10, 4).Subscribe(NewConsumer[int64](
		func(v int64) { values = append(values, v) },
		func(error) {},
		func() {},
	))
	assert.Equal(t, []int64{10, 11, 12, 13}, values)
}

func TestFromSlice_ReplaysIndependentlyPerSubscriber(t *testing.T) {
	src := FromSlice([]string{"a", "b", "c"})

	var first, second []string
	src.Subscribe(NewConsumer[string](func(v string) { first = append(first, v) }, nil, nil))
	src.Subscribe(NewConsumer[string](func(v string) { second = append(second, v) }, nil, nil))

	assert.Equal(t, []string{"a", "b", "c"}, first)
	assert.Equal(t, []string{"a", "b", "c"}, second)
}

func TestFail_DeliversErrorWithoutValue(t *testing.T) {
	boom := assert.AnError
	var gotErr error
	var sawValue bool
	Fail[int](boom).Subscribe(NewConsumer[int](
		func(int) { sawValue = true },
		func(err error) { gotErr = err },
		func() { t.Fatal("unexpected complete") },
	))
	assert.False(t, sawValue)
	assert.Same(t, boom, gotErr)
}

func TestSliceSource_RespectsDemand(t *testing.T) {
	src := FromSlice([]int{1, 2, 3})
	var values []int
	var completed bool
	var sub Subscription
	src.Subscribe(NewRequestingConsumer[int](
		func(s Subscription) { sub = s },
		func(v int) { values = append(values, v) },
		func(error) {},
		func() { completed = true },
	))

	require.NotNil(t, sub)
	assert.Empty(t, values) // nothing requested yet

	sub.Request(1)
	assert.Equal(t, []int{1}, values)
	assert.False(t, completed)

	sub.Request(2)
	assert.Equal(t, []int{1, 2, 3}, values)
	assert.True(t, completed)
}

func TestSliceSource_CancelStopsDelivery(t *testing.T) {
	src := FromSlice([]int{1, 2, 3})
	var values []int
	var sub Subscription
	src.Subscribe(NewRequestingConsumer[int](
		func(s Subscription) { sub = s },
		func(v int) { values = append(values, v) },
		func(error) {},
		func() {},
	))
	sub.Request(1)
	sub.Cancel()
	sub.Request(10) // must be a no-op post-cancellation
	assert.Equal(t, []int{1}, values)
}

func TestSliceSource_NegativeRequestIsProtocolViolation(t *testing.T) {
	src := Just(1)
	var gotErr error
	var sub Subscription
	src.Subscribe(NewRequestingConsumer[int](
		func(s Subscription) { sub = s },
		func(int) {},
		func(err error) { gotErr = err },
		func() {},
	))
	sub.Request(-1)
	require.Error(t, gotErr)
	var pv *ProtocolViolation
	assert.ErrorAs(t, gotErr, &pv)
}

func TestSliceSource_Fusable(t *testing.T) {
	src := FromSlice([]int{1, 2, 3})
	var fusable Fusable[int]
	src.Subscribe(NewRequestingConsumer[int](
		func(s Subscription) {
			f, ok := s.(Fusable[int])
			require.True(t, ok)
			fusable = f
			mode := f.RequestFusion(FusionSync)
			assert.Equal(t, FusionSync, mode)
		},
		func(int) { t.Fatal("fused subscriber should Poll, not receive OnNext") },
		func(error) {},
		func() {},
	))

	require.NotNil(t, fusable)
	assert.False(t, fusable.IsEmpty())

	var got []int
	for {
		v, ok := fusable.Poll()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.True(t, fusable.IsEmpty())
}

func TestSliceSource_FusionAsyncDeclined(t *testing.T) {
	src := Just(1)
	src.Subscribe(NewRequestingConsumer[int](
		func(s Subscription) {
			f := s.(Fusable[int])
			assert.Equal(t, FusionNone, f.RequestFusion(FusionAsync))
		},
		func(int) {},
		func(error) {},
		func() {},
	))
}
