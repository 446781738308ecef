package operator

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor"
)

func TestMerge_CombinesAllSourcesAndCompletes(t *testing.T) {
	values, err, completed := collect(Merge(
		0, false,
		reactor.FromSlice([]int{1, 2}),
		reactor.FromSlice([]int{10, 20}),
	))
	require.NoError(t, err)
	assert.True(t, completed)
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 10, 20}, values)
}

func TestMerge_NoSourcesCompletesImmediately(t *testing.T) {
	values, err, completed := collect(Merge[int](0, false))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Empty(t, values)
}

func TestMerge_AnyErrorFailsTheWhole(t *testing.T) {
	boom := assert.AnError
	_, err, completed := collect(Merge(0, false, reactor.FromSlice([]int{1}), reactor.Fail[int](boom)))
	assert.Same(t, boom, err)
	assert.False(t, completed)
}

func TestMerge_DelayErrorCollectsEveryCauseAfterAllSourcesFinish(t *testing.T) {
	boom1 := assert.AnError
	boom2 := assert.AnError
	values, err, completed := collect(Merge(0, true,
		reactor.FromSlice([]int{1, 2}),
		reactor.Fail[int](boom1),
		reactor.Fail[int](boom2),
	))
	assert.False(t, completed)
	require.Error(t, err)
	var composite *reactor.CompositeError
	require.ErrorAs(t, err, &composite)
	assert.Len(t, composite.Errors, 2)
	sort.Ints(values)
	assert.Equal(t, []int{1, 2}, values)
}

func TestMerge_ConcurrencyBoundQueuesRemainingSources(t *testing.T) {
	var started []int
	makeSource := func(i int) reactor.Source[int] {
		return reactor.SourceFunc[int](func(c reactor.Consumer[int]) {
			started = append(started, i)
			reactor.FromSlice([]int{i}).Subscribe(c)
		})
	}
	values, err, completed := collect(Merge(1, false, makeSource(1), makeSource(2), makeSource(3)))
	require.NoError(t, err)
	assert.True(t, completed)
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)
	// with concurrency 1 and every source synchronous, each must fully
	// finish before the next is even subscribed to.
	assert.Equal(t, []int{1, 2, 3}, started)
}

func TestFlatMap_MergesInnerSourcesFromEachOuterValue(t *testing.T) {
	values, err, completed := collect(FlatMap(reactor.FromSlice([]int{1, 2}), func(v int) reactor.Source[int] {
		return reactor.FromSlice([]int{v, v * 10})
	}, 0, 0, false))
	require.NoError(t, err)
	assert.True(t, completed)
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 10, 20}, values)
}

func TestFlatMap_ConcurrencyBoundDelaysThirdInnerUntilOneCompletes(t *testing.T) {
	var started []int
	mk := func(v int) reactor.Source[int] {
		return reactor.SourceFunc[int](func(c reactor.Consumer[int]) {
			started = append(started, v)
			reactor.Just(v).Subscribe(c)
		})
	}
	values, err, completed := collect(FlatMap(reactor.FromSlice([]int{1, 2, 3}), mk, 2, 0, false))
	require.NoError(t, err)
	assert.True(t, completed)
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)
	assert.Equal(t, []int{1, 2, 3}, started)
}

func TestCombineLatest_EmitsOnceAllSourcesHaveAValue(t *testing.T) {
	values, err, completed := collect(CombineLatest(
		func(vs []int) int { return vs[0] + vs[1] },
		reactor.Just(1),
		reactor.FromSlice([]int{10, 20}),
	))
	require.NoError(t, err)
	assert.True(t, completed)
	// source 0 only ever has one value (1); source 1 contributes 10 then 20,
	// producing a combined emission each time it changes once both are ready.
	assert.Equal(t, []int{11, 21}, values)
}

func TestCombineLatest_NoSourcesCompletesImmediately(t *testing.T) {
	values, err, completed := collect(CombineLatest(func(vs []int) int { return 0 }))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Empty(t, values)
}

func TestZip_PairsValuesByIndex(t *testing.T) {
	values, err, completed := collect(Zip(
		func(vs []int) int { return vs[0] + vs[1] },
		reactor.FromSlice([]int{1, 2, 3}),
		reactor.FromSlice([]int{10, 20}),
	))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{11, 22}, values)
}

func TestWithLatestFrom_DropsValuesBeforeOtherEmits(t *testing.T) {
	// other is a slice source, fully drained (synchronously, via Unbounded
	// demand) before src is even subscribed, so every src value sees it.
	values, err, completed := collect(WithLatestFrom(
		reactor.FromSlice([]int{1, 2, 3}),
		reactor.Just(100),
		func(a, b int) int { return a + b },
	))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{101, 102, 103}, values)
}

func TestWithLatestFrom_OtherCompletingDoesNotEndStream(t *testing.T) {
	values, err, completed := collect(WithLatestFrom(
		reactor.FromSlice([]int{1, 2}),
		reactor.Empty[int](),
		func(a, b int) int { return a + b },
	))
	require.NoError(t, err)
	assert.True(t, completed)
	// other never emitted, so every src value is dropped, but src itself
	// still drives completion.
	assert.Empty(t, values)
}
