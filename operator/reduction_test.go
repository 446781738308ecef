package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor"
)

func TestScan_EmitsRunningAccumulation(t *testing.T) {
	values, err, completed := collect(Scan(reactor.FromSlice([]int{1, 2, 3}), 0, func(acc, v int) int { return acc + v }))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{1, 3, 6}, values)
}

func TestReduce_ResolvesWithFinalAccumulation(t *testing.T) {
	v, err := Reduce(reactor.FromSlice([]int{1, 2, 3, 4}), 0, func(acc, v int) int { return acc + v }).Wait()
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestCount(t *testing.T) {
	v, err := Count(reactor.FromSlice([]string{"a", "b", "c"})).Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestAll_TrueWhenEveryValueMatches(t *testing.T) {
	v, err := All(reactor.FromSlice([]int{2, 4, 6}), func(n int) bool { return n%2 == 0 }).Wait()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestAll_FalseOnEmptyIsActuallyTrue(t *testing.T) {
	v, err := All(reactor.Empty[int](), func(int) bool { return false }).Wait()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestAll_ShortCircuitsOnFirstMismatch(t *testing.T) {
	v, err := All(reactor.FromSlice([]int{2, 3, 4}), func(n int) bool { return n%2 == 0 }).Wait()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestAny_TrueOnFirstMatch(t *testing.T) {
	v, err := Any(reactor.FromSlice([]int{1, 3, 4}), func(n int) bool { return n%2 == 0 }).Wait()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestAny_FalseWhenNoneMatch(t *testing.T) {
	v, err := Any(reactor.FromSlice([]int{1, 3, 5}), func(n int) bool { return n%2 == 0 }).Wait()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestElementAt_InRange(t *testing.T) {
	v, err := ElementAt(reactor.FromSlice([]string{"a", "b", "c"}), 1).Wait()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestElementAt_OutOfRange(t *testing.T) {
	_, err := ElementAt(reactor.FromSlice([]string{"a"}), 5).Wait()
	require.Error(t, err)
	var pv *reactor.ProtocolViolation
	assert.ErrorAs(t, err, &pv)
}

func TestSingle_ExactlyOneValue(t *testing.T) {
	v, err := Single(reactor.Just(42)).Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSingle_ZeroValuesErrors(t *testing.T) {
	_, err := Single(reactor.Empty[int]()).Wait()
	require.Error(t, err)
}

func TestSingle_MoreThanOneValueErrors(t *testing.T) {
	_, err := Single(reactor.FromSlice([]int{1, 2})).Wait()
	require.Error(t, err)
}

func TestLast_ResolvesWithFinalValue(t *testing.T) {
	v, err := Last(reactor.FromSlice([]int{1, 2, 3})).Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestLast_EmptyErrors(t *testing.T) {
	_, err := Last(reactor.Empty[int]()).Wait()
	require.Error(t, err)
}

func TestToList(t *testing.T) {
	v, err := ToList(reactor.FromSlice([]int{1, 2, 3})).Wait()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestToMap_LaterValueOverwrites(t *testing.T) {
	type pair struct {
		key int
		val string
	}
	src := reactor.FromSlice([]pair{{1, "a"}, {2, "b"}, {1, "c"}})
	v, err := ToMap(src, func(p pair) int { return p.key }).Wait()
	require.NoError(t, err)
	assert.Equal(t, map[int]pair{1: {1, "c"}, 2: {2, "b"}}, v)
}

func TestToMultimap_PreservesArrivalOrderPerKey(t *testing.T) {
	v, err := ToMultimap(reactor.FromSlice([]int{1, 2, 3, 4, 5, 6}), func(n int) bool { return n%2 == 0 }).Wait()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, v[false])
	assert.Equal(t, []int{2, 4, 6}, v[true])
}

func TestToSortedList_SortsAscendingByKey(t *testing.T) {
	type record struct {
		name string
		age  int
	}
	src := reactor.FromSlice([]record{{"carol", 40}, {"alice", 20}, {"bob", 30}})
	v, err := ToSortedList(src, func(r record) int { return r.age }).Wait()
	require.NoError(t, err)
	require.Len(t, v, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{v[0].name, v[1].name, v[2].name})
}

func TestToSortedList_DoesNotMutateOriginalList(t *testing.T) {
	src := reactor.FromSlice([]int{3, 1, 2})
	original, err := ToList(src).Wait()
	require.NoError(t, err)

	sorted, err := ToSortedList(reactor.FromSlice([]int{3, 1, 2}), func(n int) int { return n }).Wait()
	require.NoError(t, err)

	assert.Equal(t, []int{3, 1, 2}, original)
	assert.Equal(t, []int{1, 2, 3}, sorted)
}

func TestReduce_PropagatesUpstreamError(t *testing.T) {
	boom := assert.AnError
	_, err := Reduce(reactor.Fail[int](boom), 0, func(acc, v int) int { return acc + v }).Wait()
	assert.Same(t, boom, err)
}

func TestSubscribeUnbounded_FusesOverSyncSource(t *testing.T) {
	// Count (via Reduce, via subscribeUnbounded) over a FromSlice source
	// should negotiate FusionSync and pull to exhaustion without relying on
	// the push-based Request/OnNext path at all.
	v, err := Count(reactor.FromSlice([]int{1, 2, 3, 4, 5})).Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}
