package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor"
)

func TestDistinct_SuppressesAnyRepeatedValue(t *testing.T) {
	values, err, completed := collect(Distinct(reactor.FromSlice([]int{1, 2, 1, 3, 2, 1})))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{1, 2, 3}, values)
}

func TestDistinctBy_DedupesByComputedKey(t *testing.T) {
	values, err, completed := collect(DistinctBy(reactor.FromSlice([]string{"a", "bb", "c", "dd"}), func(s string) int { return len(s) }))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []string{"a", "bb"}, values)
}

func TestDistinctUntilChanged_OnlySuppressesConsecutiveDuplicates(t *testing.T) {
	values, err, completed := collect(DistinctUntilChanged(reactor.FromSlice([]int{1, 1, 2, 2, 1, 1})))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{1, 2, 1}, values)
}

func TestDistinctUntilChangedBy_UsesCustomEquality(t *testing.T) {
	values, err, completed := collect(DistinctUntilChangedBy(reactor.FromSlice([]int{1, 3, 4, 2, 5}), func(a, b int) bool {
		return a%2 == b%2 // parity based
	}))
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []int{1, 4, 5}, values)
}
