package reactor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemandCounter_AddAndTake(t *testing.T) {
	var d DemandCounter
	assert.Equal(t, int64(0), d.Get())

	d.Add(3)
	assert.Equal(t, int64(3), d.Get())

	assert.True(t, d.Take())
	assert.Equal(t, int64(2), d.Get())
	assert.True(t, d.Take())
	assert.True(t, d.Take())
	assert.False(t, d.Take()) // exhausted
	assert.Equal(t, int64(0), d.Get())
}

func TestDemandCounter_SaturatesAtUnbounded(t *testing.T) {
	var d DemandCounter
	d.Add(Unbounded)
	assert.Equal(t, Unbounded, d.Get())

	d.Add(5) // further adds are a no-op once saturated
	assert.Equal(t, Unbounded, d.Get())

	// Unbounded demand is never decremented by Take
	assert.True(t, d.Take())
	assert.Equal(t, Unbounded, d.Get())
}

func TestDemandCounter_AddOverflowSaturates(t *testing.T) {
	var d DemandCounter
	d.Add(math.MaxInt64 - 1)
	d.Add(10) // would overflow a plain int64 add; must saturate instead
	assert.Equal(t, Unbounded, d.Get())
}

func TestNoopSubscription(t *testing.T) {
	sub := NoopSubscription()
	assert.NotPanics(t, func() {
		sub.Request(1)
		sub.Cancel()
		sub.Cancel()
	})
}
