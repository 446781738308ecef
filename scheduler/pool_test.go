package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor/rlog"
)

func TestPool_ScheduleRunsOnWorkerGoroutine(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	done := make(chan struct{})
	p.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled action never ran")
	}
}

func TestPool_ScheduleCancellationPreventsExecution(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	var ran bool
	var mu sync.Mutex
	cancel := p.Schedule(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	cancel()

	// give the worker a chance to have processed the (cancelled) action
	done := make(chan struct{})
	p.Schedule(func() { close(done) })
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran)
}

func TestPool_ScheduleDelayedWaitsApproximatelyTheRequestedDuration(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	start := time.Now()
	done := make(chan struct{})
	p.ScheduleDelayed(func() { close(done) }, 50*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed action never ran")
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPool_SchedulePeriodicallyFiresMultipleTimes(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	var count int
	var mu sync.Mutex
	done := make(chan struct{})
	cancel := p.SchedulePeriodically(func() {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	}, time.Millisecond, 5*time.Millisecond)
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic action did not fire enough times")
	}
}

func TestPool_ScheduleDelayedCancellationPreventsExecution(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	var ran bool
	var mu sync.Mutex
	cancel := p.ScheduleDelayed(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	}, 20*time.Millisecond)
	cancel()

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran)
}

func TestPool_ScheduleAfterStopIsANoOp(t *testing.T) {
	p := New("test")
	p.Run()
	p.Stop()

	var ran bool
	cancel := p.Schedule(func() { ran = true })
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}

func TestPool_StopIsIdempotentAndBlocksUntilWorkerExits(t *testing.T) {
	p := New("test")
	p.Run()
	p.Stop()
	require.NotPanics(t, func() { p.Stop() })
}

func TestPool_Name(t *testing.T) {
	p := New("my-pool")
	assert.Equal(t, "my-pool", p.Name())
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []rlog.Entry
}

func (r *recordingLogger) Log(e rlog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}
func (r *recordingLogger) IsEnabled(rlog.Level) bool { return true }

func (r *recordingLogger) snapshot() []rlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rlog.Entry(nil), r.entries...)
}

func TestPool_WithLoggerRecordsLifecycleEvents(t *testing.T) {
	logger := &recordingLogger{}
	p := New("diagnostic", WithLogger(logger))
	p.Run()
	p.Stop()

	entries := logger.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "pool started", entries[0].Message)
	assert.Equal(t, "pool stopped", entries[1].Message)
}

func TestPool_WithLoggerRecordsRecoveredPanic(t *testing.T) {
	logger := &recordingLogger{}
	p := New("diagnostic", WithLogger(logger))
	p.Run()
	defer p.Stop()

	done := make(chan struct{})
	p.Schedule(func() { panic("boom") })
	p.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stalled after a panicking action")
	}

	var sawPanic bool
	for _, e := range logger.snapshot() {
		if e.Level == rlog.Error {
			sawPanic = true
		}
	}
	assert.True(t, sawPanic)
}

func TestPool_ActiveTimersTracksScheduledTimers(t *testing.T) {
	p := New("test")
	p.Run()
	defer p.Stop()

	assert.Equal(t, 0, p.ActiveTimers())
	p.ScheduleDelayed(func() {}, time.Hour)
	assert.Equal(t, 1, p.ActiveTimers())
}
