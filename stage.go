package reactor

import "sync/atomic"

// StageState is the lifecycle tag of a single subscription: a stage starts
// Idle, moves to Subscribed once a Consumer has received its Subscription,
// and ends in either Terminated (carrying an optional error cause) or
// Cancelled. Terminated and Cancelled are both final; no further signals
// may be delivered once either is observed.
type StageState uint32

const (
	// StageIdle is the state of a stage before Subscribe has completed the
	// handshake (before onSubscribe has been delivered to the consumer).
	StageIdle StageState = 0
	// StageSubscribed is the state of a stage actively exchanging demand and
	// signals with its consumer.
	StageSubscribed StageState = 1
	// StageTerminated is the state after a Complete or Error signal has been
	// delivered. Terminal.
	StageTerminated StageState = 2
	// StageCancelled is the state after Subscription.Cancel has been called.
	// Terminal.
	StageCancelled StageState = 3
)

// String returns a human-readable representation of the state.
func (s StageState) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageSubscribed:
		return "Subscribed"
	case StageTerminated:
		return "Terminated"
	case StageCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Stage is a lock-free lifecycle state holder shared by every operator
// implementation in this module. It is intentionally minimal: operators
// layer their own demand counters and drain-loop WIP fields alongside it,
// but every one of them gates emission and termination through Stage so
// that "never emit after terminal" holds regardless of which goroutine
// wins the race to terminate.
type Stage struct {
	v     atomic.Uint32
	cause atomic.Pointer[error]
}

// NewStage creates a Stage in the Idle state.
func NewStage() *Stage {
	return &Stage{}
}

// Load returns the current state.
func (s *Stage) Load() StageState {
	return StageState(s.v.Load())
}

// TryTransition attempts an atomic CAS from "from" to "to", returning true
// on success. Callers use this to decide, in a race between concurrent
// Cancel/terminal-signal calls, which one "wins" and is responsible for
// performing the associated side effects (releasing resources, notifying
// the consumer) exactly once.
func (s *Stage) TryTransition(from, to StageState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TerminateWithError atomically transitions from Subscribed to Terminated,
// recording cause for later retrieval via Cause. Returns false if the stage
// was already terminal (Terminated or Cancelled) or never subscribed.
func (s *Stage) TerminateWithError(cause error) bool {
	if !s.TryTransition(StageSubscribed, StageTerminated) {
		return false
	}
	if cause != nil {
		s.cause.Store(&cause)
	}
	return true
}

// Cause returns the error recorded by TerminateWithError, or nil if the
// stage completed successfully, was cancelled, or has not terminated.
func (s *Stage) Cause() error {
	p := s.cause.Load()
	if p == nil {
		return nil
	}
	return *p
}

// IsTerminal reports whether the stage is in a final state (Terminated or
// Cancelled); no further signals may legally be delivered.
func (s *Stage) IsTerminal() bool {
	switch s.Load() {
	case StageTerminated, StageCancelled:
		return true
	default:
		return false
	}
}
