package reactor

// FusionMode describes how a producer and consumer have agreed to exchange
// values once negotiation completes. See Fusable for the negotiation
// protocol.
type FusionMode int

const (
	// FusionNone means no fusion: the Signal protocol's push-based
	// OnNext/Request relay is used as normal.
	FusionNone FusionMode = iota
	// FusionSync means the producer has a value ready synchronously: the
	// consumer may call Poll in a tight pull loop instead of waiting for
	// OnNext callbacks. Used to compile chains of Map/Filter over a
	// synchronous source (e.g. a slice or Just) into a single loop with no
	// signalling overhead.
	FusionSync
	// FusionAsync means the producer and consumer share a Queue: the
	// producer pushes into the queue and signals readiness, the consumer
	// drains it on its own schedule (typically after a publishOn boundary).
	FusionAsync
)

// Fusable is implemented by the Subscriptions of sources capable of
// negotiating a fusion mode with a downstream operator at Subscribe time,
// bypassing the ordinary push-based Signal protocol for the negotiated
// mode. Operators query for this interface with a type assertion on the
// Subscription they receive in OnSubscribe; subscriptions that don't
// implement it are treated as FusionNone.
type Fusable[T any] interface {
	// RequestFusion offers the producer the single mode the consumer
	// wants and returns the mode actually granted,
	// which may be FusionNone if the producer declines (for example, a
	// source with side effects per OnNext that would be broken by pull
	// semantics refuses SYNC).
	RequestFusion(requested FusionMode) FusionMode
	// Poll retrieves the next value for FusionSync mode. ok is false when
	// no value is currently available (for SYNC fusion, this only happens
	// at end of stream; callers distinguish that case from consulting the
	// terminal state out of band, typically via the subsequent OnComplete
	// delivered through the ordinary protocol).
	Poll() (value T, ok bool)
	// IsEmpty reports whether Poll would currently return ok=false, without
	// consuming a value.
	IsEmpty() bool
	// Size reports the number of values currently available without
	// consuming any; for a producer composed with a filtering stage this is
	// an upper bound rather than an exact count.
	Size() int
	// Clear discards every value currently available without delivering
	// them, used by a downstream that is switching away from fusion (for
	// example after a cancel) and needs the producer's queue emptied.
	Clear()
}
