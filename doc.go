// Package reactor implements a reactive dataflow runtime: a backpressure-aware
// subscription protocol, an algebra of stream operators built on top of it,
// and a scheduler bridge for moving work between execution contexts.
//
// # Architecture
//
// A [Source] produces a sequence of values to a [Consumer] under the
// subscription handshake described by [Subscription]: the consumer must call
// Request to signal demand before the source may emit, and may call Cancel
// at any time to stop emission. Operators in the operator subpackage compose
// sources into new sources without breaking this protocol.
//
// Single-valued results (Reduce, Count, ToList, and friends) are delivered
// via [Mono], a settle-once asynchronous value comparable to a Promise/A+
// implementation, but typed and scoped to exactly one signal.
//
// The runtime does not own any goroutines of its own: it is driven by an
// [Executor] and a [DelayedExecutor] supplied by the caller. The scheduler
// subpackage ships a concrete, production-ready implementation of both
// ([scheduler.Pool]), and schedulertest ships a deterministic test double.
//
// # Thread Safety
//
// Source, Subscription and Mono implementations are safe for concurrent use
// by multiple goroutines unless their documentation says otherwise. Operators
// use a CAS-based drain loop (see the operator subpackage) rather than a
// mutex held across user callbacks, so a Consumer may re-enter Request or
// Cancel from within a Next/Error/Complete callback without deadlocking.
//
// # Usage
//
//	src := reactor.Create(func(e reactor.Emitter[int]) {
//	    for i := 0; i < 5; i++ {
//	        e.Next(i)
//	    }
//	    e.Complete()
//	})
//
//	mapped := operator.Map(src, func(v int) int { return v * 2 })
//	mapped.Subscribe(reactor.NewConsumer(
//	    func(v int) { fmt.Println(v) },
//	    func(err error) { fmt.Println("error:", err) },
//	    func() { fmt.Println("done") },
//	))
//
// # Error Types
//
// The package provides a small error taxonomy for protocol and runtime
// failures: [ProtocolViolation], [UserError], [OverflowError],
// [TimeoutError], and [CompositeError]. All implement [error], support
// [errors.Unwrap], and are matchable with [errors.Is] and [errors.As].
package reactor
