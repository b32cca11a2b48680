// Package engine implements the driver tick that bridges direct-style tasks
// and a host that exposes its mutable store once per tick.
//
// The engine owns the deferred queue, the executor, the time index and the
// fixed-step routine registry for one store type S. The host calls Tick at
// its main update point and FixedTick at its fixed-step point, pushing the
// current time and frame with SetNow and SetFrame beforehand.
//
// ARCHITECTURE:
//
// Single-Writer Tick:
// The store is touched only inside Tick and FixedTick, on the caller's
// goroutine. Tasks never hold the store; they hand closures to the queue and
// suspend until the tick runs them. This ensures:
// - No aliasing between suspended tasks and store mutation
// - Mutations linearized by submission order
// - Reproducible runs given the same time/frame inputs
//
// Tick Order:
// 0. Read phase: queued read-only closures fan out on worker goroutines and
// are fully joined before anything mutates
// 1. Once queue drained in submission order
// 2. Repeat queue retain-filtered (watches)
// 3. Due timers fired, yielded tasks rescheduled, pending wakes collected
// 4. Executor run until stalled
//
// Step 4 polls tasks spawned or woken during the same step, so a chain of
// immediately-ready continuations costs one tick, not one per link.
//
// CRITICAL PATTERNS:
//
// Explicit Task Context:
// Tasks receive a *Ctx[S] and pass it to every engine call. There is no
// ambient "current engine"; a Ctx must not be used outside its task.
//
// Cooperative Cancellation:
// Tokens and dropped handles are observed at the next poll. Nothing is
// interrupted mid-closure and side effects already queued are not retracted.
package engine
