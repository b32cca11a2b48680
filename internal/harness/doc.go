// Package harness runs compiled scenarios against a real engine.
//
// A scenario world is a set of named integer counters plus a bundle of
// named int signals. Each scenario task is spawned as an engine task on its
// start tick and records trace events as it makes progress. After the last
// tick the harness snapshots the counters and the tasks still pending, then
// checks them against the scenario's expect block.
//
// # Determinism
//
// Run drives the engine itself: tick k pushes host time k*delta and frame
// k, runs every fixed step the accumulated delta covers, then runs one main
// Tick. Combined with a stepping wall clock (testutil.ManualClock) the trace
// is byte-identical across runs, which is what the golden tests rely on.
//
// RunRealtime hands the same scenario to engine.Run and its ticker instead.
// The trace keeps the same shape but timing-dependent values may differ.
//
// # Trace events
//
// Every task records "start" when first polled and "done" or "failed" when
// it returns. In between, kinds record:
//
//	add         add      counter=value after each addition
//	wait_until  reached  counter=value
//	tween       tweened  (or stopped when stop_after fired)
//	sleep       woke     now=... or frame=...
//	emit        emit     signal=value per write
//	listen      heard    signal=value per fresh value
//	yield       yield    i/n per resumption
//	timeout     reached  counter=value, or timeout with the deadline
package harness
