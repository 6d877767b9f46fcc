// Package beat implements a fixed-capacity, tick-driven periodic hook scheduler.
//
// A Scheduler owns a small arena of hook slots. Every tick of its TickSource
// decrements the countdown of each enabled hook; a hook whose countdown reaches
// zero is dispatched either directly from the tick handler (tick-context hooks)
// or from the next Exec call made by the host main loop.
//
// Concurrency model:
//   - Tick holds the scheduler gate for its whole run. Holding the gate
//     (Critical) is the hosted equivalent of masking the timer interrupt.
//   - Multi-field updates (Register, Unregister, SetPeriod, pump bookkeeping)
//     run inside the gate.
//   - Single-flag updates and reads are atomic and may be called from any
//     callback, including tick-context ones. Gated operations must not be
//     called from a tick-context callback.
package beat
