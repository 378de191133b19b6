// Package pipeline implements the serial command processor.
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// Producers on arbitrary goroutines enqueue typed commands and return
// immediately; one worker goroutine drains the queue in strict FIFO order
// and is the sole writer of the persistent store. This eliminates
// write-write races without explicit locking and guarantees a command's
// side effects are fully visible before the next command begins.
//
// Command Processing Flow:
//  1. Commands enqueued to unbounded FIFO queue (fire-and-forget)
//  2. Processor.Run() dequeues commands one at a time
//  3. Store reachability is verified; unreachable drops the command
//  4. handleCommand() dispatches via exhaustive switch on CommandKind
//  5. Handler mutates the store; failures are logged and the loop continues
//
// ERROR HANDLING: every handler catches its own failures. A bad command
// never halts the queue and never surfaces synchronously to producers -
// failures are observable only via logs or downstream absence of data.
// Dropped-on-unreachable is a deliberate at-most-once policy: durability
// comes from what was already persisted, not from retries.
package pipeline
