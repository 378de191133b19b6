package pipeline

import "sync"

// commandQueue is the FIFO backing the serial processor.
//
// It is unbounded: an analytics call site must return immediately no matter
// how far behind the worker is, so producers append and never block.
// Arbitrary goroutines enqueue under the mutex; only the Run loop dequeues.
//
// A one-slot signal channel lets the Run loop select on queue activity and
// context cancellation at the same time instead of parking on the mutex.
type commandQueue struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	signal   chan struct{}
}

// newCommandQueue creates an empty command queue.
func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]Command, 0, 64), // room for a producer burst before the worker catches up
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a command. Safe from any goroutine; reports false once
// the queue has been closed.
func (q *commandQueue) Enqueue(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.commands = append(q.commands, c)

	// Wake the worker if it is parked. A full buffer means a wakeup is
	// already pending, so dropping the send is fine.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the oldest command, or reports false when nothing is
// queued. Never blocks.
func (q *commandQueue) TryDequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return Command{}, false
	}

	c := q.commands[0]

	// Clear the slot: the backing array is reused, and a stale Command
	// would pin its payload pointers until the array is reallocated.
	q.commands[0] = Command{}

	if len(q.commands) == 1 {
		// Drained. Reuse the backing array from the start.
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}

	return c, true
}

// Wait returns a channel that fires when commands may be available. Meant
// for a select alongside ctx.Done(); a wakeup is a hint, not a guarantee,
// so callers re-check with TryDequeue.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close marks the queue as accepting no further commands and closes the
// signal channel, which releases any parked waiter immediately.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
