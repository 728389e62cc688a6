package kitd

import "time"

// BackoffState tracks the delay applied before the next spawn. current
// starts at the configured initial interval, doubles on each restart,
// saturates at maximum, and resets to the initial interval whenever the
// most recently reaped run was at least cooloff in duration.
type BackoffState struct {
	initial  time.Duration
	maximum  time.Duration
	cooloff  time.Duration
	current  time.Duration
	deadline time.Time // zero when a child is running
}

// NewBackoffState seeds current at initial, per spec.md section 3.
func NewBackoffState(initial, cooloff, maximum time.Duration) *BackoffState {
	return &BackoffState{
		initial: initial,
		maximum: maximum,
		cooloff: cooloff,
		current: initial,
	}
}

// Current returns the delay that will be applied before the next spawn.
func (b *BackoffState) Current() time.Duration {
	return b.current
}

// Deadline returns the monotonic instant the next spawn should occur,
// and whether one is set at all (it is cleared at spawn time).
func (b *BackoffState) Deadline() (time.Time, bool) {
	return b.deadline, !b.deadline.IsZero()
}

// ClearDeadline is called at spawn time.
func (b *BackoffState) ClearDeadline() {
	b.deadline = time.Time{}
}

// Reschedule implements the state machine from spec.md section 4.5,
// invoked once per reap with the instant of the reap and the uptime of
// the run that just ended. It returns the delay that now applies before
// the next spawn (the pre-doubling value) so the caller can log it.
func (b *BackoffState) Reschedule(reapInstant time.Time, uptime time.Duration) time.Duration {
	if uptime >= b.cooloff {
		b.current = b.initial
	}
	delay := b.current
	b.deadline = reapInstant.Add(delay)

	next := b.current * 2
	if next > b.maximum {
		next = b.maximum
	}
	b.current = next

	return delay
}
