package rdp

import "time"

// unboundedRetries is used for timers whose retry/give-up decision is
// made by the firing handler itself rather than by the timer's own
// retry budget (the data retransmit timer, whose handler consults
// elapsed time against the dynamic data-retry deadline).
const unboundedRetries = 1 << 30

// timer is a single deadline-based timer embedded inline in its owner (a
// connection or a send slot), matching the teacher's composition style of
// embedding state directly in owning structs rather than allocating
// separate nodes (tcp/txqueue.go's ringidx, tcp/control.go's embedded
// logger). A timer with retry == 0 is cancelled/inactive; no separate
// list membership bit is needed since the dispatch loop discovers live
// timers by scanning the connection list and each connection's send
// slots rather than through a detachable linked node.
type timer struct {
	deadline time.Time
	delta    time.Duration
	retry    int
}

// active reports whether the timer is currently scheduled.
func (t *timer) active() bool { return t.retry > 0 }

// cancel deactivates the timer in place. Per the resolved open question on
// cancellation (see DESIGN.md), zeroing retry is the only cancellation
// mechanism; callers never remove a timer from a separate list because
// none exists.
func (t *timer) cancel() { t.retry = 0 }

// arm schedules the timer retry attempts out at interval delta starting
// from now, the first deadline at now+delta.
func (t *timer) arm(now time.Time, delta time.Duration, retries int) {
	t.delta = delta
	t.retry = retries
	t.deadline = now.Add(delta)
}

// fireNow forces the timer to expire on the next dispatch scan without
// disturbing its retry count, used by the EACK fast-retransmit path
// (§4.3) to trigger immediate retransmission.
func (t *timer) fireNow(now time.Time) {
	if t.active() {
		t.deadline = now
	}
}

// expired reports whether the timer is active and its deadline has
// passed as of now.
func (t *timer) expired(now time.Time) bool {
	return t.active() && !now.Before(t.deadline)
}

// rearm reschedules an already-armed timer for another delta from now,
// consuming one retry. It reports whether retries remain.
func (t *timer) rearm(now time.Time) bool {
	if t.retry <= 1 {
		t.cancel()
		return false
	}
	t.retry--
	t.deadline = now.Add(t.delta)
	return true
}

// remaining returns the duration until the timer fires, clamped to zero.
// Callers must check active() first; remaining of an inactive timer is
// meaningless.
func (t *timer) remaining(now time.Time) time.Duration {
	d := t.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
