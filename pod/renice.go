package pod

import (
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
)

// Renice changes t's base priority, propagating the new current
// priority to wherever t is waiting or queued, and to a mated shadow
// host task if t has one (spec §4.6 renice_thread). A thread currently
// boosted above its base by priority inheritance keeps its boosted
// CPrio unless the new base is more urgent than the boost itself.
func (p *Pod) Renice(t *thread.TCB, prio int) {
	t.BPrio = prio
	if !t.State.Has(thread.Boost) || p.readyq.MoreUrgent(prio, t.CPrio) {
		p.reniceCurrent(t, prio)
	}

	if t.HostTask != nil {
		t.HostTask.Reprioritize(prio)
	}
}

// reniceCurrent applies a current-priority change: a sleeping thread
// has its wait queue reordered, and a ready thread — the running one
// included — is moved within the ready queue.
func (p *Pod) reniceCurrent(t *thread.TCB, prio int) {
	t.CPrio = prio

	switch {
	case t.WaitChannel != nil:
		if wc, ok := t.WaitChannel.(*synch.Object); ok {
			wc.ReniceSleeper(t)
		}
	case t.State.Has(thread.Ready):
		// Covers the running thread too (it stays linked in the ready
		// queue at its own priority, spec §3): Requeue refreshes its
		// queue position, and only triggers an immediate reschedule
		// when t is not the one currently running.
		p.Requeue(t)
	}
}

// Boosted records a priority-inheritance boost for the pod's counter
// (satisfies synch.Scheduler, spec §11).
func (p *Pod) Boosted() { p.metrics.PriorityBoosts.Inc() }

// ReniceThread is the lock-acquiring entry point for Renice.
func (p *Pod) ReniceThread(t *thread.TCB, prio int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Renice(t, prio)
}
