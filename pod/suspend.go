package pod

import (
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

// Suspend blocks t for the given reason bits, optionally arming its
// delay timer and optionally recording a wait channel (spec §4.6
// suspend_thread). Assigning WaitChannel here, rather than letting the
// caller pre-set it, is what lets this method detect a conjunctive
// wait attempt: a thread already waiting on one channel must never be
// handed a second.
func (p *Pod) Suspend(t *thread.TCB, reason thread.State, timeout uint64, wchan thread.WaitChannel) {
	if t.WaitChannel != nil && wchan != nil {
		p.Fatal("thread already pending on a wait channel")
		return
	}
	if wchan != nil {
		t.WaitChannel = wchan
	}

	wasRunnable := t.State.Runnable()
	// A fresh suspension invalidates whatever classification the last
	// wakeup left behind (spec §4.6: "clear last-unblock reason bits,
	// set the new bits").
	t.State &^= thread.Rmid | thread.Timeo | thread.Break
	t.State |= reason

	if wasRunnable {
		p.readyq.Remove(t.Link())
		t.State &^= thread.Ready
	}
	// Threads blocked on anything beyond a bare delay are kept
	// enumerable on the suspend queue (spec §3) — unless they pend on a
	// wait channel, in which case the shared holder lives on that
	// object's wait queue instead (a TCB is in at most one of the
	// three).
	if wchan == nil && reason&(thread.Susp|thread.Dormant|thread.Relax) != 0 {
		p.suspendq.InsertFIFO(t.Link(), t.CPrio)
	}
	// A finite timeout always arms the delay timer and sets DELAY,
	// independent of which blocking bit the caller asked for (spec
	// §4.6 suspend_thread: "if timeout finite, arm the thread's delay
	// timer ... set DELAY"). This is what lets PEND+DELAY coexist for
	// a timed sleep_on without synch ever touching the Delay bit itself.
	if timeout != timerwheel.Infinite {
		t.State |= thread.Delay
		dt := t.DelayTimer.(*delayTimer)
		dt.w.Start(dt.t, timeout, 0)
	}

	if t == p.current {
		p.Schedule()
	}
}

// Resume clears reason from t's state and, if the thread has become
// runnable, re-inserts it into the ready queue (spec §4.6
// resume_thread).
func (p *Pod) Resume(t *thread.TCB, reason thread.State) {
	if reason == 0 {
		return
	}
	wasRunnable := t.State.Runnable()
	t.State &^= reason

	if reason&thread.Delay != 0 {
		if dt, ok := t.DelayTimer.(*delayTimer); ok {
			dt.w.Stop(dt.t)
		}
		// Only the delay ended but the thread still pends on its wait
		// channel: the composite PEND+DELAY case of a timed sleep_on
		// whose timeout fired. Pull it off the object's pend queue and
		// undo any boost it was dictating (spec §4.6 resume). Unblock
		// takes this same branch for a forced break.
		if reason&thread.Pend == 0 && t.State.Has(thread.Pend) {
			synch.ForgetSleeper(t)
		}
	}

	if !wasRunnable && t.State.Runnable() {
		p.readyq.InsertFIFO(t.Link(), t.CPrio)
		t.State |= thread.Ready
		if t != p.current {
			p.Schedule()
		}
	}
}

// Unblock forces t out of an interruptible wait (PEND, DELAY or both)
// and marks it BREAK so the waiting primitive reports an abnormal
// return, without transferring ownership of whatever it was waiting
// on (spec §4.6 unblock_thread).
func (p *Pod) Unblock(t *thread.TCB) {
	if !t.State.Any(thread.Pend | thread.Delay) {
		return
	}
	t.State |= thread.Break
	// Resume with DELAY alone: it records that t was blocked, and its
	// PEND-still-set branch pulls t off the object's wait queue via
	// synch.ForgetSleeper, so t is requeued as ready once nothing else
	// blocks it.
	p.Resume(t, thread.Delay)
}

// IsCurrent reports whether t is the thread presently selected to run
// (satisfies synch.Scheduler).
func (p *Pod) IsCurrent(t *thread.TCB) bool { return t == p.current }

// Requeue repositions an already-ready t within the ready queue at its
// current CPrio, used when a priority change lands on a ready thread,
// the running one included (it stays linked in the ready queue); it
// reschedules only when t is not the current thread (satisfies
// synch.Scheduler).
func (p *Pod) Requeue(t *thread.TCB) {
	p.readyq.InsertFIFO(t.Link(), t.CPrio)
	if t != p.current {
		p.Schedule()
	}
}

// Dreord reports the pod-wide "don't reorder pend queues on priority
// change" policy (spec §4.5, original_source XNDREORD; satisfies
// synch.Scheduler).
func (p *Pod) Dreord() bool { return p.cfg.Dreord }

// SuspendThread/ResumeThread/UnblockThread are the lock-acquiring
// entry points for callers outside the pod that do not already hold
// the pod lock.
func (p *Pod) SuspendThread(t *thread.TCB, reason thread.State, timeout uint64, wchan thread.WaitChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Suspend(t, reason, timeout, wchan)
}

func (p *Pod) ResumeThread(t *thread.TCB, reason thread.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Resume(t, reason)
}

func (p *Pod) UnblockThread(t *thread.TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unblock(t)
}
