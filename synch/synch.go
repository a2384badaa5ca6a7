// Package synch implements the nanokernel's synchronization object
// (spec §4.5): a wait queue plus the priority inheritance protocol
// (PIP), directly grounded on original_source's
// rtai-core/sched/xenomai/synch.c (xnsynch_init/sleep_on/
// wakeup_one_sleeper/wakeup_this_sleeper/flush/forget_sleeper/
// release_all_ownerships) and rtai-core/include/xenomai/synch.h.
//
// synch depends on thread and prioq only; it never imports pod.
// Instead it drives scheduling decisions (suspend/resume, and the
// running-vs-ready-vs-sleeping branch inside a priority boost) through
// the Scheduler interface, implemented by *pod.Pod — the same
// separation xnsynch_renice_thread keeps in the original by calling
// out to xnpod_suspend_thread/xnpod_resume_thread rather than owning
// ready-queue internals itself.
package synch

import (
	"sync/atomic"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/thread"
)

// Flags select the object's queuing and boost behavior (spec §4.5).
type Flags uint32

const (
	// FIFO orders sleepers by arrival (the default, zero value).
	FIFO Flags = 0
	// Prio orders sleepers by current priority.
	Prio Flags = 1 << iota
	// PIP activates priority inheritance on top of Prio ordering;
	// setting PIP implies Prio (mirrors XNSYNCH_PIP "obviously" forcing
	// XNSYNCH_PRIO in the original).
	PIP
)

var nextChannelID uint64

// Scheduler is the subset of pod behavior synch needs to suspend,
// resume, and query the currently running thread.
type Scheduler interface {
	Suspend(t *thread.TCB, reason thread.State, timeout uint64, wchan thread.WaitChannel)
	Resume(t *thread.TCB, reason thread.State)
	IsCurrent(t *thread.TCB) bool
	// Dreord reports the pod-level "disable reorder" policy: when true,
	// a priority change does not reorder the wait queue a blocked
	// thread occupies (spec §4.5/§4.6, original_source XNDREORD).
	Dreord() bool
	// Fatal invokes the pod's fatal handler for a precondition
	// violation such as a conjunctive wait attempt (spec §7).
	Fatal(reason string, fields ...log.Field)
	// Requeue repositions an already-ready thread within the ready
	// queue after its current priority changed (spec §4.5
	// renice_thread's "thread is READY" branch).
	Requeue(t *thread.TCB)
	// Direction reports the pod's urgency direction (spec §3
	// reverse_priority), used to order this object's wait queue the
	// same way the pod orders its ready queue (spec §4.5 init: "sets
	// the wait queue direction from the pod").
	Direction() prioq.Direction
	// Boosted records that a priority-inheritance claim just raised an
	// owner's current priority, for the pod's boost counter (spec §11).
	Boosted()
}

// Object is a synchronization object: a pend queue plus, when PIP is
// enabled, a claim on its owner's priority.
type Object struct {
	flags Flags
	sched Scheduler

	pendq   *prioq.Queue
	owner   *thread.TCB
	link    prioq.Holder // this object's entry in owner's ClaimList
	claimed bool

	id  uint64
	log *log.Logger
}

// New creates a synchronization object queuing waiters via sched.
func New(flags Flags, sched Scheduler) *Object {
	if flags&PIP != 0 {
		flags |= Prio
	}
	o := &Object{
		flags: flags,
		sched: sched,
		pendq: prioq.New(sched.Direction()),
		id:    atomic.AddUint64(&nextChannelID, 1),
		log:   log.New("synch"),
	}
	o.link.Value = o
	return o
}

// ChannelID satisfies thread.WaitChannel.
func (o *Object) ChannelID() uint64 { return o.id }

// Owner returns the thread currently holding the resource, or nil.
func (o *Object) Owner() *thread.TCB { return o.owner }

// Pending reports whether any thread is waiting on this object.
func (o *Object) Pending() bool { return !o.pendq.Empty() }

// Claimed reports whether this object is currently boosting its owner.
func (o *Object) Claimed() bool { return o.claimed }

// Acquire attempts the uncontended fast path: if nobody owns the
// object yet, t becomes the owner directly without queuing. Resource
// abstractions built atop Object (mutexes, semaphores) call this
// before falling back to SleepOn.
func (o *Object) Acquire(t *thread.TCB) bool {
	if o.owner != nil {
		return false
	}
	o.owner = t
	return true
}

// SleepOn makes t wait on the object (spec §4.5 sleep_on). If PIP is
// enabled and t is more urgent than the current owner, the owner's
// priority is boosted and the claim recorded.
func (o *Object) SleepOn(t *thread.TCB, timeout uint64) {
	owner := o.owner

	if o.flags&Prio != 0 {
		o.pendq.InsertFIFO(t.Link(), t.CPrio)

		if o.flags&PIP != 0 && owner != nil && o.pendq.MoreUrgent(t.CPrio, owner.CPrio) {
			if !owner.State.Has(thread.Boost) {
				owner.BPrio = owner.CPrio
				owner.State |= thread.Boost
				o.sched.Boosted()
			}
			// (Re)key the claim at the object's most urgent waiter, so
			// a more urgent later sleeper moves an existing claim too.
			owner.ClaimList.InsertFIFO(&o.link, o.pendq.Head().Prio())
			o.claimed = true
			o.reniceThread(owner, t.CPrio)
		}
	} else {
		o.pendq.InsertFIFO(t.Link(), 0)
	}

	// Suspend assigns t.WaitChannel itself, after checking for a
	// conjunctive wait — mirrors xnpod_suspend_thread's own handling of
	// the wchan argument rather than pre-setting it here.
	o.sched.Suspend(t, thread.Pend, timeout, o)
}

// WakeupOneSleeper transfers ownership to the head of the pend queue
// and clears any boost this object held on the previous owner (spec
// §4.5 wakeup_one_sleeper). Returns the newly-resumed thread, or nil.
func (o *Object) WakeupOneSleeper() *thread.TCB {
	lastOwner := o.owner

	var next *thread.TCB
	if h := o.pendq.PopHead(); h != nil {
		next = h.Value.(*thread.TCB)
		next.WaitChannel = nil
		o.owner = next
		o.sched.Resume(next, thread.Pend)
	} else {
		o.owner = nil
	}

	if o.claimed {
		o.clearBoost(lastOwner)
	}
	return next
}

// WakeupThisSleeper transfers ownership to a specific waiter already
// linked on this object's pend queue, returning the next holder so the
// caller may keep walking the queue after the removal (spec §4.5
// wakeup_this_sleeper).
func (o *Object) WakeupThisSleeper(h *prioq.Holder) *prioq.Holder {
	lastOwner := o.owner
	next := h.Next()

	o.pendq.Remove(h)
	t := h.Value.(*thread.TCB)
	t.WaitChannel = nil
	o.owner = t
	o.sched.Resume(t, thread.Pend)

	if o.claimed {
		o.clearBoost(lastOwner)
	}
	return next
}

// Flush unblocks every waiter, tagging each with reason (e.g.
// thread.Rmid when the object is being destroyed, thread.Break for a
// forced interrupt), and clears ownership (spec §4.5 flush). Returns
// whether a reschedule is warranted.
func (o *Object) Flush(reason thread.State) bool {
	rescheduled := !o.pendq.Empty()

	for {
		h := o.pendq.PopHead()
		if h == nil {
			break
		}
		t := h.Value.(*thread.TCB)
		t.State |= reason
		t.WaitChannel = nil
		o.sched.Resume(t, thread.Pend)
	}

	if o.claimed {
		o.clearBoost(o.owner)
		rescheduled = true
	}
	o.owner = nil
	return rescheduled
}

// ForgetSleeper aborts t's wait on whatever object it is pending on,
// reordering or clearing the owner's boost as needed (spec §4.5
// forget_sleeper) — used when a timed-out or forcibly-unblocked thread
// must be pulled out of a pend queue without transferring ownership.
func ForgetSleeper(t *thread.TCB) {
	o, ok := t.WaitChannel.(*Object)
	if !ok || o == nil {
		return
	}

	t.State &^= thread.Pend
	t.WaitChannel = nil
	o.pendq.Remove(t.Link())

	if !o.claimed {
		return
	}

	owner := o.owner
	if o.pendq.Empty() {
		o.clearBoost(owner)
		return
	}

	head := o.pendq.Head().Prio()
	if head != owner.ClaimList.Head().Prio() {
		owner.ClaimList.Remove(&o.link)
		owner.ClaimList.InsertFIFO(&o.link, head)
		rprio := owner.ClaimList.Head().Prio()
		if owner.ClaimList.MoreUrgent(owner.CPrio, rprio) {
			o.reniceThread(owner, rprio)
		}
	}
}

// ReleaseAllOwnerships wakes one sleeper on every object t currently
// owns via a PIP claim, used when t exits or is deleted while holding
// boosted resources (spec §4.5 release_all_ownerships).
func ReleaseAllOwnerships(t *thread.TCB) {
	for {
		h := t.ClaimList.Head()
		if h == nil {
			return
		}
		h.Value.(*Object).WakeupOneSleeper()
	}
}

// clearBoost resets lastOwner's priority to the minimum required by
// its remaining claims, or to its base priority if none remain (spec
// §4.5 clear_boost).
func (o *Object) clearBoost(lastOwner *thread.TCB) {
	lastOwner.ClaimList.Remove(&o.link)
	o.claimed = false

	downprio := lastOwner.BPrio
	if lastOwner.ClaimList.Empty() {
		lastOwner.State &^= thread.Boost
	} else if rprio := lastOwner.ClaimList.Head().Prio(); lastOwner.ClaimList.MoreUrgent(rprio, downprio) {
		downprio = rprio
	}

	if lastOwner.CPrio != downprio {
		o.reniceThread(lastOwner, downprio)
	}
}

// reniceThread raises or lowers t's current priority, propagating the
// change into whatever it is doing: reordering its wait-queue position
// if it is asleep, or asking the scheduler to move it within the ready
// queue if runnable (spec §4.5 renice_thread). t's base priority is
// never touched here.
func (o *Object) reniceThread(t *thread.TCB, prio int) {
	t.CPrio = prio

	switch {
	case t.WaitChannel != nil:
		if wc, ok := t.WaitChannel.(*Object); ok {
			wc.ReniceSleeper(t)
		}
	case t.State.Has(thread.Ready):
		// Covers both a merely-ready thread and the running thread
		// itself (the running thread stays linked in the ready queue
		// at its own priority, spec §3) — Requeue refreshes its queue
		// position to the new priority either way; it only asks the
		// scheduler to reconsider when t is not the one currently
		// running (Requeue's own check), so a self-boost never
		// recurses into Schedule from inside this call.
		o.sched.Requeue(t)
	}
}

// ReniceSleeper reorders a pending thread within its wait queue after
// its priority changed, bubbling the change into the owner's claim if
// this object is PIP-claimed (spec §4.5 renice_sleeper). A no-op under
// the pod's DREORD policy, which intentionally ignores wait-priority
// changes for legacy compatibility.
func (o *Object) ReniceSleeper(t *thread.TCB) {
	if o.flags&Prio == 0 || o.sched.Dreord() {
		return
	}

	owner := o.owner
	o.pendq.Remove(t.Link())
	o.pendq.InsertFIFO(t.Link(), t.CPrio)

	if o.claimed && owner != nil && o.pendq.MoreUrgent(t.CPrio, owner.CPrio) {
		owner.ClaimList.Remove(&o.link)
		owner.ClaimList.InsertFIFO(&o.link, t.CPrio)
		o.reniceThread(owner, t.CPrio)
	}
}
