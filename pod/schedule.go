package pod

import (
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
)

// Schedule is the single reschedule entry point (spec §4.6 schedule).
// Assumes the pod lock is already held. A no-op while a hook chain is
// running.
func (p *Pod) Schedule() {
	if p.kcout || p.frozen {
		return
	}

	cur := p.current
	if cur == nil {
		return
	}

	// Step 1: a locked, still-runnable thread only gets its pending
	// signals delivered. SCHED records that a reschedule is owed once
	// the lock's nesting count returns to zero (spec §5); SetThreadMode
	// honors it when clearing the last LOCK level.
	if cur.LockCount > 0 && cur.State.Runnable() {
		cur.State |= thread.Sched
		p.DispatchSignals(cur)
		return
	}

	// Step 2: a KILLED running thread prepares for zombie reclaim.
	if cur.State.Has(thread.Killed) {
		p.prepareZombie(cur)
	}

	// Step 3.
	cur.State &^= thread.Sched
	head := p.readyq.Head()

	var next *thread.TCB
	switch {
	case cur.State.Runnable() && head != nil && p.readyq.MoreUrgent(cur.CPrio, head.Prio()):
		next = cur
	case head != nil:
		next = head.Value.(*thread.TCB)
	default:
		next = p.root
	}

	// Step 4.
	if next == cur && !cur.State.Has(thread.Restart) {
		return
	}

	p.switchTo(next)
}

// prepareZombie unlinks a self-killed running thread from every queue
// and marks it ZOMBIE so schedule()'s switch step reclaims it once it
// is actually switched away from (spec §9 "deferred delete of
// zombies").
func (p *Pod) prepareZombie(t *thread.TCB) {
	synch.ReleaseAllOwnerships(t)
	p.readyq.Remove(t.Link())
	p.suspendq.Remove(t.Link())
	t.State |= thread.Zombie
}

// switchTo performs the architecture-agnostic half of a context
// switch: zombie reclaim of the outgoing thread, hook dispatch, and
// asynchronous signal delivery to the incoming thread (spec §4.6 step
// 5). The actual register/stack switch has no analogue in this model
// since threads here are scheduling decisions, not real execution
// contexts; this is the documented simplification carried over from
// the original architecture-layer boundary (spec §6).
func (p *Pod) switchTo(next *thread.TCB) {
	outgoing := p.current
	if outgoing != nil && outgoing.State.Has(thread.Zombie) {
		p.globalq.Remove(outgoing.GlobalLink())
		if dt, ok := outgoing.DelayTimer.(*delayTimer); ok {
			p.wheel.Destroy(dt.t)
		}
		p.runHooks(p.hookDelete, outgoing)
		outgoing.Cleanup()
	}

	next.State &^= thread.Restart
	p.current = next
	p.metrics.ContextSwitches.Inc()
	p.runHooks(p.hookSwitch, next)

	if !next.State.Has(thread.Asdi) {
		p.DispatchSignals(next)
	}
}

// ScheduleRunnable re-inserts t into the ready queue LIFO or FIFO
// within its priority group, optionally switching immediately (spec
// §4.6 schedule_runnable) — the primitive synch-object code uses to
// wake a thread without going through the full Resume bookkeeping.
func (p *Pod) ScheduleRunnable(t *thread.TCB, flags RunnableFlag) {
	if flags&RunnableLIFO != 0 {
		p.readyq.InsertLIFO(t.Link(), t.CPrio)
	} else {
		p.readyq.InsertFIFO(t.Link(), t.CPrio)
	}
	t.State |= thread.Ready

	if flags&NoSwitch == 0 {
		p.Schedule()
	}
}

// PreemptCurrent inserts the running thread at the front of its
// priority group and reschedules — used when a more urgent thread has
// just become ready (spec §4.6 preempt_current).
func (p *Pod) PreemptCurrent() {
	cur := p.current
	if cur == nil {
		return
	}
	p.readyq.InsertLIFO(cur.Link(), cur.CPrio)
	cur.State |= thread.Ready
	p.Schedule()
}

// runHooks snapshots the chain before invoking any callback, since a
// hook may add or remove hooks from within its own call (spec §4.6
// Hooks, §9 "hook chains"). While a hook runs, schedule() is a no-op.
func (p *Pod) runHooks(chain *prioq.Queue, t *thread.TCB) {
	var fns []func(*thread.TCB)
	chain.Each(func(h *prioq.Holder) { fns = append(fns, h.Value.(*hookEntry).fn) })

	p.kcout = true
	for _, fn := range fns {
		fn(t)
	}
	p.kcout = false
}

// AddHook registers fn on the named chain, returning a handle for
// RemoveHook.
func (p *Pod) AddHook(kind HookKind, fn func(t *thread.TCB)) *HookHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := &hookEntry{fn: fn}
	e.holder.Value = e
	p.chainFor(kind).InsertFIFO(&e.holder, 0)
	return &HookHandle{entry: e, kind: kind}
}

// RemoveHook unregisters a previously added hook.
func (p *Pod) RemoveHook(h *HookHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainFor(h.kind).Remove(&h.entry.holder)
}

// HookKind selects one of the pod's three FIFO hook chains.
type HookKind int

const (
	HookStart HookKind = iota
	HookSwitch
	HookDelete
)

// HookHandle identifies a registered hook for removal.
type HookHandle struct {
	entry *hookEntry
	kind  HookKind
}

func (p *Pod) chainFor(kind HookKind) *prioq.Queue {
	switch kind {
	case HookStart:
		return p.hookStart
	case HookDelete:
		return p.hookDelete
	default:
		return p.hookSwitch
	}
}
