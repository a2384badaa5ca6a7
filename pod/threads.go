package pod

import (
	"github.com/rtcore/nanokernel/rterr"
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
)

// CreateThread allocates and registers a new thread (spec §4.4 init
// plus its enrollment into the pod's global queue). The thread starts
// DORMANT; start it with StartThread.
func (p *Pod) CreateThread(name string, prio int, stackSize uint32, flags thread.State) (*thread.TCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newThreadLocked(name, prio, stackSize, flags, magicCookie)
}

func (p *Pod) newThreadLocked(name string, prio int, stackSize uint32, flags thread.State, magic uint32) (*thread.TCB, error) {
	if prio < p.cfg.MinPrio || prio > p.cfg.MaxPrio {
		return nil, rterr.Wrap(rterr.ErrInval, "thread priority out of pod range")
	}
	return p.newThreadLockedUnchecked(name, prio, stackSize, flags, magic)
}

// newThreadLockedUnchecked skips the pod priority-range validation, for
// ROOT's construction at rootPrio() — one step beyond either end of the
// configured range by design (spec §3).
func (p *Pod) newThreadLockedUnchecked(name string, prio int, stackSize uint32, flags thread.State, magic uint32) (*thread.TCB, error) {
	p.nextID++
	t, err := thread.Init(p.nextID, p.heap, p.dir, name, prio, stackSize, magic)
	if err != nil {
		return nil, err
	}
	t.State |= flags
	t.RRQuantum = p.cfg.RRQuantum
	t.RRCredit = p.cfg.RRQuantum

	timer := p.wheel.InitTimer(p.onDelayFire, t)
	t.DelayTimer = &delayTimer{w: p.wheel, t: timer}

	p.globalq.InsertFIFO(t.GlobalLink(), 0)
	p.runHooks(p.hookStart, t)
	return t, nil
}

// StartThread marks a DORMANT thread runnable and puts it on the
// ready queue (spec §6 start_thread).
func (p *Pod) StartThread(t *thread.TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !t.State.Has(thread.Dormant) {
		return
	}
	t.State &^= thread.Dormant | thread.Susp
	t.State |= thread.Started
	if t.State.Runnable() {
		p.readyq.InsertFIFO(t.Link(), t.CPrio)
		t.State |= thread.Ready
		p.Schedule()
	}
}

// RestartThread aborts whatever t is doing — pend, delay, explicit
// suspension, held claims — and re-runs it from its entry point at its
// initial priority (spec §6 restart_thread). ROOT threads and shadows
// cannot be restarted (spec §7 PERM).
func (p *Pod) RestartThread(t *thread.TCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.State.Any(thread.Root | thread.Shadow) {
		return rterr.Wrap(rterr.ErrPerm, "cannot restart ROOT or a shadow thread")
	}
	if !t.State.Has(thread.Started) {
		return rterr.Wrap(rterr.ErrInval, "thread was never started")
	}

	synch.ForgetSleeper(t)
	synch.ReleaseAllOwnerships(t)
	if dt, ok := t.DelayTimer.(*delayTimer); ok {
		dt.w.Stop(dt.t)
	}
	p.suspendq.Remove(t.Link())

	t.PendingSignals = 0
	t.LockCount = 0
	t.BPrio = t.IPrio
	t.CPrio = t.IPrio
	t.State &^= thread.Pend | thread.Delay | thread.Susp | thread.Boost |
		thread.Lock | thread.Rmid | thread.Timeo | thread.Break
	t.State |= thread.Restart

	p.readyq.InsertFIFO(t.Link(), t.CPrio)
	t.State |= thread.Ready
	p.Schedule()
	return nil
}

// DeleteThread removes t permanently. Deleting the ROOT thread or a
// thread other than the caller requires care the spec reserves as a
// PERM violation for ROOT (spec §7).
func (p *Pod) DeleteThread(t *thread.TCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t == p.root {
		return rterr.Wrap(rterr.ErrPerm, "cannot delete the ROOT thread")
	}
	if t == p.current {
		t.State |= thread.Killed
		p.Schedule()
		return nil
	}
	p.deleteThreadLocked(t)
	return nil
}

func (p *Pod) deleteThreadLocked(t *thread.TCB) {
	synch.ReleaseAllOwnerships(t)
	synch.ForgetSleeper(t)
	p.readyq.Remove(t.Link())
	p.suspendq.Remove(t.Link())
	p.globalq.Remove(t.GlobalLink())
	if dt, ok := t.DelayTimer.(*delayTimer); ok {
		p.wheel.Destroy(dt.t)
	}
	p.runHooks(p.hookDelete, t)
	t.Cleanup()
}

// onDelayFire is the default delay-timer handler installed by
// newThreadLocked (spec §4.4 init: "a delay timer bound to a default
// handler that sets TIMEO and resumes the thread"). Runs with the pod
// lock already held, since it fires from within AnnounceTick.
func (p *Pod) onDelayFire(cookie any) {
	t := cookie.(*thread.TCB)
	t.State |= thread.Timeo
	p.metrics.TimerFires.Inc()
	p.Resume(t, thread.Delay)
}

const magicCookie = 0x4e414e4f // "NANO"
