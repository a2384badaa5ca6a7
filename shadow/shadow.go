// Package shadow implements the nanokernel's domain-migration layer
// (spec §4.7): a real-time thread mated with a host-kernel task,
// migrating between the real-time domain (the pod) and the host
// domain via harden/relax, serviced by a gatekeeper, with an
// interrupt shield covering the window a shadow spends on the host
// side.
//
// Pair's atomic domain state is grounded on teacher_lifecycle.go's
// Kernel state machine (an atomic.Int32 advanced only through
// compare-and-swap transitions, the same discipline xnshadow_harden/
// xnshadow_relax need to avoid racing a concurrent migration request).
package shadow

import (
	"sync/atomic"

	"github.com/rtcore/nanokernel/rterr"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

// Domain is which scheduling domain a shadow pair currently executes in.
type Domain int32

const (
	// Host: the pair is running as the mated host-kernel task (RELAX).
	Host Domain = iota
	// RT: the pair is running as the real-time thread (hardened).
	RT
)

func (d Domain) String() string {
	if d == RT {
		return "RT"
	}
	return "HOST"
}

// HostTask is the host-kernel task mated to a shadow thread (spec §6
// "host-task handle"): run it, signal it, change its priority, wake it.
type HostTask interface {
	// Reprioritize satisfies thread.HostTask so pod.Renice can
	// propagate a base-priority change to the mated host task.
	Reprioritize(prio int)
	// Signal delivers a host-domain signal to the task.
	Signal(sig int)
	// Wake resumes the host task in the host domain.
	Wake()
	// Terminate ends the host task, used by Exit.
	Terminate()
}

// Scheduler is the pod subset shadow drives: renicing ROOT and
// suspending/resuming the real-time side of a pair.
type Scheduler interface {
	ReniceThread(t *thread.TCB, prio int)
	SuspendThread(t *thread.TCB, reason thread.State, timeout uint64, wchan thread.WaitChannel)
	ResumeThread(t *thread.TCB, reason thread.State)
	Root() *thread.TCB
}

// Pair mates a real-time TCB with a host task (spec §4.7). Created
// DORMANT in the host domain by Map; Start clears DORMANT and leaves
// the thread in RELAX on the host side, hardening it at once only when
// autostart is set.
type Pair struct {
	domain atomic.Int32 // Domain, read via Domain()

	Thread *thread.TCB
	host   HostTask
	sched  Scheduler
	gk     *Gatekeeper
}

var _ thread.HostTask = (*Pair)(nil)

// Map creates a shadow pair: the thread starts DORMANT with the Shadow
// state bit set and its host-task pointer installed, in the host
// domain awaiting Start (spec §4.7 map).
func Map(sched Scheduler, gk *Gatekeeper, t *thread.TCB, host HostTask) *Pair {
	p := &Pair{Thread: t, host: host, sched: sched, gk: gk}
	p.domain.Store(int32(Host))
	t.HostTask = p
	t.State |= thread.Shadow | thread.Dormant
	gk.Shield.Enter()
	return p
}

// Domain reports which scheduling domain the pair currently executes in.
func (p *Pair) Domain() Domain { return Domain(p.domain.Load()) }

// Reprioritize forwards a base-priority change to the mated host task
// (satisfies thread.HostTask, spec §4.6 renice "propagate to the mated
// host task").
func (p *Pair) Reprioritize(prio int) { p.host.Reprioritize(prio) }

// Start marks the shadow thread runnable in RELAX (the host domain),
// optionally hardening immediately if autostart was requested (spec
// §4.7 map: "once an autostart or explicit start arrives — hardens the
// caller").
func (p *Pair) Start(autostart bool) error {
	p.Thread.State &^= thread.Dormant | thread.Susp
	p.Thread.State |= thread.Started | thread.Relax
	if autostart {
		return p.Harden()
	}
	return nil
}

// Harden migrates the pair into the real-time domain (spec §4.7
// harden): the host task enqueues a migration request and wakes the
// gatekeeper, which — running at a priority at least the shadow's —
// resumes the shadow from its RELAX suspension.
func (p *Pair) Harden() error {
	if p.Domain() == RT {
		return nil
	}
	if !p.gk.push(request{pair: p, kind: reqHarden}) {
		return rterr.Wrap(rterr.ErrBusy, "shadow: gatekeeper ring full")
	}
	p.gk.Drain()
	return nil
}

func (p *Pair) completeHarden() {
	p.domain.Store(int32(RT))
	p.gk.Shield.Leave()
	// Relax lent the shadow's priority to ROOT so the host task would
	// inherit it; with the pair back on the RT side, ROOT returns to
	// its base.
	root := p.sched.Root()
	if root.BPrio != root.IPrio {
		p.sched.ReniceThread(root, root.IPrio)
	}
	p.sched.ResumeThread(p.Thread, thread.Relax)
}

// Relax migrates the pair into the host domain (spec §4.7 relax): ROOT
// is reniced to the shadow's current priority so the mated host task —
// which runs as ROOT once resumed — inherits it, the shadow suspends
// itself with RELAX (infinite, no wait channel), and the gatekeeper is
// asked to wake the host task once the migration lands.
func (p *Pair) Relax() error {
	if p.Domain() == Host {
		return nil
	}
	p.sched.ReniceThread(p.sched.Root(), p.Thread.CPrio)
	p.sched.SuspendThread(p.Thread, thread.Relax, timerwheel.Infinite, nil)
	if !p.gk.push(request{pair: p, kind: reqRelax}) {
		return rterr.Wrap(rterr.ErrBusy, "shadow: gatekeeper ring full")
	}
	p.gk.Drain()
	return nil
}

func (p *Pair) completeRelax() {
	p.domain.Store(int32(Host))
	p.gk.Shield.Enter()
	p.host.Wake()
}

// Exit terminates the pair (spec §4.7 exit): the host task is resumed
// one last time, then told to terminate itself.
func (p *Pair) Exit() error {
	if !p.gk.push(request{pair: p, kind: reqExit}) {
		return rterr.Wrap(rterr.ErrBusy, "shadow: gatekeeper ring full")
	}
	p.gk.Drain()
	return nil
}

func (p *Pair) completeExit() {
	if p.Domain() == Host {
		p.gk.Shield.Leave()
	}
	p.host.Wake()
	p.host.Terminate()
}

// Unmap severs the pairing (spec §6 shadow "unmap"), leaving the
// thread's other state untouched for whatever deletes it next.
func (p *Pair) Unmap() {
	p.Thread.HostTask = nil
	p.Thread.State &^= thread.Shadow
}
