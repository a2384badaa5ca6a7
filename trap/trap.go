// Package trap implements per-thread trap/fault dispatch and the
// pod's default fault policy (spec §4.8).
//
// The fault trampoline's three-way branch — no real-time thread was
// running, a shadow was faulting, or an ordinary kernel thread faulted
// — is grounded directly on original_source's
// rtai-core/sched/xenomai/pod.c xnpod_trap_fault: idle/ROOT faults are
// left for the host, a faulting shadow is relaxed so the host can
// finish handling the trap, and anything else is frozen in DORMANT so
// the system can be inspected rather than left to run on into
// undefined behavior.
package trap

import (
	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/pod"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

// Info carries the architecture fault information a host trap handler
// hands to the default policy (spec §6 "Fault/trap information struct
// exposing PC and trap number").
type Info struct {
	Vector int
	PC     uintptr
}

// Register installs t's handler for a trap vector (spec §4.8: "each
// thread holds a table of per-trap handlers"). An out-of-range vector
// is ignored; the trap vector space is fixed per thread.TrapVectors.
func Register(t *thread.TCB, vector int, h thread.TrapHandler) {
	if vector < 0 || vector >= thread.TrapVectors {
		return
	}
	t.Traps[vector] = h
}

// Unregister clears t's handler for a trap vector.
func Unregister(t *thread.TCB, vector int) {
	if vector < 0 || vector >= thread.TrapVectors {
		return
	}
	t.Traps[vector] = nil
}

// Dispatch invokes t's installed handler for info.Vector, reporting
// false ("not handled") if none is installed — the per-thread lookup
// half of trap_fault, called before the pod's default policy runs.
func Dispatch(t *thread.TCB, info Info) bool {
	if info.Vector < 0 || info.Vector >= thread.TrapVectors {
		return false
	}
	h := t.Traps[info.Vector]
	if h == nil {
		return false
	}
	return h(t, info.Vector, info.PC)
}

// relaxer is satisfied by *shadow.Pair; defined locally so trap does
// not import shadow.
type relaxer interface {
	Relax() error
}

// Dispatcher wires the default fault policy to one pod (spec §4.8
// trap_fault).
type Dispatcher struct {
	p   *pod.Pod
	log *log.Logger

	// Debugger is the optional hook a skin installs via
	// register_debugger (spec §6, §12 supplement): invoked with a
	// read-only view of the faulting thread before the default policy
	// acts, enough to print a backtrace without a wire protocol.
	Debugger func(t *thread.TCB, info Info)
}

// NewDispatcher wires the default fault policy to p.
func NewDispatcher(p *pod.Pod) *Dispatcher {
	return &Dispatcher{p: p, log: log.New("trap")}
}

// Fault implements trap_fault(fltinfo) (spec §4.8): returns true if
// the nanokernel handled the fault, false if the host should process
// it. Assumes the pod lock is already held, matching every other
// pod-mutating entry point in this module.
func (d *Dispatcher) Fault(info Info) bool {
	p := d.p
	cur := p.Current()

	// No real-time thread was running, or the CPU was idle in ROOT:
	// not ours to handle.
	if cur == nil || cur == p.Root() {
		return false
	}

	if d.Dispatch(cur, info) {
		return true
	}

	if cur.State.Has(thread.Shadow) {
		if d.Debugger != nil {
			d.Debugger(cur, info)
		}
		if r, ok := cur.HostTask.(relaxer); ok {
			if err := r.Relax(); err != nil {
				d.log.Warn("fault relax failed",
					log.String("thread", cur.Name), log.Err(err))
			}
		}
		// The host processes the fault once the shadow has relaxed.
		return false
	}

	if d.Debugger != nil {
		d.Debugger(cur, info)
	}
	d.log.Error("unhandled fault, suspending thread",
		log.Int("vector", info.Vector), log.String("thread", cur.Name))
	p.Suspend(cur, thread.Dormant, timerwheel.Infinite, nil)
	return true
}

// RegisterDebugger installs the hook Fault invokes on unhandled-trap
// entry, before the default policy acts (spec §6 register_debugger).
// Pass nil to remove it.
func (d *Dispatcher) RegisterDebugger(fn func(t *thread.TCB, info Info)) {
	d.Debugger = fn
}

// Dispatch is the instance-bound form of the package-level Dispatch,
// kept on Dispatcher so Fault and callers share one entry point.
func (d *Dispatcher) Dispatch(t *thread.TCB, info Info) bool {
	return Dispatch(t, info)
}
