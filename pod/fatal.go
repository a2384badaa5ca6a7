package pod

import (
	"errors"

	"github.com/sony/gobreaker"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/thread"
)

var errFatal = errors.New("nanokernel: fatal condition")

// Fatal routes a precondition violation through the pod's non-recoverable
// path (spec §7: "precondition violations that indicate internal
// corruption ... invoke a fatal handler that freezes timers, dumps the
// thread table, and halts the pod"). The pod halts unconditionally,
// matching the original xnpod_fatal's "this is not a recoverable
// condition" contract (spec §10.2); the circuit breaker only selects
// which of two Error-level messages is logged. A frozen pod returns
// before reaching the breaker, so each pod feeds it at most one failure
// and repeated Fatal calls on the same pod do not reach the "tripped
// the breaker" message. Assumes the caller already holds the pod lock.
func (p *Pod) Fatal(reason string, fields ...log.Field) {
	if p.frozen {
		return
	}

	_, breakerErr := p.breaker.Execute(func() (interface{}, error) {
		return nil, errFatal
	})

	allFields := append([]log.Field{log.String("reason", reason)}, fields...)
	if errors.Is(breakerErr, gobreaker.ErrOpenState) {
		p.log.Error("nanokernel halted: repeated fatal conditions tripped the breaker", allFields...)
	} else {
		p.log.Error("nanokernel halted", allFields...)
	}

	if p.debugger != nil && p.current != nil {
		p.debugger(p.current, reason)
	}

	p.frozen = true
	p.dumpThreadTable()
}

// RegisterDebugger installs the optional callback invoked on
// fatal-handler entry with the thread that was current at the time
// (spec §6 register_debugger): enough for a skin to print a backtrace
// before the pod halts. The trap dispatcher carries its own equivalent
// for unhandled-trap entry.
func (p *Pod) RegisterDebugger(fn func(t *thread.TCB, reason string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debugger = fn
}

// Frozen reports whether a prior Fatal call has halted the pod.
func (p *Pod) Frozen() bool { return p.frozen }

// dumpThreadTable logs every live thread's identity, priorities, and
// state mask (spec §10.2's "dumps the thread table"); the per-thread
// bitset is the diagnostic rendering thread.TCB.DebugBits exists for.
func (p *Pod) dumpThreadTable() {
	p.globalq.Each(func(h *prioq.Holder) {
		t := h.Value.(*thread.TCB)
		p.log.Error("thread table",
			log.String("name", t.Name),
			log.Int("bprio", t.BPrio),
			log.Int("cprio", t.CPrio),
			log.Uint64("state", uint64(t.State)),
			log.String("state_bits", t.DebugBits().String()),
		)
	})
}
