package pod

import (
	"github.com/rtcore/nanokernel/irq"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

// AnnounceTick advances the timer wheel by n jiffies and applies
// round-robin credit accounting, via the pod's clock interrupt line
// (spec §4.6 "Tick announcement", §12 supplement). n is the number of
// hardware hits coalesced since the previous call.
func (p *Pod) AnnounceTick(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen || n <= 0 {
		return
	}
	p.clockLine.Fire(n)
}

// RegisterIRQ attaches an additional ISR to the pod's clock line,
// alongside the pod's own tick handler (spec §12 supplement: the tick
// source is "one particular registered ISR", not a built-in special
// case, so other lines/handlers chain onto the same dispatch).
func (p *Pod) RegisterIRQ(isr irq.ISR, cookie any) *irq.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clockLine.Register(isr, cookie)
}

// roundRobin implements spec §4.6's round-robin section: decrement the
// current thread's credit by the number of tick hits, and when it
// reaches zero, refill to the quantum and rotate it to the tail of its
// priority group. Disabled in Aperiodic mode per spec §9's open
// question ("round-robin in aperiodic mode is explicitly disabled in
// the source; the spec preserves this").
func (p *Pod) roundRobin(hits int) {
	if p.cfg.Mode != timerwheel.Periodic {
		return
	}
	cur := p.current
	if cur == nil || cur.LockCount > 0 || !cur.State.Has(thread.RRB) {
		return
	}

	credit := uint32(hits)
	if cur.RRCredit > credit {
		cur.RRCredit -= credit
		return
	}
	cur.RRCredit = cur.RRQuantum
	p.ScheduleRunnable(cur, RunnableFIFO)
}

// RotateReadyq manually rotates the head of the ready-queue priority
// group matching prio one position, the primitive spec §6 exposes as
// rotate_readyq (and §4.6's "resume(thread, 0) acts as the manual
// rotation primitive", generalized here to an explicit priority rather
// than requiring the thread be blocked first). A no-op if the head of
// the ready queue is not at that priority.
func (p *Pod) RotateReadyq(prio int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.readyq.Head()
	if h == nil || h.Prio() != prio {
		return
	}
	t := h.Value.(*thread.TCB)
	p.readyq.Remove(h)
	p.readyq.InsertFIFO(t.Link(), prio)
}

// ActivateRR/DeactivateRR toggle round-robin membership for a thread
// (spec §6). A zero quantum keeps the pod's configured default.
func (p *Pod) ActivateRR(t *thread.TCB, quantum uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if quantum == 0 {
		quantum = p.cfg.RRQuantum
	}
	t.RRQuantum = quantum
	// An out-of-band refill is rate-limited per thread: a skin toggling
	// RRB in a tight loop must not keep minting fresh credit and starve
	// the rest of the priority group. Ordinary tick-driven refills in
	// roundRobin are not subject to this.
	if p.creditLimiter.Allow(t.Name) {
		t.RRCredit = quantum
	}
	t.State |= thread.RRB
}

func (p *Pod) DeactivateRR(t *thread.TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.State &^= thread.RRB
}
