// Package irq implements the nanokernel's interrupt object (spec §12,
// a supplemented feature read out of original_source's
// rtai-core/sched/xenomai/pod.c xnintr_t and
// xnpod_announce_tick(xnintr_t *intr, int hits)). The distilled spec.md
// folds interrupt delivery into "an external timer interrupt pends a
// tick on the pod"; the original nucleus instead exposes the clock as
// one particular registered ISR on a first-class interrupt object, and
// skins may register their own lines the same way. This package
// provides that registration surface: a line is a FIFO chain of ISRs
// sharing the bool-return-means-handled contract, reusing the same
// hook-chain snapshot-before-dispatch discipline as the pod's hook
// chains (spec §9 "Hook chains").
package irq

import "github.com/rtcore/nanokernel/prioq"

// ISR is a registered interrupt service routine. hits carries the
// coalesced tick count for the clock line (spec §4.6 announce_tick's
// "n = hits since last call"); ordinary lines ignore it. A return of
// true means the interrupt was handled and the chain stops walking.
type ISR func(cookie any, hits int) bool

type entry struct {
	holder  prioq.Holder
	isr     ISR
	cookie  any
	enabled bool
}

// Line is one interrupt line's FIFO-ordered chain of registered ISRs.
type Line struct {
	chain *prioq.Queue
}

// NewLine creates an empty interrupt line.
func NewLine() *Line {
	return &Line{chain: prioq.New(prioq.Up)}
}

// Handle identifies a registration for Enable/Disable/Unregister.
type Handle struct {
	line  *Line
	entry *entry
}

// Register appends isr to the line's FIFO chain, initially enabled.
func (l *Line) Register(isr ISR, cookie any) *Handle {
	e := &entry{isr: isr, cookie: cookie, enabled: true}
	e.holder.Value = e
	l.chain.InsertFIFO(&e.holder, 0)
	return &Handle{line: l, entry: e}
}

// Unregister removes the handler permanently.
func (h *Handle) Unregister() { h.line.chain.Remove(&h.entry.holder) }

// Enable/Disable toggle delivery without unregistering (spec §6
// pod.init's "wires the IPI" neighbor surface, add_hook/remove_hook
// analogue for interrupt lines).
func (h *Handle) Enable()  { h.entry.enabled = true }
func (h *Handle) Disable() { h.entry.enabled = false }

// Fire dispatches hits to every enabled ISR on the line in FIFO
// registration order, stopping at the first one that reports handled.
// The chain is snapshotted before dispatch since an ISR may unregister
// itself or a sibling mid-walk (spec §9 hook-chain discipline).
func (l *Line) Fire(hits int) bool {
	var entries []*entry
	l.chain.Each(func(h *prioq.Holder) { entries = append(entries, h.Value.(*entry)) })

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if e.isr(e.cookie, hits) {
			return true
		}
	}
	return false
}
