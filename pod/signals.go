package pod

import "github.com/rtcore/nanokernel/thread"

// Signal bits a thread's ASR receives (spec §4.6 "Asynchronous
// signals"). KILLED is the pseudo-signal that self-deletes a thread
// from within its own ASR.
const (
	SigKilled uint32 = 1 << iota
	SigDebug
	SigWake
)

// SendSignal ORs sig into t's pending mask (spec §4.6 "a per-thread
// pending-signals bitmap"). Delivery happens the next time
// DispatchSignals runs for t, typically from Schedule's switch path.
func (p *Pod) SendSignal(t *thread.TCB, sig uint32) {
	t.PendingSignals |= sig
}

// DispatchSignals fires t's ASR if signals are pending and t is
// eligible: an ASR must be installed and ASDI must be clear (spec
// §4.6 dispatch_signals). It snapshots and clears the pending mask,
// saves the thread's mode bits and sets ASDI so a nested signal can't
// re-enter the ASR, swaps in the ASR's own interrupt mask for the
// duration of the call, then restores both the interrupt mask and the
// prior mode bits. A pending KILLED bit self-deletes the thread after
// the ASR returns.
func (p *Pod) DispatchSignals(t *thread.TCB) {
	if t.PendingSignals == 0 || t.ASR == nil || t.State.Has(thread.Asdi) {
		return
	}

	pending := t.PendingSignals
	t.PendingSignals = 0

	savedMode := t.State & thread.Asdi
	savedIMask := t.IMask
	t.State |= thread.Asdi
	t.IMask = t.ASRIMask

	t.ASR(t, pending)

	t.IMask = savedIMask
	t.State = (t.State &^ thread.Asdi) | savedMode

	if pending&SigKilled != 0 {
		t.State |= thread.Killed
		if t == p.current {
			p.Schedule()
		} else {
			p.deleteThreadLocked(t)
		}
	}
}
