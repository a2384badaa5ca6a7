package pod

import "github.com/rtcore/nanokernel/thread"

// modeMask is the set of state bits a skin may toggle through
// SetThreadMode: the scheduler lock, ASR delivery, round-robin
// membership, and a shadow's auto-relax behavior.
const modeMask = thread.Lock | thread.Asdi | thread.RRB | thread.Autosw

// SetThreadMode clears clrmask then sets setmask among the mode bits,
// returning the previous mode bits (spec §6 set_thread_mode,
// original_source xnpod_set_thread_mode). Bits outside the mode set
// are ignored. Setting LOCK takes one scheduler-lock nesting level;
// clearing it releases one, and releasing the last level runs the
// reschedule that was deferred while the lock was held (spec §5: "a
// deferred reschedule fires if SCHED is set").
func (p *Pod) SetThreadMode(t *thread.TCB, clrmask, setmask thread.State) thread.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := t.State & modeMask
	clrmask &= modeMask
	setmask &= modeMask

	if clrmask.Has(thread.Lock) && t.LockCount > 0 {
		t.LockCount--
		if t.LockCount == 0 {
			t.State &^= thread.Lock
			if t.State.Has(thread.Sched) {
				p.Schedule()
			}
		}
	}
	t.State &^= clrmask &^ thread.Lock

	if setmask.Has(thread.Lock) {
		t.LockCount++
		t.State |= thread.Lock
	}
	t.State |= setmask &^ thread.Lock

	return prev
}
