// Package timerwheel implements the nanokernel's hashed timing wheel
// (spec §4.3): a fixed power-of-two array of timer holder queues, with
// one-shot and periodic re-arm, and periodic/aperiodic hardware modes.
//
// The tick-advance-then-notify shape is grounded on the donor repo's
// foundation/epoch.go (EnhancedEpoch advances a counter and wakes
// waiters); each wheel slot reuses prioq (itself grounded on the
// donor's arena/buddy.go intrusive free lists) with LIFO insertion, as
// spec §4.3 requires for O(1) start. The re-arm-detection-via-DEQUEUED
// and periodic/aperiodic hardware split are grounded directly on
// original_source's rtai-core/sched/xenomai/timer.c.
package timerwheel

import (
	"time"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/rterr"
)

// Infinite marks a timer value/period that should not arm a concrete
// target (spec §4.3 start: "if value != INFINITE").
const Infinite = ^uint64(0)

// Mode selects the hardware tick-delivery strategy.
type Mode int

const (
	// Periodic: hardware programmed once for a fixed tick interval.
	Periodic Mode = iota
	// Aperiodic: hardware reprogrammed to the earliest pending target
	// after each scheduler pass. Available only when HardwareClock
	// supports one-shot programming (spec §4.3).
	Aperiodic
)

// HardwareClock is the external one-shot/periodic timer the wheel
// drives (spec §6 external interfaces).
type HardwareClock interface {
	// ProgramOneShot arms the next hardware interrupt to fire after d.
	// Called only in Aperiodic mode.
	ProgramOneShot(d time.Duration)
	// Idle tells the hardware nothing is pending; it may stay silent
	// until a future operation demands a shot.
	Idle()
	// SetupTime is the minimum lead time the hardware needs to reprogram.
	SetupTime() time.Duration
}

// Timer is a single one-shot-or-periodic entry in the wheel.
type Timer struct {
	holder   prioq.Holder
	wheel    *Wheel
	target   uint64
	period   uint64
	handler  func(cookie any)
	cookie   any
	dequeued bool
	killed   bool
}

// Dequeued reports whether the timer is currently outside the wheel
// (the DEQUEUED status flag of spec §3).
func (t *Timer) Dequeued() bool { return t.dequeued }

// Wheel is the hashed timing wheel itself.
type Wheel struct {
	size    uint32 // power of two
	slots   []*prioq.Queue
	jiffies uint64
	mode    Mode
	hw      HardwareClock
	tick    time.Duration // ns/tick in periodic mode
	log     *log.Logger
}

// New creates a wheel with the given power-of-two size.
func New(size uint32, mode Mode, hw HardwareClock, tick time.Duration) (*Wheel, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, rterr.Wrap(rterr.ErrInval, "wheel size must be a power of two")
	}
	if mode == Aperiodic && hw == nil {
		return nil, rterr.Wrap(rterr.ErrNoSys, "aperiodic mode requires a one-shot hardware clock")
	}
	w := &Wheel{
		size:  size,
		slots: make([]*prioq.Queue, size),
		mode:  mode,
		hw:    hw,
		tick:  tick,
		log:   log.New("timerwheel"),
	}
	for i := range w.slots {
		w.slots[i] = prioq.New(prioq.Up)
	}
	return w, nil
}

// Jiffies returns ticks elapsed since the wheel's epoch.
func (w *Wheel) Jiffies() uint64 { return w.jiffies }

// InitTimer prepares a timer bound to handler/cookie, initially
// DEQUEUED (spec §4.3 init).
func (w *Wheel) InitTimer(handler func(cookie any), cookie any) *Timer {
	t := &Timer{wheel: w, handler: handler, cookie: cookie, dequeued: true}
	t.holder.Value = t
	return t
}

func (w *Wheel) slotFor(target uint64) *prioq.Queue {
	return w.slots[target&(uint64(w.size)-1)]
}

// Start arms t. If already in the wheel it is removed first; if value
// is Infinite the timer is left DEQUEUED (spec §4.3).
func (w *Wheel) Start(t *Timer, value, period uint64) {
	if !t.dequeued {
		w.Stop(t)
	}
	t.period = period
	if value == Infinite {
		return
	}
	t.target = w.jiffies + value
	w.slotFor(t.target).InsertLIFO(&t.holder, 0)
	t.dequeued = false
	w.reprogramIfAperiodic()
}

// Stop removes t from the wheel if linked.
func (w *Wheel) Stop(t *Timer) {
	if t.dequeued {
		return
	}
	w.slotFor(t.target).Remove(&t.holder)
	t.dequeued = true
}

// Destroy permanently retires t: it is removed and marked so that a
// pending re-arm from its own callback never reinserts it (spec §4.3:
// "a callback that destroys its timer sets KILLED").
func (w *Wheel) Destroy(t *Timer) {
	w.Stop(t)
	t.killed = true
}

// DoTimers advances the wheel by n jiffies, firing every timer whose
// target has been reached and re-arming periodic timers that did not
// re-arm themselves and were not destroyed (spec §4.3).
func (w *Wheel) DoTimers(n int) {
	for i := 0; i < n; i++ {
		w.jiffies++
		w.fireSlot(w.jiffies)
	}
	w.reprogramIfAperiodic()
}

func (w *Wheel) fireSlot(jiffies uint64) {
	slot := w.slots[jiffies&(uint64(w.size)-1)]

	// Snapshot the slot's holders before mutating: a callback may
	// start/stop other timers in the same slot, which would corrupt an
	// in-progress walk over the live linked list (the same snapshot
	// discipline the pod's hook chains use).
	var all []*Timer
	slot.Each(func(h *prioq.Holder) { all = append(all, h.Value.(*Timer)) })

	var expired []*Timer
	for _, tm := range all {
		if tm.target <= jiffies {
			slot.Remove(&tm.holder)
			tm.dequeued = true
			expired = append(expired, tm)
		}
	}

	for _, tm := range expired {
		tm.handler(tm.cookie)
		if tm.dequeued && !tm.killed && tm.period != Infinite && tm.period != 0 {
			tm.target = w.jiffies + tm.period
			w.slotFor(tm.target).InsertLIFO(&tm.holder, 0)
			tm.dequeued = false
		}
	}
}

// reprogramIfAperiodic reprograms the hardware to the earliest pending
// target across all slots when in Aperiodic mode, or idles it if
// nothing is pending (spec §4.3).
func (w *Wheel) reprogramIfAperiodic() {
	if w.mode != Aperiodic {
		return
	}
	earliest, any := w.earliestTarget()
	if !any {
		w.hw.Idle()
		return
	}
	// The shot is advanced by the hardware's setup time so the
	// interrupt lands early enough for the woken thread to resume at
	// the target itself, never clamped below the setup time.
	delay := time.Duration(earliest-w.jiffies)*w.tick - w.hw.SetupTime()
	if delay < w.hw.SetupTime() {
		delay = w.hw.SetupTime()
	}
	w.hw.ProgramOneShot(delay)
}

func (w *Wheel) earliestTarget() (uint64, bool) {
	var best uint64
	found := false
	for _, s := range w.slots {
		s.Each(func(h *prioq.Holder) {
			tm := h.Value.(*Timer)
			if !found || tm.target < best {
				best = tm.target
				found = true
			}
		})
	}
	return best, found
}
