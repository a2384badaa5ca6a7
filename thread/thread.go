// Package thread implements the nanokernel's thread control block
// (spec §3, §4.4): priorities, per-thread stack, state mask, wait
// channel, and the claim list used by priority inheritance.
//
// The priority-as-small-int and job/cookie idiom is grounded on the
// donor repo's threads/foundation/types.go (Priority, Job/Dispatcher);
// the concrete field set (bprio/iprio/cprio naming, state bits, wait
// channel, claim list) is grounded on original_source's
// rtai-core/include/xenomai/pod.h xnthread_t and
// rtai-core/sched/xenomai/thread.c.
package thread

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/rtcore/nanokernel/heap"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/rterr"
)

// State is the thread state mask (spec §3): bit flags, OR-combined. A
// thread is runnable iff no blocking bit is set. Kept a plain integer
// newtype per Design Note §9 ("state is a flag value, not a class
// hierarchy") rather than wrapped in a container type on every hot-path
// mutation.
type State uint32

const (
	Dormant State = 1 << iota
	Started
	Ready
	Pend
	Delay
	Susp
	Relax
	Root
	Shadow
	FPU
	Lock
	RRB
	Boost
	Zombie
	Rmid
	Timeo
	Break
	Killed
	// Asdi disables asynchronous-signal dispatch for this thread
	// (spec §12 supplement, original_source XNASDI).
	Asdi
	// Sched marks that a reschedule is owed to this thread once its
	// scheduler-lock nesting count returns to zero (spec §4.6).
	Sched
	// Restart marks a thread whose context must be reloaded even if
	// schedule() picks the same TCB it started with (spec §4.6 step 4).
	Restart
	// Autosw marks a shadow thread that auto-relaxes around an
	// intercepted host syscall and re-hardens on return (spec §4.7
	// AUTOSW).
	Autosw
	// Sysw marks that the current syscall interception took the
	// auto-relax/re-harden path, set for the duration of the call
	// (spec §4.7 SYSSW).
	Sysw
)

// blockingMask is every bit that keeps a thread off the ready queue.
const blockingMask = Dormant | Pend | Delay | Susp | Relax | Zombie

// Runnable reports whether no blocking bit is set.
func (s State) Runnable() bool { return s&blockingMask == 0 }

func (s State) Has(bits State) bool { return s&bits == bits }
func (s State) Any(bits State) bool { return s&bits != 0 }

// WaitChannel is the minimal view of a synchronization object a
// thread's wait-channel field needs; defined here (not imported from
// package synch) to avoid a thread<->synch import cycle — synch.Object
// implements it.
type WaitChannel interface {
	ChannelID() uint64
}

// HostTask is the minimal view of a shadow thread's mated host-kernel
// task that pod needs when propagating a priority change (spec §4.6
// renice: "if the thread has a shadow, propagate the request to the
// mated host task"); defined here to avoid a thread<->shadow import
// cycle — shadow.HostTask implements it.
type HostTask interface {
	Reprioritize(prio int)
}

// Entry is a thread's top-level function, installed at Init and run
// after the first context switch in (spec §4.4).
type Entry func(cookie any)

// TrapVectors is the fixed trap vector space a thread's per-trap
// handler table is indexed by (spec §4.8).
const TrapVectors = 32

// TrapHandler is a thread's handler for one trap vector (spec §4.8),
// returning whether it handled the trap.
type TrapHandler func(t *TCB, vector int, pc uintptr) bool

// TCB is a thread control block. Owned in permanent memory by its
// creator and never moved once Init returns (spec §3).
type TCB struct {
	Name string

	BPrio int // base priority
	IPrio int // initial priority
	CPrio int // current priority
	State State

	Stack     []byte
	stackHeap *heap.Heap

	Entry  Entry
	Cookie any

	PendingSignals uint32
	ASR            func(self *TCB, signals uint32)
	ASRIMask       uint32
	// IMask is the thread's currently active interrupt mask; ASRIMask is
	// swapped into it for the duration of an ASR invocation and restored
	// on return (spec §4.6 dispatch_signals: "sets the ASR's ... mask ...
	// restores mode bits").
	IMask uint32

	WaitChannel WaitChannel
	DelayTimer  interface {
		Stop()
	}

	// HostTask is non-nil only for shadow threads (spec §4.7).
	HostTask HostTask

	// Traps is this thread's per-trap handler table (spec §4.8),
	// indexed by trap vector; a nil entry falls through to the pod's
	// default fault policy.
	Traps [TrapVectors]TrapHandler

	// ClaimList holds the synchronization objects currently boosting
	// this thread's priority (spec §3, §4.5). Ordered most-urgent-head
	// by the claiming object's boosted priority.
	ClaimList *prioq.Queue

	Affinity uint64

	// RRQuantum/RRCredit implement round-robin within a priority group
	// (spec §4.6); Credit counts down to zero then refills to Quantum.
	RRQuantum uint32
	RRCredit  uint32

	Magic uint32

	// LockCount is the scheduler-lock nesting depth (spec §4.6): while
	// positive, this thread cannot be preempted; schedule() only
	// delivers pending signals until it returns to zero.
	LockCount int

	// CPUTicks accumulates ticks credited to this thread while it was
	// current, read back by the pod's get_cpu_time (spec §6, §12
	// supplement ticks2sec/ns2ticks family).
	CPUTicks uint64

	// PeriodTicks/NextRelease back SetThreadPeriodic/WaitThreadPeriod
	// (spec §6; not elaborated in §4, inferred from the original
	// nucleus's xnpod_set_thread_periodic/xnpod_wait_thread_period).
	// Zero PeriodTicks means the thread is not periodic.
	PeriodTicks uint64
	NextRelease uint64

	// link is the single intrusive holder used for whichever of
	// {ready queue, suspend queue, a synch object's wait queue} this
	// thread currently occupies — spec §3's invariant that a TCB is in
	// at most one of those three makes one shared holder correct.
	link prioq.Holder
	// globalLink keeps this TCB in the pod's global thread queue,
	// independent of scheduling state (spec §3).
	globalLink prioq.Holder

	id uint64
}

// Link returns the thread's scheduling-state holder (ready/suspend/wait).
func (t *TCB) Link() *prioq.Holder { return &t.link }

// GlobalLink returns the thread's always-linked global-queue holder.
func (t *TCB) GlobalLink() *prioq.Holder { return &t.globalLink }

// ChannelID lets a *TCB satisfy sync-object-adjacent back-references
// where needed (e.g. diagnostics); threads are not themselves wait
// channels, this only supports identity comparisons.
func (t *TCB) ChannelID() uint64 { return t.id }

const defaultStackSize = 32 * 1024

// Init allocates a stack (or accepts zero for the default size),
// clears the state mask, and sets bprio = iprio = cprio = prio (spec
// §4.4). dir is the pod's urgency direction (spec §3 reverse_priority),
// used to order this thread's ClaimList the same way the pod orders
// its ready queue. Returns rterr.ErrNoMem if the stack allocation fails.
func Init(id uint64, h *heap.Heap, dir prioq.Direction, name string, prio int, stackSize uint32, magic uint32) (*TCB, error) {
	if stackSize == 0 {
		stackSize = defaultStackSize
	}
	stack, err := h.Allocate(stackSize)
	if err != nil {
		return nil, rterr.Wrap(rterr.ErrNoMem, fmt.Sprintf("thread %q: stack allocation", name))
	}

	t := &TCB{
		id:        id,
		Name:      name,
		BPrio:     prio,
		IPrio:     prio,
		CPrio:     prio,
		State:     Dormant | Susp,
		Stack:     stack,
		stackHeap: h,
		ClaimList: prioq.New(dir),
		Magic:     magic,
	}
	t.link.Value = t
	t.globalLink.Value = t
	return t, nil
}

// Cleanup releases the stack and clears the magic cookie. The TCB
// storage itself remains owned by its creator (spec §4.4).
func (t *TCB) Cleanup() {
	if t.Stack != nil && t.stackHeap != nil {
		_ = t.stackHeap.Free(t.Stack)
		t.Stack = nil
	}
	t.Magic = 0
}

func (t *TCB) String() string {
	return fmt.Sprintf("TCB{%s prio=%d/%d/%d state=%#x}", t.Name, t.BPrio, t.IPrio, t.CPrio, t.State)
}

// DebugBits renders the state mask as a bitset for the fatal-handler
// thread-table dump (spec §10.2); not used on any scheduling hot path.
func (t *TCB) DebugBits() *bitset.BitSet {
	b := bitset.New(32)
	for i := uint(0); i < 32; i++ {
		if t.State&(1<<i) != 0 {
			b.Set(i)
		}
	}
	return b
}
