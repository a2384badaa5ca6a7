package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/nanokernel/heap"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/thread"
)

type fakeSched struct {
	root         *thread.TCB
	reniced      map[*thread.TCB]int
	resumed      []*thread.TCB
	suspended    []*thread.TCB
}

func newFakeSched(root *thread.TCB) *fakeSched {
	return &fakeSched{root: root, reniced: map[*thread.TCB]int{}}
}

func (f *fakeSched) ReniceThread(t *thread.TCB, prio int) {
	t.BPrio = prio
	t.CPrio = prio
	f.reniced[t] = prio
}

func (f *fakeSched) SuspendThread(t *thread.TCB, reason thread.State, timeout uint64, wchan thread.WaitChannel) {
	t.State |= reason
	f.suspended = append(f.suspended, t)
}

func (f *fakeSched) ResumeThread(t *thread.TCB, reason thread.State) {
	t.State &^= reason
	f.resumed = append(f.resumed, t)
}

func (f *fakeSched) Root() *thread.TCB { return f.root }

type fakeHost struct {
	prio        int
	woken       bool
	terminated  bool
	signals     []int
}

func (h *fakeHost) Reprioritize(prio int) { h.prio = prio }
func (h *fakeHost) Signal(sig int)        { h.signals = append(h.signals, sig) }
func (h *fakeHost) Wake()                 { h.woken = true }
func (h *fakeHost) Terminate()            { h.terminated = true }

func newTestTCB(t *testing.T, prio int) *thread.TCB {
	t.Helper()
	h, err := heap.New(4096)
	require.NoError(t, err)
	require.NoError(t, h.AddExtent(4096*8))
	tcb, err := thread.Init(1, h, prioq.Up, "shadow", prio, 0, 0)
	require.NoError(t, err)
	return tcb
}

func TestMap_StartsDormantInHostDomainWithShadowBit(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	host := &fakeHost{}

	p := Map(sched, gk, tcb, host)

	assert.Equal(t, Host, p.Domain())
	assert.True(t, tcb.State.Has(thread.Shadow))
	assert.True(t, tcb.State.Has(thread.Dormant))
	assert.Same(t, p, tcb.HostTask)
}

func TestHarden_MovesToRTDomainAndResumesThread(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	p := Map(sched, gk, tcb, &fakeHost{})
	require.NoError(t, p.Start(false))

	require.NoError(t, p.Harden())

	assert.Equal(t, RT, p.Domain())
	assert.Contains(t, sched.resumed, tcb)
	assert.False(t, tcb.State.Has(thread.Relax))
}

func TestHarden_IsANoOpAlreadyInRTDomain(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	p := Map(sched, gk, tcb, &fakeHost{})
	require.NoError(t, p.Start(true))
	require.Equal(t, RT, p.Domain())

	require.NoError(t, p.Harden())
	assert.Len(t, sched.resumed, 1, "a second harden must not resume the thread again")
}

func TestRelax_ReniesRootAndSuspendsThenWakesHost(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 60)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)
	require.NoError(t, p.Start(true))

	require.NoError(t, p.Relax())

	assert.Equal(t, Host, p.Domain())
	assert.Equal(t, 60, sched.reniced[root], "ROOT must inherit the shadow's current priority")
	assert.Contains(t, sched.suspended, tcb)
	assert.True(t, tcb.State.Has(thread.Relax))
	assert.True(t, host.woken)
}

func TestHardenRelax_RoundTripLendsAndReturnsRootPriority(t *testing.T) {
	root := newTestTCB(t, 1)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 40)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)
	require.NoError(t, p.Start(false))
	require.Equal(t, Host, p.Domain())

	require.NoError(t, p.Harden())
	require.Equal(t, RT, p.Domain())
	assert.False(t, tcb.State.Has(thread.Relax))

	require.NoError(t, p.Relax())
	assert.Equal(t, Host, p.Domain())
	assert.Equal(t, 40, root.CPrio, "ROOT carries the shadow's priority while it runs host-side")
	assert.True(t, tcb.State.Has(thread.Relax))
	assert.True(t, host.woken)

	require.NoError(t, p.Harden())
	assert.Equal(t, RT, p.Domain())
	assert.Equal(t, root.IPrio, root.CPrio, "ROOT returns to its base once the shadow is back on the RT side")
	assert.False(t, tcb.State.Has(thread.Relax))
}

func TestExit_WakesThenTerminatesHost(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)

	require.NoError(t, p.Exit())

	assert.True(t, host.woken)
	assert.True(t, host.terminated)
}

func TestUnmap_ClearsHostTaskAndShadowBit(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	p := Map(sched, gk, tcb, &fakeHost{})

	p.Unmap()

	assert.Nil(t, tcb.HostTask)
	assert.False(t, tcb.State.Has(thread.Shadow))
}

func TestRelaxHarden_EngageAndReleaseTheSharedShield(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)
	require.NoError(t, p.Start(true))
	require.Equal(t, RT, p.Domain(), "Map enters the shield, the autostart harden must leave it")

	var fired int
	gk.Shield.Deliver(func() { fired++ })
	assert.Equal(t, 1, fired, "no shadow is in the host domain once hardened, so IRQs deliver immediately")

	require.NoError(t, p.Relax())
	gk.Shield.Deliver(func() { fired++ })
	assert.Equal(t, 1, fired, "relaxing re-enters the host domain, so the IRQ must pend")

	require.NoError(t, p.Harden())
	assert.Equal(t, 2, fired, "hardening must leave the shield and replay the pended IRQ")
}

func TestReprioritize_ForwardsToHostTask(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)

	p.Reprioritize(77)

	assert.Equal(t, 77, host.prio)
}

func TestIntercept_SubstitutedCallHardensThenRunsRTPath(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	p := Map(sched, gk, tcb, &fakeHost{})
	require.NoError(t, p.Start(false))

	var rtCalled, hostCalled bool
	err := p.Intercept(SyscallSleep, func() { rtCalled = true }, func() { hostCalled = true })

	require.NoError(t, err)
	assert.True(t, rtCalled)
	assert.False(t, hostCalled)
	assert.Equal(t, RT, p.Domain())
}

func TestIntercept_OtherCallWithoutAutoswJustPropagates(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	p := Map(sched, gk, tcb, &fakeHost{})
	require.NoError(t, p.Start(true))

	var hostCalled bool
	err := p.Intercept(SyscallOther, func() {}, func() { hostCalled = true })

	require.NoError(t, err)
	assert.True(t, hostCalled)
	assert.Equal(t, RT, p.Domain(), "without AUTOSW the thread stays hardened")
}

func TestIntercept_OtherCallWithAutoswRelaxesAndReHardens(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)
	tcb := newTestTCB(t, 50)
	host := &fakeHost{}
	p := Map(sched, gk, tcb, host)
	require.NoError(t, p.Start(true))
	tcb.State |= thread.Autosw

	var domainDuringHostCall Domain
	err := p.Intercept(SyscallOther, func() {}, func() { domainDuringHostCall = p.Domain() })

	require.NoError(t, err)
	assert.Equal(t, Host, domainDuringHostCall, "host call must run with the thread relaxed")
	assert.Equal(t, RT, p.Domain(), "must re-harden on return")
	assert.False(t, tcb.State.Has(thread.Sysw), "SYSSW must clear once the round trip completes")
}
