package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/nanokernel/heap"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/thread"
)

func TestGatekeeper_PushFailsWhenRingFull(t *testing.T) {
	gk := NewGatekeeper(1)
	assert.True(t, gk.push(request{kind: reqHarden}))
	assert.False(t, gk.push(request{kind: reqHarden}), "a full ring must refuse rather than block")
}

func TestGatekeeper_DrainServicesInArrivalOrder(t *testing.T) {
	root := newTestTCB(t, 0)
	sched := newFakeSched(root)
	gk := NewGatekeeper(4)

	h, err := heap.New(4096)
	require.NoError(t, err)
	require.NoError(t, h.AddExtent(4096*16))
	a, err := thread.Init(1, h, prioq.Up, "a", 10, 0, 0)
	require.NoError(t, err)
	b, err := thread.Init(2, h, prioq.Up, "b", 20, 0, 0)
	require.NoError(t, err)

	pa := Map(sched, gk, a, &fakeHost{})
	pb := Map(sched, gk, b, &fakeHost{})
	require.NoError(t, pa.Start(false))
	require.NoError(t, pb.Start(false))

	require.True(t, gk.push(request{pair: pa, kind: reqHarden}))
	require.True(t, gk.push(request{pair: pb, kind: reqHarden}))
	assert.Equal(t, 2, gk.Pending())

	gk.Drain()

	assert.Equal(t, 0, gk.Pending())
	assert.Equal(t, RT, pa.Domain())
	assert.Equal(t, RT, pb.Domain())
	assert.Equal(t, []*thread.TCB{a, b}, sched.resumed, "requests are serviced in the order they were pushed")
}

func TestShield_PendsIRQsWhileAShadowIsInHostDomainAndReplaysOnLastLeave(t *testing.T) {
	var s Shield
	var fired int

	s.Enter()
	s.Enter()
	s.Deliver(func() { fired++ })
	assert.Equal(t, 0, fired, "an IRQ arriving while any shadow is in the host domain must pend")

	s.Leave()
	assert.Equal(t, 0, fired, "one shadow remains in the host domain")

	s.Leave()
	assert.Equal(t, 1, fired, "the last shadow leaving must replay pended IRQs")
}

func TestShield_DeliversImmediatelyWhenNoShadowIsInHostDomain(t *testing.T) {
	var s Shield
	var fired int

	s.Deliver(func() { fired++ })

	assert.Equal(t, 1, fired)
}
