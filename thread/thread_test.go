package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/nanokernel/heap"
	"github.com/rtcore/nanokernel/prioq"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	h, err := heap.New(4096)
	require.NoError(t, err)
	require.NoError(t, h.AddExtent(4096*16))
	return h
}

func TestInit_SetsPrioritiesAndDormant(t *testing.T) {
	h := newTestHeap(t)
	tcb, err := Init(1, h, prioq.Up, "worker", 42, 0, 0xC0FFEE)
	require.NoError(t, err)

	assert.Equal(t, 42, tcb.BPrio)
	assert.Equal(t, 42, tcb.IPrio)
	assert.Equal(t, 42, tcb.CPrio)
	assert.True(t, tcb.State.Has(Dormant))
	assert.True(t, tcb.State.Has(Susp))
	assert.False(t, tcb.State.Runnable())
	assert.Len(t, tcb.Stack, defaultStackSize)
}

func TestInit_UsesRequestedStackSize(t *testing.T) {
	h := newTestHeap(t)
	tcb, err := Init(1, h, prioq.Up, "worker", 10, 8192, 0)
	require.NoError(t, err)
	assert.Len(t, tcb.Stack, 8192)
}

func TestInit_PropagatesStackAllocationFailure(t *testing.T) {
	h, err := heap.New(4096)
	require.NoError(t, err)
	require.NoError(t, h.AddExtent(4096*3))

	_, err = Init(1, h, prioq.Up, "too-big", 10, 4096*100, 0)
	assert.Error(t, err)
}

func TestState_RunnableClearsOnAnyBlockingBit(t *testing.T) {
	assert.True(t, Ready.Runnable())
	assert.False(t, (Ready | Delay).Runnable())
	assert.False(t, (Ready | Susp).Runnable())
	assert.False(t, (Ready | Pend).Runnable())
	assert.True(t, (Ready | Boost).Runnable(), "boost is not a blocking bit")
}

func TestCleanup_ReleasesStackAndClearsMagic(t *testing.T) {
	h := newTestHeap(t)
	tcb, err := Init(1, h, prioq.Up, "worker", 10, 4096, 0xABCD)
	require.NoError(t, err)

	tcb.Cleanup()
	assert.Nil(t, tcb.Stack)
	assert.Equal(t, uint32(0), tcb.Magic)

	// The stack must be genuinely returned to the heap: reallocating the
	// same size should succeed without growing the extent.
	_, err = h.Allocate(4096)
	require.NoError(t, err)
}

func TestClaimList_StartsEmpty(t *testing.T) {
	h := newTestHeap(t)
	tcb, err := Init(1, h, prioq.Up, "worker", 10, 0, 0)
	require.NoError(t, err)
	assert.True(t, tcb.ClaimList.Empty())
}

func TestLink_BothHoldersStartUnlinked(t *testing.T) {
	h := newTestHeap(t)
	tcb, err := Init(1, h, prioq.Up, "worker", 10, 0, 0)
	require.NoError(t, err)
	assert.False(t, tcb.Link().Linked())
	assert.False(t, tcb.GlobalLink().Linked())
}
