package pod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/nanokernel/thread"
)

func TestWaitThreadPeriod_RequiresAPeriod(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	assert.Error(t, p.WaitThreadPeriod(tc))
}

func TestWaitThreadPeriod_SuspendsUntilTheReleasePoint(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)
	require.Equal(t, tc, p.Current())

	p.SetThreadPeriodic(tc, 10)
	require.NoError(t, p.WaitThreadPeriod(tc))

	assert.True(t, tc.State.Has(thread.Delay))
	assert.Equal(t, p.Root(), p.Current(), "the waiter yields until its release")

	p.AnnounceTick(9)
	assert.True(t, tc.State.Has(thread.Delay))
	p.AnnounceTick(1)
	assert.True(t, tc.State.Has(thread.Ready))
	assert.Equal(t, tc, p.Current())
}

func TestWaitThreadPeriod_OverrunSkipsTheSuspension(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	p.SetThreadPeriodic(tc, 5)
	p.AnnounceTick(10) // blow straight past the first release point

	require.NoError(t, p.WaitThreadPeriod(tc))
	assert.False(t, tc.State.Has(thread.Delay), "a missed release does not block the caller")

	p.SetThreadPeriodic(tc, 0)
	assert.Error(t, p.WaitThreadPeriod(tc), "a zero period cancels periodic mode")
}
