package pod

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

func newTestPod(t *testing.T, opts ...Option) *Pod {
	t.Helper()
	base := []Option{
		WithPrioRange(1, 255),
		WithHeap(4096, 4096*64),
		WithWheel(64, time.Millisecond, timerwheel.Periodic, nil),
		WithRRQuantum(5),
	}
	p, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestSchedule_ScenarioA_BasicRoundRobin(t *testing.T) {
	p := newTestPod(t)

	var order []string
	p.AddHook(HookSwitch, func(tc *thread.TCB) {
		if tc != p.Root() {
			order = append(order, tc.Name)
		}
	})

	mk := func(name string) *thread.TCB {
		tc, err := p.CreateThread(name, 10, 0, thread.RRB)
		require.NoError(t, err)
		p.StartThread(tc)
		return tc
	}

	t1 := mk("T1")
	mk("T2")
	mk("T3")
	_ = t1

	for i := 0; i < 15; i++ {
		p.AnnounceTick(1)
	}

	// Initial switch into T1, then one rotation each to T2 (tick 5), to
	// T3 (tick 10), and back to T1 (tick 15) — each ran for 5 ticks.
	require.Equal(t, []string{"T1", "T2", "T3", "T1"}, order)

	p.AnnounceTick(1)
	assert.Equal(t, "T1", p.Current().Name)
}

func TestSchedule_ScenarioB_PriorityInheritance(t *testing.T) {
	p := newTestPod(t)

	tl, err := p.CreateThread("TL", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tl)

	p.mu.Lock()
	x := synch.New(synch.PIP, p)
	require.True(t, x.Acquire(tl))
	p.mu.Unlock()

	tm, err := p.CreateThread("TM", 20, 0, 0)
	require.NoError(t, err)
	p.StartThread(tm)

	// TM, more urgent, has preempted TL.
	assert.Equal(t, tm, p.Current())
	assert.Equal(t, 10, tl.CPrio)

	th, err := p.CreateThread("TH", 30, 0, 0)
	require.NoError(t, err)
	p.StartThread(th)

	p.mu.Lock()
	x.SleepOn(th, timerwheel.Infinite)
	p.mu.Unlock()

	assert.Equal(t, 30, tl.CPrio)
	assert.True(t, tl.State.Has(thread.Boost))
	assert.True(t, x.Claimed())
	assert.Equal(t, tl, p.Current(), "TL now outranks TM and should be running")

	p.mu.Lock()
	next := x.WakeupOneSleeper()
	// Resuming TH inside wakeup_one_sleeper already reschedules, but TL
	// is still boosted to 30 at that point and ties with TH, so TL keeps
	// the CPU; the de-boost that follows drops TL to 10 without
	// rescheduling, so this Schedule call is what hands the CPU to TH.
	p.Schedule()
	p.mu.Unlock()

	assert.Equal(t, th, next)
	assert.Equal(t, 10, tl.CPrio)
	assert.False(t, tl.State.Has(thread.Boost))
	assert.Equal(t, th, x.Owner())
	assert.Equal(t, th, p.Current(), "TH resumes as the new owner and is now most urgent")
}

func TestSuspend_ScenarioC_Timeout(t *testing.T) {
	p := newTestPod(t)

	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	p.mu.Lock()
	x := synch.New(synch.FIFO, p)
	require.True(t, x.Acquire(p.Root()))
	x.SleepOn(tc, 100)
	p.mu.Unlock()

	assert.True(t, tc.State.Has(thread.Pend|thread.Delay))

	for i := 0; i < 99; i++ {
		p.AnnounceTick(1)
		assert.True(t, tc.State.Has(thread.Pend), "should still be pending at tick %d", i+1)
	}
	p.AnnounceTick(1)

	assert.True(t, tc.State.Has(thread.Timeo))
	assert.False(t, tc.State.Has(thread.Pend))
	assert.False(t, tc.State.Has(thread.Delay))
	assert.True(t, tc.State.Has(thread.Ready))
	assert.Nil(t, tc.WaitChannel)
}

func TestSynch_ScenarioD_DestroyWhileWaiting(t *testing.T) {
	p := newTestPod(t)

	t1, err := p.CreateThread("T1", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(t1)

	p.mu.Lock()
	s := synch.New(synch.FIFO, p)
	s.SleepOn(t1, timerwheel.Infinite)
	p.mu.Unlock()

	assert.True(t, t1.State.Has(thread.Pend))

	p.mu.Lock()
	rescheduled := s.Flush(thread.Rmid)
	p.mu.Unlock()

	assert.True(t, rescheduled)
	assert.True(t, t1.State.Has(thread.Rmid))
	assert.False(t, t1.State.Has(thread.Pend))
	assert.Nil(t, t1.WaitChannel)
	assert.False(t, s.Pending())

	p.mu.Lock()
	again := s.Flush(thread.Rmid)
	p.mu.Unlock()
	assert.False(t, again, "a second flush of an empty wait queue is a no-op")
}

func TestResume_IsIdempotent(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	p.SuspendThread(tc, thread.Susp, timerwheel.Infinite, nil)
	require.True(t, tc.State.Has(thread.Susp))

	p.ResumeThread(tc, thread.Susp)
	assert.True(t, tc.State.Has(thread.Ready))

	stateAfterFirst := tc.State
	p.ResumeThread(tc, thread.Susp)
	assert.Equal(t, stateAfterFirst, tc.State, "resuming an already-unblocked thread is a no-op")
}

func TestSuspendResume_RoundTripToSuspAndBack(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)
	require.True(t, tc.State.Has(thread.Ready))

	p.SuspendThread(tc, thread.Susp, timerwheel.Infinite, nil)
	assert.False(t, tc.State.Has(thread.Ready))
	assert.True(t, tc.State.Has(thread.Susp))

	p.ResumeThread(tc, thread.Susp)
	assert.True(t, tc.State.Has(thread.Ready))
	assert.False(t, tc.State.Has(thread.Susp))
}

func TestUnblock_EndsDelayAndPendButNotSuspOrDormant(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	p.mu.Lock()
	s := synch.New(synch.FIFO, p)
	s.SleepOn(tc, timerwheel.Infinite)
	p.mu.Unlock()

	p.UnblockThread(tc)

	assert.True(t, tc.State.Has(thread.Break))
	assert.False(t, tc.State.Has(thread.Pend))
	assert.True(t, tc.State.Has(thread.Ready))
}

func TestDeleteThread_RefusesRoot(t *testing.T) {
	p := newTestPod(t)
	err := p.DeleteThread(p.Root())
	assert.Error(t, err)
}

func TestRenice_MovesReadyThreadWithinItsPriorityGroup(t *testing.T) {
	p := newTestPod(t)
	tc, err := p.CreateThread("T", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tc)

	p.ReniceThread(tc, 50)
	assert.Equal(t, 50, tc.BPrio)
	assert.Equal(t, 50, tc.CPrio)
}

func TestRenice_BaseMoreUrgentThanBoostOverridesTheBoost(t *testing.T) {
	p := newTestPod(t)

	tl, err := p.CreateThread("TL", 10, 0, 0)
	require.NoError(t, err)
	p.StartThread(tl)

	p.mu.Lock()
	x := synch.New(synch.PIP, p)
	require.True(t, x.Acquire(tl))
	p.mu.Unlock()

	th, err := p.CreateThread("TH", 30, 0, 0)
	require.NoError(t, err)
	p.StartThread(th)

	p.mu.Lock()
	x.SleepOn(th, timerwheel.Infinite)
	p.mu.Unlock()
	require.Equal(t, 30, tl.CPrio)
	require.True(t, tl.State.Has(thread.Boost))

	p.ReniceThread(tl, 20)
	assert.Equal(t, 30, tl.CPrio, "a base below the boost leaves the boosted priority in force")
	assert.Equal(t, 20, tl.BPrio)

	p.ReniceThread(tl, 40)
	assert.Equal(t, 40, tl.CPrio, "a base above the boost takes effect immediately")
}

func TestFatal_FreezesPodAndDumpsThreadTable(t *testing.T) {
	p := newTestPod(t)
	require.False(t, p.Frozen())

	p.mu.Lock()
	p.Fatal("test-induced fatal condition")
	p.mu.Unlock()

	assert.True(t, p.Frozen())
}

func TestShutdown_DeletesEveryNonRootThread(t *testing.T) {
	p := newTestPod(t)
	_, err := p.CreateThread("T1", 10, 0, 0)
	require.NoError(t, err)
	_, err = p.CreateThread("T2", 20, 0, 0)
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background(), time.Second))

	count := 0
	p.mu.Lock()
	p.globalq.Each(func(h *prioq.Holder) { count++ })
	p.mu.Unlock()
	assert.Equal(t, 1, count, "only ROOT should remain")
}

func TestShutdown_RunsHooksAndReportsTimeout(t *testing.T) {
	p := newTestPod(t)

	var ran []string
	var mu sync.Mutex
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}
	}
	p.AddShutdownHook(record("first"))
	p.AddShutdownHook(record("second"))

	require.NoError(t, p.Shutdown(context.Background(), time.Second))
	mu.Lock()
	assert.ElementsMatch(t, []string{"first", "second"}, ran)
	mu.Unlock()

	p2 := newTestPod(t)
	p2.AddShutdownHook(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := p2.Shutdown(context.Background(), time.Millisecond)
	assert.Error(t, err, "a hook that outlives the timeout should surface as an error")
}
