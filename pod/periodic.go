package pod

import (
	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/rterr"
	"github.com/rtcore/nanokernel/thread"
)

// SetThreadPeriodic arms t's periodic release point (spec §6
// set_thread_periodic, original_source xnpod_set_thread_periodic). A
// zero period cancels periodic mode. The first release is one period
// from now; WaitThreadPeriod blocks until it, then every period after.
func (p *Pod) SetThreadPeriodic(t *thread.TCB, periodTicks uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t.PeriodTicks = periodTicks
	if periodTicks == 0 {
		t.NextRelease = 0
		return
	}
	t.NextRelease = p.wheel.Jiffies() + periodTicks
}

// WaitThreadPeriod blocks the calling thread until its next periodic
// release point, then advances that point by one period (spec §6
// wait_thread_period, original_source xnpod_wait_thread_period).
// Returns rterr.ErrInval if t is not periodic.
func (p *Pod) WaitThreadPeriod(t *thread.TCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.PeriodTicks == 0 {
		return rterr.Wrap(rterr.ErrInval, "thread is not periodic")
	}

	if p.periodicOverrun(t) {
		p.log.Warn("periodic release missed", log.String("thread", t.Name),
			log.Uint64("next_release", t.NextRelease), log.Uint64("jiffies", p.wheel.Jiffies()))
	} else {
		now := p.wheel.Jiffies()
		p.Suspend(t, thread.Delay, t.NextRelease-now, nil)
	}
	t.NextRelease += t.PeriodTicks
	return nil
}

// periodicOverrun reports whether the calling thread missed its own
// release point by the time WaitThreadPeriod was called again — not
// treated as a fault here, only diagnostic (spec §9 leaves overrun
// handling unspecified for a non-real-time host).
func (p *Pod) periodicOverrun(t *thread.TCB) bool {
	return t.PeriodTicks != 0 && t.NextRelease <= p.wheel.Jiffies()
}
