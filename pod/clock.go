package pod

import (
	"time"

	"github.com/rtcore/nanokernel/rterr"
	"github.com/rtcore/nanokernel/thread"
)

// StartTimer records the TIMED status bit (spec §6 start_timer). The
// wheel itself is already constructed at New and advances on every
// AnnounceTick whether or not TIMED is set; the bit gates nothing.
func (p *Pod) StartTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timed = true
}

// StopTimer clears the TIMED bit; timeouts already armed continue to
// fire, matching the original's "stopping the clock does not cancel
// outstanding timers" behavior (spec §6 stop_timer).
func (p *Pod) StopTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timed = false
}

// SetTime adjusts the pod's wallclock by recording an offset from the
// wheel's free-running jiffies counter (spec §6 set_time). wall is the
// wallclock time the caller wants GetTime to report right now.
func (p *Pod) SetTime(wall int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallOffset = wall - p.jiffiesToNanos(p.wheel.Jiffies())
	p.tmset = true
}

// GetTime returns the pod's current wallclock: the wheel's jiffies
// counter converted to nanoseconds, plus whatever offset SetTime has
// recorded (spec §6 get_time). Before the first SetTime call this is
// simply the time since boot in nanoseconds.
func (p *Pod) GetTime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jiffiesToNanos(p.wheel.Jiffies()) + p.wallOffset
}

// TimeSet reports whether SetTime has been called at least once.
func (p *Pod) TimeSet() bool { return p.tmset }

func (p *Pod) jiffiesToNanos(jiffies uint64) int64 {
	return int64(jiffies) * p.cfg.TickInterval.Nanoseconds()
}

// Ticks2Sec converts a duration in pod ticks to whole seconds and a
// nanosecond remainder (spec §6 ticks2sec, §12 supplement
// xnpod_ticks2ns).
func (p *Pod) Ticks2Sec(ticks uint64) (sec int64, nsec int64) {
	total := int64(ticks) * p.cfg.TickInterval.Nanoseconds()
	return total / time.Second.Nanoseconds(), total % time.Second.Nanoseconds()
}

// Sec2Ticks converts a duration expressed as seconds and a nanosecond
// remainder back to pod ticks, rounding up so a caller's requested
// delay is never under-armed (spec §12 supplement xnpod_ns2ticks).
func (p *Pod) Sec2Ticks(sec int64, nsec int64) uint64 {
	total := sec*time.Second.Nanoseconds() + nsec
	tick := p.cfg.TickInterval.Nanoseconds()
	if tick <= 0 {
		return 0
	}
	return uint64((total + tick - 1) / tick)
}

// GetCPUTime returns the number of ticks t has spent as the current
// thread, converted to nanoseconds (spec §6 get_cpu_time).
func (p *Pod) GetCPUTime(t *thread.TCB) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(t.CPUTicks) * p.cfg.TickInterval.Nanoseconds()
}

// CheckContext reports whether it is currently safe to call a
// pod-mutating method that assumes it is not itself running inside a
// hook callback (spec §6 check_context): it returns an rterr.ErrPerm
// error while kcout is set, or once the pod has frozen after a fatal
// condition, and nil otherwise.
func (p *Pod) CheckContext() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return rterr.Wrap(rterr.ErrPerm, "pod: frozen after a fatal condition")
	}
	if p.kcout {
		return rterr.Wrap(rterr.ErrPerm, "pod: called from within a hook callback")
	}
	return nil
}
