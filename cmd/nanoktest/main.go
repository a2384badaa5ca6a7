// Command nanoktest boots a pod and drives scenarios A-F from spec §8
// end to end, in the donor's kernel/main.go boot-sequence style: build
// the pod, wire a few threads and synchronization objects, announce
// ticks, and log the outcome of each scenario rather than asserting on
// it (that's what the package test suites are for).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/pod"
	"github.com/rtcore/nanokernel/shadow"
	"github.com/rtcore/nanokernel/synch"
	"github.com/rtcore/nanokernel/thread"
	"github.com/rtcore/nanokernel/timerwheel"
)

var boot = log.New("nanoktest")

func main() {
	scenarioA()
	scenarioB()
	scenarioC()
	scenarioD()
	scenarioE()
	scenarioF()
	boot.Info("all scenarios completed")
}

func newPod(opts ...pod.Option) *pod.Pod {
	base := []pod.Option{
		pod.WithPrioRange(1, 255),
		pod.WithHeap(4096, 4096*64),
		pod.WithWheel(64, time.Millisecond, timerwheel.Periodic, nil),
		pod.WithRRQuantum(5),
	}
	p, err := pod.New(append(base, opts...)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nanoktest: pod init:", err)
		os.Exit(1)
	}
	return p
}

// scenarioA drives spec §8 scenario A: three RRB threads at the same
// priority rotate every quantum.
func scenarioA() {
	l := boot.With(log.String("scenario", "A-round-robin"))
	p := newPod()

	var order []string
	p.AddHook(pod.HookSwitch, func(t *thread.TCB) {
		if t != p.Root() {
			order = append(order, t.Name)
		}
	})

	for _, name := range []string{"T1", "T2", "T3"} {
		t, err := p.CreateThread(name, 10, 0, thread.RRB)
		if err != nil {
			l.Error("create thread failed", log.Err(err))
			return
		}
		p.StartThread(t)
	}

	for i := 0; i < 16; i++ {
		p.AnnounceTick(1)
	}
	l.Info("round-robin order", log.Any("order", order), log.String("running", p.Current().Name))
}

// scenarioB drives spec §8 scenario B: priority inheritance across a
// PIP mutex.
func scenarioB() {
	l := boot.With(log.String("scenario", "B-priority-inheritance"))
	p := newPod()

	tl, _ := p.CreateThread("TL", 10, 0, 0)
	p.StartThread(tl)

	p.Lock()
	x := synch.New(synch.PIP, p)
	x.Acquire(tl)
	p.Unlock()

	tm, _ := p.CreateThread("TM", 20, 0, 0)
	p.StartThread(tm)
	l.Info("after TM starts", log.String("running", p.Current().Name), log.Int("tl_cprio", tl.CPrio))

	th, _ := p.CreateThread("TH", 30, 0, 0)
	p.StartThread(th)

	p.Lock()
	x.SleepOn(th, timerwheel.Infinite)
	p.Unlock()
	l.Info("after TH sleeps on X", log.String("running", p.Current().Name),
		log.Int("tl_cprio", tl.CPrio), log.Bool("tl_boost", tl.State.Has(thread.Boost)))

	p.Lock()
	x.WakeupOneSleeper()
	p.Schedule()
	p.Unlock()
	l.Info("after TL releases X", log.String("running", p.Current().Name), log.Int("tl_cprio", tl.CPrio))
}

// scenarioC drives spec §8 scenario C: a timed sleep_on resumes with
// TIMEO after exactly the requested number of jiffies.
func scenarioC() {
	l := boot.With(log.String("scenario", "C-timeout"))
	p := newPod()

	tc, _ := p.CreateThread("T", 10, 0, 0)
	p.StartThread(tc)

	p.Lock()
	x := synch.New(synch.FIFO, p)
	x.Acquire(p.Root())
	x.SleepOn(tc, 100)
	p.Unlock()

	for i := 0; i < 100; i++ {
		p.AnnounceTick(1)
	}
	l.Info("after 100 ticks", log.Bool("timeo", tc.State.Has(thread.Timeo)),
		log.Bool("pend", tc.State.Has(thread.Pend)), log.Bool("ready", tc.State.Has(thread.Ready)))
}

// scenarioD drives spec §8 scenario D: flushing a synchronization
// object with RMID wakes every waiter and is idempotent.
func scenarioD() {
	l := boot.With(log.String("scenario", "D-destroy-while-waiting"))
	p := newPod()

	t1, _ := p.CreateThread("T1", 10, 0, 0)
	p.StartThread(t1)

	p.Lock()
	s := synch.New(synch.FIFO, p)
	s.SleepOn(t1, timerwheel.Infinite)
	p.Unlock()

	p.Lock()
	rescheduled := s.Flush(thread.Rmid)
	p.Unlock()
	l.Info("after flush", log.Bool("rescheduled", rescheduled), log.Bool("rmid", t1.State.Has(thread.Rmid)))

	p.Lock()
	again := s.Flush(thread.Rmid)
	p.Unlock()
	l.Info("second flush is a no-op", log.Bool("rescheduled", again))
}

type demoHost struct {
	name string
	log  *log.Logger
}

func (h *demoHost) Reprioritize(prio int) { h.log.Debug("host reprioritized", log.Int("prio", prio)) }
func (h *demoHost) Signal(sig int)        { h.log.Debug("host signaled", log.Int("sig", sig)) }
func (h *demoHost) Wake()                 { h.log.Debug("host woken") }
func (h *demoHost) Terminate()            { h.log.Debug("host terminated") }

// scenarioE drives spec §8 scenario E: a shadow pair's harden/relax
// round trip, with ROOT inheriting the shadow's priority while it runs
// in the host domain.
func scenarioE() {
	l := boot.With(log.String("scenario", "E-shadow-harden-relax"))
	p := newPod()

	tcb, _ := p.CreateThread("SHADOW", 50, 0, 0)
	gk := shadow.NewGatekeeper(4)
	host := &demoHost{name: "H", log: l}
	pair := shadow.Map(p, gk, tcb, host)

	if err := pair.Start(false); err != nil {
		l.Error("start failed", log.Err(err))
		return
	}
	l.Info("mapped", log.String("domain", pair.Domain().String()))

	if err := pair.Harden(); err != nil {
		l.Error("harden failed", log.Err(err))
		return
	}
	l.Info("hardened", log.String("domain", pair.Domain().String()))

	if err := pair.Relax(); err != nil {
		l.Error("relax failed", log.Err(err))
		return
	}
	l.Info("relaxed", log.String("domain", pair.Domain().String()), log.Int("root_cprio", p.Root().CPrio))

	if err := pair.Harden(); err != nil {
		l.Error("re-harden failed", log.Err(err))
		return
	}
	l.Info("re-hardened", log.String("domain", pair.Domain().String()))
}

type demoClock struct {
	log       *log.Logger
	programed time.Duration
}

func (c *demoClock) ProgramOneShot(d time.Duration) {
	c.programed = d
	c.log.Debug("hw one-shot programmed", log.Duration("delay", d))
}
func (c *demoClock) Idle()                    { c.log.Debug("hw idled") }
func (c *demoClock) SetupTime() time.Duration { return 10 * time.Microsecond }

// scenarioF drives spec §8 scenario F: in aperiodic mode a single
// delay reprograms the hardware one-shot to the earliest pending
// target.
func scenarioF() {
	l := boot.With(log.String("scenario", "F-aperiodic-delay"))
	clk := &demoClock{log: l}
	p := newPod(pod.WithWheel(64, time.Nanosecond, timerwheel.Aperiodic, clk))

	tc, _ := p.CreateThread("T", 10, 0, 0)
	p.StartThread(tc)

	p.Lock()
	s := synch.New(synch.FIFO, p)
	s.Acquire(p.Root())
	s.SleepOn(tc, uint64(time.Millisecond))
	p.Unlock()

	l.Info("one-shot reprogrammed for delay", log.Duration("programmed", clk.programed))
}
