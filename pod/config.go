package pod

import (
	"time"

	"github.com/rtcore/nanokernel/timerwheel"
)

// Config configures a Pod at New (spec §4.6 init). Mirrors the
// donor's KernelConfig/detectOptimalConfig functional-options shape.
type Config struct {
	MinPrio int
	MaxPrio int

	// ReversePriority mirrors spec §3's pod-level reverse_priority flag:
	// when true, numerically smaller means more urgent (POSIX-style),
	// instead of the default where numerically larger is more urgent.
	ReversePriority bool

	// Dreord disables wait-queue reordering on a priority change (spec
	// §4.5/§4.6, original_source XNDREORD).
	Dreord bool

	PageSize     uint32
	ExtentSize   uint32
	WheelSize    uint32
	TickInterval time.Duration
	Mode         timerwheel.Mode
	HardwareClock timerwheel.HardwareClock

	// RRQuantum is the default round-robin quantum (in ticks) new
	// threads are created with when RRB is requested.
	RRQuantum uint32

	// CreditRefillRate/CreditRefillBurst bound how often a thread's
	// round-robin credit may be force-refilled out of band (spec
	// §12 supplement), wired onto a token bucket rather than the
	// tick-driven decrement spec §4.6 describes for ordinary rotation.
	CreditRefillRate  int64
	CreditRefillBurst int64
}

// Option mutates a Config; applied in order by New.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		MinPrio:           0,
		MaxPrio:           255,
		PageSize:          4096,
		ExtentSize:        4096 * 256,
		WheelSize:         512,
		TickInterval:      time.Millisecond,
		Mode:              timerwheel.Periodic,
		RRQuantum:         10,
		CreditRefillRate:  50,
		CreditRefillBurst: 10,
	}
}

func WithPrioRange(min, max int) Option {
	return func(c *Config) { c.MinPrio, c.MaxPrio = min, max }
}

func WithDreord(v bool) Option {
	return func(c *Config) { c.Dreord = v }
}

func WithReversePriority(v bool) Option {
	return func(c *Config) { c.ReversePriority = v }
}

func WithHeap(pageSize, extentSize uint32) Option {
	return func(c *Config) { c.PageSize, c.ExtentSize = pageSize, extentSize }
}

func WithWheel(size uint32, tick time.Duration, mode timerwheel.Mode, hw timerwheel.HardwareClock) Option {
	return func(c *Config) {
		c.WheelSize, c.TickInterval, c.Mode, c.HardwareClock = size, tick, mode, hw
	}
}

func WithRRQuantum(ticks uint32) Option {
	return func(c *Config) { c.RRQuantum = ticks }
}

func WithCreditRefill(rate, burst int64) Option {
	return func(c *Config) { c.CreditRefillRate, c.CreditRefillBurst = rate, burst }
}
