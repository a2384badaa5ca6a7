package shadow

import "github.com/rtcore/nanokernel/thread"

// SyscallKind enumerates the host calls a shadow's interception point
// inspects (spec §4.7). Grounded on
// teacher_threads/signal_loop.go's handleSyscall: a switch over a
// fixed, small set of call kinds, each either substituted or
// propagated to the host.
type SyscallKind int

const (
	// SyscallSleep/SyscallGetItimer/SyscallSetItimer are the subset
	// spec §4.7 names as substituted with real-time equivalents, after
	// migrating the caller to the real-time domain first.
	SyscallSleep SyscallKind = iota
	SyscallGetItimer
	SyscallSetItimer
	// SyscallOther is every call not in the substituted subset; it
	// always propagates to the host.
	SyscallOther
)

func (k SyscallKind) substituted() bool {
	return k == SyscallSleep || k == SyscallGetItimer || k == SyscallSetItimer
}

// Intercept implements spec §4.7's system-call interception policy for
// one call made on behalf of this shadow. rt is invoked, after
// hardening, for the small substituted subset; host is invoked for
// everything else, auto-relaxing around the call and re-hardening on
// return when the thread has AUTOSW set (marking SYSSW for the
// duration so callers can tell this path was taken).
func (p *Pair) Intercept(kind SyscallKind, rt func(), host func()) error {
	if kind.substituted() {
		if err := p.Harden(); err != nil {
			return err
		}
		rt()
		return nil
	}

	autoswitch := p.Thread.State.Has(thread.Autosw) && p.Domain() == RT
	if autoswitch {
		p.Thread.State |= thread.Sysw
		if err := p.Relax(); err != nil {
			p.Thread.State &^= thread.Sysw
			return err
		}
	}

	host()

	if autoswitch {
		err := p.Harden()
		p.Thread.State &^= thread.Sysw
		if err != nil {
			return err
		}
	}
	return nil
}
