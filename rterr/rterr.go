// Package rterr defines the recoverable error categories every nanokernel
// API documents it may return (spec §7). Callers use errors.Is against
// the sentinels below; Wrap attaches call-site context the way the donor
// repo's utils.WrapError does.
package rterr

import "fmt"

// Sentinel categories, one per §7 recoverable class.
var (
	// ErrInval: caller-provided argument failed a precondition.
	ErrInval = newSentinel("invalid argument")
	// ErrBusy: operation cannot proceed, an exclusive state is occupied.
	ErrBusy = newSentinel("resource busy")
	// ErrNoMem: stack or heap allocation failed.
	ErrNoMem = newSentinel("out of memory")
	// ErrNoSys: requested facility absent on this architecture.
	ErrNoSys = newSentinel("facility not available")
	// ErrPerm: attempt to perform a forbidden action.
	ErrPerm = newSentinel("operation not permitted")
)

type sentinel struct{ msg string }

func newSentinel(msg string) *sentinel { return &sentinel{msg: msg} }
func (s *sentinel) Error() string      { return s.msg }

// Wrap attaches a call-site message to a sentinel category, preserving it
// for errors.Is(err, rterr.ErrInval) etc.
func Wrap(sentinel error, context string) error {
	return fmt.Errorf("%s: %w", context, sentinel)
}
