package pod

import (
	"context"
	"sync"
	"time"

	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/prioq"
	"github.com/rtcore/nanokernel/thread"
)

// AddShutdownHook registers fn to run during Shutdown, before any
// thread is torn down (spec §12 supplement). Hooks are launched in LIFO
// order — the reverse of registration, as teacher_utils's
// GracefulShutdown launched its registered shutdown functions — but
// they run concurrently, so no hook is guaranteed to finish before
// another starts.
func (p *Pod) AddShutdownHook(fn func(context.Context) error) {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	p.shutdownHooks = append(p.shutdownHooks, fn)
}

// Shutdown runs every registered shutdown hook concurrently (LIFO
// registration order has no bearing on concurrent execution order,
// only on which hooks a caller expects to have already observed
// cleanup from elsewhere), then deletes every non-ROOT thread (spec
// §4.6 shutdown). Hooks that do not return within timeout are
// abandoned and logged rather than allowed to block shutdown forever.
func (p *Pod) Shutdown(ctx context.Context, timeout time.Duration) error {
	p.shutdownMu.Lock()
	hooks := p.shutdownHooks
	p.shutdownMu.Unlock()

	var hookErr error
	if len(hooks) > 0 {
		hookErr = runShutdownHooks(ctx, timeout, p.log, hooks)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var victims []*thread.TCB
	p.globalq.Each(func(h *prioq.Holder) {
		t := h.Value.(*thread.TCB)
		if t != p.root {
			victims = append(victims, t)
		}
	})
	for _, t := range victims {
		p.deleteThreadLocked(t)
	}
	p.current = nil

	return hookErr
}

// runShutdownHooks is grounded directly on teacher_utils/graceful.go's
// GracefulShutdown.Shutdown: every hook runs in its own goroutine, and
// the whole batch is bounded by one timeout context rather than
// per-hook ones.
func runShutdownHooks(ctx context.Context, timeout time.Duration, l *log.Logger, hooks []func(context.Context) error) error {
	l.Info("running shutdown hooks", log.Int("count", len(hooks)))

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errs := make(chan error, len(hooks))
	var wg sync.WaitGroup
	for i := len(hooks) - 1; i >= 0; i-- {
		wg.Add(1)
		fn := hooks[i]
		go func(idx int, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(shutdownCtx); err != nil {
				l.Error("shutdown hook failed", log.Int("index", idx), log.Err(err))
				errs <- err
			}
		}(i, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errs)
		for err := range errs {
			if err != nil {
				return err
			}
		}
		l.Info("shutdown hooks complete")
		return nil
	case <-shutdownCtx.Done():
		l.Warn("shutdown hooks timed out")
		return shutdownCtx.Err()
	}
}
