package proc

import (
	"syscall"
	"time"
)

// Escalation timing defaults.
const (
	DefaultGrace = 10 * time.Second
	// DefaultReap bounds the best-effort wait for the child to be reaped
	// after a SIGKILL.
	DefaultReap = 200 * time.Millisecond
)

// TermResult reports how a termination concluded.
type TermResult struct {
	Forced bool // SIGKILL was needed after the graceful window
	Reaped bool // the waiter observed the exit before we returned
}

// Escalator terminates a child gracefully first and forcefully after a
// deadline. Terminating an already-exited handle is a no-op and sends no
// signal.
type Escalator struct {
	Grace time.Duration // graceful window before SIGKILL; DefaultGrace when zero
	Reap  time.Duration // post-kill reap window; DefaultReap when zero
}

func (e Escalator) grace() time.Duration {
	if e.Grace > 0 {
		return e.Grace
	}
	return DefaultGrace
}

func (e Escalator) reap() time.Duration {
	if e.Reap > 0 {
		return e.Reap
	}
	return DefaultReap
}

// Terminate sends sig to the handle's process group and waits for the exit
// within the graceful window, then escalates to SIGKILL and waits the reap
// window best-effort. It is idempotent: a second call on an exited handle
// returns immediately.
func (e Escalator) Terminate(h Handle, sig syscall.Signal) TermResult {
	if h == nil {
		return TermResult{Reaped: true}
	}
	select {
	case <-h.Done():
		return TermResult{Reaped: true}
	default:
	}

	confirmed := false
	select {
	case <-h.Confirmed():
		confirmed = true
	default:
	}
	if confirmed {
		if !h.Alive() {
			// already dead; give the waiter a moment to reap
			select {
			case <-h.Done():
				return TermResult{Reaped: true}
			case <-time.After(e.reap()):
				return TermResult{}
			}
		}
		_ = h.Signal(sig)
	} else {
		// spawn still in flight; kill it as soon as it lands
		h.Abort()
	}

	select {
	case <-h.Done():
		return TermResult{Reaped: true}
	case <-time.After(e.grace()):
	}
	_ = h.Kill()
	select {
	case <-h.Done():
		return TermResult{Forced: true, Reaped: true}
	case <-time.After(e.reap()):
	}
	return TermResult{Forced: true}
}
