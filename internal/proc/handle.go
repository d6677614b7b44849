package proc

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExitResult describes how a child process ended. Code is nil when the
// process was terminated by a signal or never ran to a normal exit.
type ExitResult struct {
	Code   *int
	Signal string
	Err    error // non-exit runtime failure reported by Wait
	At     time.Time
}

// Handle tracks one spawned child. Spawning is asynchronous: Confirmed is
// closed once the OS reported the fork, Failed receives the spawn error
// instead, and Done closes after the child was reaped.
type Handle interface {
	Project() string
	PID() int
	Confirmed() <-chan struct{}
	Failed() <-chan error
	Done() <-chan struct{}
	Exit() ExitResult
	// Stdout and Stderr are the read ends of the child's piped streams.
	// They are nil unless the handle was launched with StdioPiped.
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Signal(sig syscall.Signal) error
	Kill() error
	// Abort requests the child be killed as soon as a PID exists. It is
	// safe to call while the spawn is still in flight.
	Abort()
	Alive() bool
	Exited() bool
}

type execHandle struct {
	project string

	confirmed chan struct{}
	failed    chan error
	done      chan struct{}

	stdout io.ReadCloser
	stderr io.ReadCloser

	mu      sync.Mutex
	pid     int
	aborted bool
	exit    ExitResult
}

func newExecHandle(project string) *execHandle {
	return &execHandle{
		project:   project,
		confirmed: make(chan struct{}),
		failed:    make(chan error, 1),
		done:      make(chan struct{}),
	}
}

// run owns the child from fork to reap. parentClosers are our copies of
// descriptors the child inherited; they are released right after Start so
// pipe readers observe EOF when the child side goes away.
func (h *execHandle) run(cmd *exec.Cmd, parentClosers []*os.File) {
	err := cmd.Start()
	for _, f := range parentClosers {
		_ = f.Close()
	}
	if err != nil {
		h.closeReaders()
		h.mu.Lock()
		h.exit = ExitResult{Err: err, At: time.Now()}
		h.mu.Unlock()
		h.failed <- err
		close(h.done)
		return
	}
	h.mu.Lock()
	h.pid = cmd.Process.Pid
	aborted := h.aborted
	h.mu.Unlock()
	close(h.confirmed)
	if aborted {
		_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	res := decodeExit(cmd.Wait())
	h.mu.Lock()
	h.exit = res
	h.mu.Unlock()
	close(h.done)
}

func (h *execHandle) closeReaders() {
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	if h.stderr != nil {
		_ = h.stderr.Close()
	}
}

func (h *execHandle) Project() string { return h.project }

func (h *execHandle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

func (h *execHandle) Confirmed() <-chan struct{} { return h.confirmed }
func (h *execHandle) Failed() <-chan error       { return h.failed }
func (h *execHandle) Done() <-chan struct{}      { return h.done }

func (h *execHandle) Exit() ExitResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *execHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *execHandle) Stderr() io.ReadCloser { return h.stderr }

// Signal delivers sig to the child's process group. Before the spawn is
// confirmed there is no PID yet and Signal is a no-op.
func (h *execHandle) Signal(sig syscall.Signal) error {
	pid := h.PID()
	if pid <= 0 {
		return nil
	}
	return signalGroup(pid, sig)
}

func (h *execHandle) Kill() error { return h.Signal(syscall.SIGKILL) }

func (h *execHandle) Abort() {
	h.mu.Lock()
	h.aborted = true
	pid := h.pid
	h.mu.Unlock()
	if pid > 0 {
		_ = signalGroup(pid, syscall.SIGKILL)
	}
}

func (h *execHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	pid := h.PID()
	if pid <= 0 {
		return false
	}
	return pidAlive(pid)
}

func (h *execHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
