package event

import (
	"time"
)

// Status is the lifecycle state of a supervised project.
type Status string

const (
	StatusStopped           Status = "stopped"
	StatusStarting          Status = "starting"
	StatusRunning           Status = "running"
	StatusStopping          Status = "stopping"
	StatusError             Status = "error"
	StatusHealthCheckFailed Status = "healthcheck_failed"
)

// Active reports whether the underlying OS process may still be live. A
// project with an active record cannot be started again.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusStopping, StatusHealthCheckFailed:
		return true
	}
	return false
}

// Type defines the kind of lifecycle event.
type Type string

const (
	// TypeStarted fires when a start request has been accepted and the
	// record registered.
	TypeStarted Type = "started"
	// TypeSpawned fires once the OS confirmed the child process exists.
	TypeSpawned Type = "spawned"
	// TypeExited fires when the child process exits for any reason.
	TypeExited Type = "exited"
	// TypeStopped fires after an explicit stop completed and the record
	// was removed.
	TypeStopped Type = "stopped"
	// TypeRuntimeError fires when spawning or supervising fails outside a
	// normal exit.
	TypeRuntimeError Type = "runtime_error"
	// TypeOutput carries one routed line of child stdout/stderr.
	TypeOutput Type = "output"
	// TypeUncaughtFault fires when a supervision goroutine panicked.
	TypeUncaughtFault Type = "uncaught_fault"
)

// Snapshot is the immutable view of a process record carried by lifecycle
// events. Env is the fully merged environment the process was launched
// with. It holds no OS handles and is safe to retain and serialize.
type Snapshot struct {
	Project    string            `json:"project"`
	PID        int               `json:"pid"`
	Status     Status            `json:"status"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	CWD        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Port       int               `json:"port,omitempty"`
	Detached   bool              `json:"detached,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Restarts   int               `json:"restarts,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	ExitSignal string            `json:"exit_signal,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	Forced     bool              `json:"forced,omitempty"`
}

// Event represents a supervisor lifecycle or output event.
type Event struct {
	Type       Type      `json:"type"`
	Project    string    `json:"project,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     *Snapshot `json:"record,omitempty"`
	Stream     string    `json:"stream,omitempty"`
	Line       string    `json:"line,omitempty"`
	Err        string    `json:"error,omitempty"`
}
