package client

import "time"

// Status values reported in ProcessRecord.Status.
const (
	StatusStopped           = "stopped"
	StatusStarting          = "starting"
	StatusRunning           = "running"
	StatusStopping          = "stopping"
	StatusError             = "error"
	StatusHealthCheckFailed = "healthcheck_failed"
)

// StartRequest describes a project launch. It mirrors the daemon's /start
// payload: the top-level fields carry the project configuration and Options
// carries per-start overrides.
type StartRequest struct {
	Name    string            `json:"name"`
	Port    int               `json:"port,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Options StartOptions      `json:"options"`
}

// StartOptions carries per-start overrides and flags.
type StartOptions struct {
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	WorkDir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Detached     bool              `json:"detached,omitempty"`
	InheritStdio bool              `json:"inherit_stdio,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
}

// ProcessRecord is the daemon's view of one tracked project. Env is the
// fully merged environment the process was launched with.
type ProcessRecord struct {
	Project    string            `json:"project"`
	PID        int               `json:"pid"`
	Status     string            `json:"status"`
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

// Stats buckets every tracked record by status.
type Stats struct {
	Total             int `json:"total"`
	Stopped           int `json:"stopped"`
	Starting          int `json:"starting"`
	Running           int `json:"running"`
	Stopping          int `json:"stopping"`
	Error             int `json:"error"`
	HealthCheckFailed int `json:"healthcheck_failed"`
	ErrorLike         int `json:"error_like"`
}

// OutputLine is one captured stdout or stderr line.
type OutputLine struct {
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// OutputResponse wraps the retained output lines for one project.
type OutputResponse struct {
	Project string       `json:"project"`
	Lines   []OutputLine `json:"lines"`
}

// ResourceUsage is a point-in-time resource reading for one project.
type ResourceUsage struct {
	Project       string    `json:"project"`
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss"`
	Threads       int32     `json:"threads"`
	FDs           int32     `json:"fds"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	SampledAt     time.Time `json:"sampled_at"`
}

// UsageSample is one retained usage measurement.
type UsageSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	Threads    int32     `json:"threads"`
	FDs        int32     `json:"fds"`
	SampledAt  time.Time `json:"sampled_at"`
}

// UsageHistoryResponse wraps the retained samples for one project, oldest
// first.
type UsageHistoryResponse struct {
	Project string        `json:"project"`
	History []UsageSample `json:"history"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
