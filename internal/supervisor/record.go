package supervisor

import (
	"sync"
	"time"

	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/output"
	"github.com/devserd/devserd/internal/proc"
)

// ProjectConfig is the validated configuration for one project. Start
// options may override individual fields per call.
type ProjectConfig struct {
	Name    string            `mapstructure:"name" json:"name"`
	Port    int               `mapstructure:"port" json:"port,omitempty"`
	Command string            `mapstructure:"command" json:"command,omitempty"`
	Args    []string          `mapstructure:"args" json:"args,omitempty"`
	WorkDir string            `mapstructure:"workdir" json:"workdir,omitempty"`
	Env     map[string]string `mapstructure:"env" json:"env,omitempty"`
}

// Options captures per-start parameters. They are recorded with the process
// so a restart reuses exactly what the caller originally supplied.
type Options struct {
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	WorkDir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Detached     bool              `json:"detached,omitempty"`
	InheritStdio bool              `json:"inherit_stdio,omitempty"`
	// Timeout bounds the wait for spawn confirmation. Zero means the
	// supervisor default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// record is the supervisor's bookkeeping entry for one tracked project.
// cfg, opts and restarts are written once before the record is published to
// the table. view is the externally visible state, guarded by mu. op
// serializes state-transitioning operations on the project key.
type record struct {
	project  string
	cfg      ProjectConfig
	opts     Options
	restarts int

	op sync.Mutex

	mu   sync.Mutex
	view event.Snapshot

	// ring and router are set before the record enters the table and are
	// immutable afterwards; handle is written and read only under op.
	handle proc.Handle
	ring   *output.Ring
	router *output.Router

	done     chan struct{} // closed once exit bookkeeping finished
	doneOnce sync.Once
}

func newRecord(project string, cfg ProjectConfig, opts Options, restarts int) *record {
	return &record{
		project:  project,
		cfg:      cfg,
		opts:     opts,
		restarts: restarts,
		done:     make(chan struct{}),
		view: event.Snapshot{
			Project:   project,
			Status:    event.StatusStarting,
			Port:      cfg.Port,
			Detached:  opts.Detached,
			StartedAt: time.Now(),
			Restarts:  restarts,
		},
	}
}

// snapshot returns a defensive copy of the visible state.
func (r *record) snapshot() event.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view
	if v.Args != nil {
		v.Args = append([]string(nil), v.Args...)
	}
	if v.Env != nil {
		env := make(map[string]string, len(v.Env))
		for k, val := range v.Env {
			env[k] = val
		}
		v.Env = env
	}
	if v.ExitCode != nil {
		c := *v.ExitCode
		v.ExitCode = &c
	}
	return v
}

func (r *record) status() event.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Status
}

// settle marks exit bookkeeping as finished. Safe to call more than once.
func (r *record) settle() {
	r.doneOnce.Do(func() { close(r.done) })
}
