package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/devserd/devserd/internal/env"
	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/metrics"
	"github.com/devserd/devserd/internal/output"
	"github.com/devserd/devserd/internal/proc"
)

const (
	// DefaultStartTimeout bounds the wait for spawn confirmation.
	DefaultStartTimeout = 30 * time.Second
	// DefaultStopGrace is the graceful termination window before SIGKILL.
	DefaultStopGrace = 10 * time.Second
	// DefaultCooldown is the pause between stop and start during a restart.
	DefaultCooldown = time.Second

	// exitSettle bounds the wait for exit bookkeeping after termination.
	exitSettle = 2 * time.Second
)

// Config tunes supervisor-wide behavior. The zero value is usable.
type Config struct {
	StartTimeout time.Duration
	StopGrace    time.Duration
	Cooldown     time.Duration
	// History is the number of output lines retained per piped project.
	History int

	Launcher proc.Launcher
	Bus      *event.Bus
	Logger   *slog.Logger
	Env      *env.Env
	// Sampler, when set, provides periodically collected resource usage.
	Sampler *metrics.UsageSampler
	// Tee, when set, returns extra writers that receive a copy of a piped
	// project's routed output.
	Tee func(project string) (stdout, stderr io.WriteCloser)
}

// Supervisor owns the project table and orchestrates process lifecycles.
type Supervisor struct {
	cfg    Config
	log    *slog.Logger
	bus    *event.Bus
	launch proc.Launcher
	envs   *env.Env

	mu    sync.Mutex
	table map[string]*record

	wg sync.WaitGroup
}

func New(cfg Config) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.History <= 0 {
		cfg.History = output.DefaultHistory
	}
	if cfg.Launcher == nil {
		cfg.Launcher = proc.ExecLauncher{}
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Env == nil {
		cfg.Env = env.New()
	}
	return &Supervisor{
		cfg:    cfg,
		log:    cfg.Logger,
		bus:    cfg.Bus,
		launch: cfg.Launcher,
		envs:   cfg.Env,
		table:  make(map[string]*record),
	}
}

// Start launches the project and registers its record. For piped and
// inherited stdio it returns once the spawn is confirmed or the timeout
// elapsed; a detached start returns right after the spawn was issued.
func (s *Supervisor) Start(project string, cfg ProjectConfig, opts Options) (event.Snapshot, error) {
	return s.start(project, cfg, opts, 0)
}

func (s *Supervisor) start(project string, cfg ProjectConfig, opts Options, restarts int) (event.Snapshot, error) {
	if project == "" {
		return event.Snapshot{}, &StartError{Project: project, Reason: "empty project name"}
	}
	command, args := opts.Command, opts.Args
	if command == "" {
		command, args = cfg.Command, cfg.Args
	}
	if command == "" {
		return event.Snapshot{}, &StartError{Project: project, Reason: "no command configured", Err: proc.ErrNoCommand}
	}
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = cfg.WorkDir
	}

	layers := []env.Var{env.Var(cfg.Env), env.Var(opts.Env)}
	if cfg.Port > 0 {
		layers = append(layers, env.Var{"PORT": strconv.Itoa(cfg.Port)})
	}
	merged := s.envs.Merge(layers...)

	rec := newRecord(project, cfg, opts, restarts)
	rec.mu.Lock()
	rec.view.Command = command
	rec.view.Args = append([]string(nil), args...)
	rec.view.CWD = workdir
	rec.view.Env = env.ParseList(merged)
	rec.mu.Unlock()

	// The ring and router exist before the record is published so a reader
	// that finds the record in the table never observes them half-set.
	if !opts.Detached && !opts.InheritStdio {
		rec.ring = output.NewRing(s.cfg.History)
		rec.router = output.NewRouter(project, s.bus, rec.ring)
		if s.cfg.Tee != nil {
			rec.router.Tee(s.cfg.Tee(project))
		}
	}

	rec.op.Lock()
	defer rec.op.Unlock()

	// Claim the project key. Stale stopped or errored records are replaced;
	// an active record rejects the start before anything is spawned.
	s.mu.Lock()
	if old, ok := s.table[project]; ok {
		if st := old.status(); st.Active() {
			s.mu.Unlock()
			return event.Snapshot{}, fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, project, st)
		}
	}
	s.table[project] = rec
	n := len(s.table)
	s.mu.Unlock()
	metrics.SetSupervised(n)
	metrics.SetCurrentState(project, string(event.StatusStarting), true)

	spec := proc.Spec{
		Project:  project,
		Command:  command,
		Args:     args,
		Dir:      workdir,
		Env:      merged,
		Detached: opts.Detached,
	}
	switch {
	case opts.Detached:
		spec.Stdio = proc.StdioFiles
		outF, errF, err := output.DetachedFiles(workdir, project)
		if err != nil {
			s.removeRecord(project, rec)
			metrics.IncStartFailure(project)
			return event.Snapshot{}, &StartError{Project: project, Reason: "open detached log files", Err: err}
		}
		spec.Stdout, spec.Stderr = outF, errF
	case opts.InheritStdio:
		spec.Stdio = proc.StdioInherit
	default:
		spec.Stdio = proc.StdioPiped
	}

	began := time.Now()
	s.log.Info("starting project", "project", project, "command", command, "detached", opts.Detached)
	h, err := s.launch.Launch(spec)
	if err != nil {
		s.removeRecord(project, rec)
		metrics.IncStartFailure(project)
		return event.Snapshot{}, &StartError{Project: project, Reason: "spawn", Err: err}
	}
	rec.handle = h
	if rec.router != nil {
		rec.router.Attach(output.Streams{Stdout: h.Stdout(), Stderr: h.Stderr()})
	}
	s.publish(event.TypeStarted, rec, "")

	if opts.Detached {
		// No confirmation wait: failures surface as runtime errors on the
		// retained record. Snapshot first so the caller sees Starting.
		snap := rec.snapshot()
		s.wg.Add(1)
		go s.watch(rec, h, true)
		return snap, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.StartTimeout
	}
	select {
	case <-h.Confirmed():
		s.promote(rec, h, began)
	case err := <-h.Failed():
		s.removeRecord(project, rec)
		metrics.IncStartFailure(project)
		s.log.Warn("start failed", "project", project, "error", err)
		return event.Snapshot{}, &StartError{Project: project, Reason: "spawn failed", Err: err}
	case <-time.After(timeout):
		// Kill whatever may still land so no orphan survives the timeout.
		h.Abort()
		s.removeRecord(project, rec)
		metrics.IncStartFailure(project)
		s.log.Warn("start timed out", "project", project, "timeout", timeout)
		return event.Snapshot{}, &StartError{
			Project: project,
			Reason:  fmt.Sprintf("no spawn confirmation within %s", timeout),
			Err:     context.DeadlineExceeded,
		}
	}

	s.wg.Add(1)
	go s.watch(rec, h, false)
	return rec.snapshot(), nil
}

// watch follows one process incarnation to its end and keeps the record's
// bookkeeping current.
func (s *Supervisor) watch(rec *record, h proc.Handle, awaitConfirm bool) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			rec.settle()
			s.log.Error("supervision fault", "project", rec.project, "panic", r)
			s.bus.Publish(event.Event{
				Type:    event.TypeUncaughtFault,
				Project: rec.project,
				Err:     fmt.Sprint(r),
			})
		}
	}()

	if awaitConfirm {
		select {
		case <-h.Confirmed():
			s.promote(rec, h, time.Time{})
		case err := <-h.Failed():
			rec.mu.Lock()
			from := rec.view.Status
			rec.view.Status = event.StatusError
			rec.view.LastError = err.Error()
			rec.mu.Unlock()
			s.transition(rec.project, from, event.StatusError)
			metrics.IncStartFailure(rec.project)
			s.log.Warn("detached spawn failed", "project", rec.project, "error", err)
			s.publish(event.TypeRuntimeError, rec, err.Error())
			rec.settle()
			return
		}
	}

	<-h.Done()
	if rec.router != nil {
		// Output events for this incarnation precede its exited event.
		<-rec.router.Done()
	}
	s.finishExit(rec, h.Exit())
	rec.settle()
}

func (s *Supervisor) promote(rec *record, h proc.Handle, began time.Time) {
	rec.mu.Lock()
	rec.view.PID = h.PID()
	from := rec.view.Status
	if from == event.StatusStarting {
		rec.view.Status = event.StatusRunning
	}
	to := rec.view.Status
	rec.mu.Unlock()
	if !began.IsZero() {
		metrics.ObserveSpawnConfirmation(rec.project, time.Since(began).Seconds())
	}
	metrics.IncStart(rec.project)
	s.transition(rec.project, from, to)
	s.log.Info("project running", "project", rec.project, "pid", h.PID())
	s.publish(event.TypeSpawned, rec, "")
}

func (s *Supervisor) finishExit(rec *record, res proc.ExitResult) {
	rec.mu.Lock()
	from := rec.view.Status
	if res.Err != nil {
		rec.view.Status = event.StatusError
		rec.view.LastError = res.Err.Error()
	} else {
		rec.view.Status = event.StatusStopped
		rec.view.ExitCode = res.Code
		rec.view.ExitSignal = res.Signal
	}
	to := rec.view.Status
	rec.mu.Unlock()
	s.transition(rec.project, from, to)

	if res.Err != nil {
		s.log.Warn("project runtime error", "project", rec.project, "error", res.Err)
		s.publish(event.TypeRuntimeError, rec, res.Err.Error())
		return
	}
	fields := []any{"project", rec.project}
	if res.Code != nil {
		fields = append(fields, "code", *res.Code)
	}
	if res.Signal != "" {
		fields = append(fields, "signal", res.Signal)
	}
	s.log.Info("project exited", fields...)
	s.publish(event.TypeExited, rec, "")
}

// Stop terminates the project with SIGTERM, escalating to SIGKILL after the
// grace period, and removes its record. A forced kill still counts as a
// successful stop; it is reported on the stopped event and in metrics.
func (s *Supervisor) Stop(project string) error {
	return s.StopWithSignal(project, syscall.SIGTERM)
}

func (s *Supervisor) StopWithSignal(project string, sig syscall.Signal) error {
	for {
		s.mu.Lock()
		rec, ok := s.table[project]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, project)
		}
		rec.op.Lock()
		s.mu.Lock()
		cur := s.table[project]
		s.mu.Unlock()
		if cur != rec {
			// Replaced or removed while waiting for the operation lock.
			rec.op.Unlock()
			continue
		}
		err := s.stopLocked(project, rec, sig)
		rec.op.Unlock()
		return err
	}
}

func (s *Supervisor) stopLocked(project string, rec *record, sig syscall.Signal) error {
	rec.mu.Lock()
	from := rec.view.Status
	if from.Active() {
		rec.view.Status = event.StatusStopping
	}
	rec.mu.Unlock()
	if from.Active() {
		s.transition(project, from, event.StatusStopping)
	}
	s.log.Info("stopping project", "project", project, "signal", proc.SignalName(sig))

	forced := false
	if rec.handle != nil {
		esc := proc.Escalator{Grace: s.cfg.StopGrace}
		forced = esc.Terminate(rec.handle, sig).Forced
	}

	// Wait for exit bookkeeping so the stopped event trails the exited
	// event. A descendant holding the output pipe open cannot stall the
	// stop: the read ends are closed to unstick the router.
	select {
	case <-rec.done:
	case <-time.After(exitSettle):
		if rec.handle != nil {
			if out := rec.handle.Stdout(); out != nil {
				_ = out.Close()
			}
			if errR := rec.handle.Stderr(); errR != nil {
				_ = errR.Close()
			}
		}
		select {
		case <-rec.done:
		case <-time.After(exitSettle):
		}
	}

	rec.mu.Lock()
	prev := rec.view.Status
	rec.view.Status = event.StatusStopped
	rec.view.Forced = forced
	rec.mu.Unlock()
	s.transition(project, prev, event.StatusStopped)

	s.removeRecord(project, rec)

	metrics.IncStop(project)
	if forced {
		metrics.IncForcedKill(project)
	}
	s.log.Info("project stopped", "project", project, "forced", forced)
	s.publish(event.TypeStopped, rec, "")
	return nil
}

// Restart stops the project, waits the cooldown, then starts it again with
// the originally captured configuration and options.
func (s *Supervisor) Restart(project string) (event.Snapshot, error) {
	s.mu.Lock()
	rec, ok := s.table[project]
	s.mu.Unlock()
	if !ok {
		return event.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	cfg, opts, restarts := rec.cfg, rec.opts, rec.restarts

	if err := s.Stop(project); err != nil && !errors.Is(err, ErrNotFound) {
		return event.Snapshot{}, err
	}
	time.Sleep(s.cfg.Cooldown)
	metrics.IncRestart(project)
	s.log.Info("restarting project", "project", project, "restarts", restarts+1)
	return s.start(project, cfg, opts, restarts+1)
}

// KillAll stops every tracked project concurrently. One unresponsive
// process cannot block cleanup of the rest, and the sweep never fails.
func (s *Supervisor) KillAll() {
	s.KillAllWithSignal(syscall.SIGTERM)
}

func (s *Supervisor) KillAllWithSignal(sig syscall.Signal) {
	s.mu.Lock()
	projects := make([]string, 0, len(s.table))
	for p := range s.table {
		projects = append(projects, p)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range projects {
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			if err := s.StopWithSignal(project, sig); err != nil && !errors.Is(err, ErrNotFound) {
				s.log.Warn("kill-all stop failed", "project", project, "error", err)
			}
		}(p)
	}
	wg.Wait()
}

// Shutdown stops all projects, waits for supervision goroutines, and closes
// the event bus. The supervisor must not be used afterwards.
func (s *Supervisor) Shutdown() {
	s.KillAll()
	s.wg.Wait()
	s.bus.Close()
}

// Get returns a snapshot of the project's record.
func (s *Supervisor) Get(project string) (event.Snapshot, bool) {
	s.mu.Lock()
	rec, ok := s.table[project]
	s.mu.Unlock()
	if !ok {
		return event.Snapshot{}, false
	}
	return rec.snapshot(), true
}

// List returns snapshots of all tracked records sorted by project name.
func (s *Supervisor) List() []event.Snapshot {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.table))
	for _, rec := range s.table {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	out := make([]event.Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// IsRunning reports whether the project is tracked in the Running state.
func (s *Supervisor) IsRunning(project string) bool {
	st, ok := s.Status(project)
	return ok && st == event.StatusRunning
}

// Status returns the project's current lifecycle state.
func (s *Supervisor) Status(project string) (event.Status, bool) {
	s.mu.Lock()
	rec, ok := s.table[project]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return rec.status(), true
}

// Output returns up to n retained output lines for a piped project, oldest
// first. Detached and stdio-inherited projects retain no output.
func (s *Supervisor) Output(project string, n int) ([]output.Line, error) {
	s.mu.Lock()
	rec, ok := s.table[project]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	if rec.ring == nil {
		return nil, nil
	}
	return rec.ring.Last(n), nil
}

// ResourceUsage is a point-in-time resource report for one project.
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

// Usage reports resource usage for the project. Live processes are sampled
// through the periodic sampler when one is wired, falling back to an
// on-demand probe; dead records report zeros with no sample time.
func (s *Supervisor) Usage(project string) (ResourceUsage, error) {
	snap, ok := s.Get(project)
	if !ok {
		return ResourceUsage{}, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	u := ResourceUsage{Project: project, PID: snap.PID}
	if !snap.Status.Active() {
		return u, nil
	}
	u.UptimeSeconds = time.Since(snap.StartedAt).Seconds()
	if snap.PID <= 0 {
		return u, nil
	}
	if s.cfg.Sampler != nil {
		if m, ok := s.cfg.Sampler.Latest(project); ok {
			u.CPUPercent = m.CPUPercent
			u.MemoryRSS = m.MemoryRSS
			u.Threads = m.Threads
			u.FDs = m.FDs
			u.SampledAt = m.SampledAt
			return u, nil
		}
	}
	if m, err := metrics.Sample(int32(snap.PID)); err == nil {
		u.CPUPercent = m.CPUPercent
		u.MemoryRSS = m.MemoryRSS
		u.Threads = m.Threads
		u.FDs = m.FDs
		u.SampledAt = m.SampledAt
	}
	return u, nil
}

// SetHealth records the outcome of an external health probe. An unhealthy
// probe flips a Running record to HealthCheckFailed; a healthy one flips it
// back.
func (s *Supervisor) SetHealth(project string, healthy bool) error {
	s.mu.Lock()
	rec, ok := s.table[project]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	rec.mu.Lock()
	from := rec.view.Status
	to := from
	switch {
	case healthy && from == event.StatusHealthCheckFailed:
		to = event.StatusRunning
	case !healthy && from == event.StatusRunning:
		to = event.StatusHealthCheckFailed
	}
	rec.view.Status = to
	rec.mu.Unlock()
	if to != from {
		s.transition(project, from, to)
		s.log.Info("health state changed", "project", project, "status", to)
	}
	return nil
}

// Subscribe registers an observer on the supervisor's event bus.
func (s *Supervisor) Subscribe(buffer int, types ...event.Type) *event.Subscription {
	return s.bus.Subscribe(buffer, types...)
}

// Bus exposes the underlying event bus for embedding callers.
func (s *Supervisor) Bus() *event.Bus { return s.bus }

// Sampler returns the wired usage sampler, or nil when usage sampling is
// disabled.
func (s *Supervisor) Sampler() *metrics.UsageSampler { return s.cfg.Sampler }

// PIDs returns the live project to PID map, shaped for the usage sampler.
func (s *Supervisor) PIDs() map[string]int32 {
	s.mu.Lock()
	recs := make(map[string]*record, len(s.table))
	for p, rec := range s.table {
		recs[p] = rec
	}
	s.mu.Unlock()

	out := make(map[string]int32, len(recs))
	for p, rec := range recs {
		rec.mu.Lock()
		pid, st := rec.view.PID, rec.view.Status
		rec.mu.Unlock()
		if pid > 0 && st.Active() {
			out[p] = int32(pid)
		}
	}
	return out
}

func (s *Supervisor) removeRecord(project string, rec *record) {
	s.mu.Lock()
	if cur, ok := s.table[project]; ok && cur == rec {
		delete(s.table, project)
	}
	n := len(s.table)
	s.mu.Unlock()
	metrics.SetSupervised(n)
	metrics.ForgetProject(project)
}

func (s *Supervisor) transition(project string, from, to event.Status) {
	if from == to {
		return
	}
	metrics.RecordStateTransition(project, string(from), string(to))
	metrics.SetCurrentState(project, string(from), false)
	metrics.SetCurrentState(project, string(to), true)
}

func (s *Supervisor) publish(t event.Type, rec *record, errMsg string) {
	snap := rec.snapshot()
	s.bus.Publish(event.Event{
		Type:    t,
		Project: snap.Project,
		Record:  &snap,
		Err:     errMsg,
	})
}
