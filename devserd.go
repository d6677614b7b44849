package devserd

import (
	"context"
	"io"
	"net/http"
	"syscall"
	"time"

	cfg "github.com/devserd/devserd/internal/config"
	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/journal"
	jfactory "github.com/devserd/devserd/internal/journal/factory"
	"github.com/devserd/devserd/internal/metrics"
	"github.com/devserd/devserd/internal/output"
	iapi "github.com/devserd/devserd/internal/server"
	"github.com/devserd/devserd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ProjectConfig = supervisor.ProjectConfig

type Options = supervisor.Options

type Stats = supervisor.Stats

type ResourceUsage = supervisor.ResourceUsage

type StartError = supervisor.StartError

type Snapshot = event.Snapshot

type Event = event.Event

type EventType = event.Type

type Status = event.Status

type Subscription = event.Subscription

type Bus = event.Bus

type OutputLine = output.Line

type Config = cfg.Config

type Project = cfg.Project

type ServerConfig = cfg.ServerConfig

type TLSConfig = cfg.TLSConfig

type AutoGenTLS = cfg.AutoGenTLS

type SupervisorConfig = cfg.SupervisorConfig

type MetricsConfig = cfg.MetricsConfig

type JournalConfig = cfg.JournalConfig

type APIEndpoints = iapi.APIEndpoints

type JournalSink = journal.Sink

type JournalWriter = journal.Writer

type UsageSampler = metrics.UsageSampler

type UsageConfig = metrics.UsageConfig

type Usage = metrics.Usage

// Status values of a tracked project.
const (
	StatusStopped           = event.StatusStopped
	StatusStarting          = event.StatusStarting
	StatusRunning           = event.StatusRunning
	StatusStopping          = event.StatusStopping
	StatusError             = event.StatusError
	StatusHealthCheckFailed = event.StatusHealthCheckFailed
)

// Event types delivered on the bus.
const (
	EventStarted      = event.TypeStarted
	EventSpawned      = event.TypeSpawned
	EventOutput       = event.TypeOutput
	EventExited       = event.TypeExited
	EventStopped      = event.TypeStopped
	EventRuntimeError = event.TypeRuntimeError
)

// Sentinel errors returned by supervisor operations.
var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotFound       = supervisor.ErrNotFound
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// New creates a supervisor with default settings.
func New() *Supervisor { return &Supervisor{inner: supervisor.New(supervisor.Config{})} }

// NewFromConfig assembles a supervisor from a loaded config: timing knobs,
// the global environment, per-project file logging, and a usage sampler
// when enabled.
func NewFromConfig(c *Config) *Supervisor {
	sc := supervisor.Config{
		StartTimeout: c.Supervisor.StartTimeout,
		StopGrace:    c.Supervisor.StopGrace,
		Cooldown:     c.Supervisor.Cooldown,
		History:      c.Supervisor.History,
		Logger:       c.Log.NewSlogger(),
		Env:          c.Environment(),
	}
	if c.Metrics != nil && c.Metrics.Usage != nil && c.Metrics.Usage.Enabled {
		sc.Sampler = metrics.NewUsageSampler(*c.Metrics.Usage)
	}
	if f := c.Log.File; f.Dir != "" || f.StdoutPath != "" || f.StderrPath != "" {
		logCfg := c.Log
		sc.Tee = func(project string) (io.WriteCloser, io.WriteCloser) {
			stdout, stderr, err := logCfg.ProcessWriters(project)
			if err != nil {
				return nil, nil
			}
			return stdout, stderr
		}
	}
	return &Supervisor{inner: supervisor.New(sc)}
}

func (s *Supervisor) Start(project string, pc ProjectConfig, opts Options) (Snapshot, error) {
	return s.inner.Start(project, pc, opts)
}
func (s *Supervisor) Stop(project string) error { return s.inner.Stop(project) }
func (s *Supervisor) StopWithSignal(project string, sig syscall.Signal) error {
	return s.inner.StopWithSignal(project, sig)
}
func (s *Supervisor) Restart(project string) (Snapshot, error) { return s.inner.Restart(project) }
func (s *Supervisor) KillAll()                                 { s.inner.KillAll() }
func (s *Supervisor) KillAllWithSignal(sig syscall.Signal)     { s.inner.KillAllWithSignal(sig) }
func (s *Supervisor) Shutdown()                                { s.inner.Shutdown() }
func (s *Supervisor) Get(project string) (Snapshot, bool)      { return s.inner.Get(project) }
func (s *Supervisor) List() []Snapshot                         { return s.inner.List() }
func (s *Supervisor) Stats() Stats                             { return s.inner.Stats() }
func (s *Supervisor) IsRunning(project string) bool            { return s.inner.IsRunning(project) }
func (s *Supervisor) Status(project string) (Status, bool)     { return s.inner.Status(project) }
func (s *Supervisor) Output(project string, n int) ([]OutputLine, error) {
	return s.inner.Output(project, n)
}
func (s *Supervisor) Usage(project string) (ResourceUsage, error) { return s.inner.Usage(project) }
func (s *Supervisor) SetHealth(project string, healthy bool) error {
	return s.inner.SetHealth(project, healthy)
}
func (s *Supervisor) Subscribe(buffer int, types ...EventType) *Subscription {
	return s.inner.Subscribe(buffer, types...)
}
func (s *Supervisor) Bus() *Bus               { return s.inner.Bus() }
func (s *Supervisor) Sampler() *UsageSampler  { return s.inner.Sampler() }
func (s *Supervisor) PIDs() map[string]int32  { return s.inner.PIDs() }

// BindHostSignals ties the supervisor's lifetime to the host process:
// SIGINT or SIGTERM triggers a kill-all sweep before the host terminates.
func (s *Supervisor) BindHostSignals() { supervisor.BindHostSignals(s.inner) }

// StartSampling begins periodic resource collection over the supervisor's
// tracked PIDs. No-op when usage sampling is not configured.
func (s *Supervisor) StartSampling(ctx context.Context) error {
	if sampler := s.inner.Sampler(); sampler != nil {
		return sampler.Start(ctx, s.inner.PIDs)
	}
	return nil
}

// StopSampling halts the resource collector.
func (s *Supervisor) StopSampling() {
	if sampler := s.inner.Sampler(); sampler != nil {
		sampler.Stop()
	}
}

// RegisterUsageMetricsDefault exports the sampler's per-project gauges on
// the default prometheus registry. No-op without a sampler.
func (s *Supervisor) RegisterUsageMetricsDefault() error {
	if sampler := s.inner.Sampler(); sampler != nil {
		return sampler.RegisterMetrics(prometheus.DefaultRegisterer)
	}
	return nil
}

// AttachJournal subscribes a journal writer to the event bus. The writer
// observes lifecycle events only and never sits in the control path; close
// it after Shutdown.
func (s *Supervisor) AttachJournal(buffer int, sinks ...JournalSink) *JournalWriter {
	return journal.NewWriter(s.inner.Bus(), buffer, sinks...)
}

// Config helpers

func LoadConfig(path string) (*Config, error)         { return cfg.Load(path) }
func LoadProjects(path string) ([]Project, error)     { return cfg.LoadProjects(path) }
func LoadEnvFile(path string) ([]string, error)       { return cfg.LoadEnvFile(path) }
func SortProjectsByPriority(ps []Project) []Project   { return cfg.SortProjectsByPriority(ps) }
func NewJournalSink(dsn string) (JournalSink, error)  { return jfactory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the daemon API for the given
// supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// NewTLSServer starts an HTTPS server per the server config.
func NewTLSServer(sc ServerConfig, s *Supervisor) (*http.Server, error) {
	return iapi.NewTLSServer(sc, s.inner)
}

// NewAPIHandler returns the full control-plane handler for mounting into an
// existing server or framework router.
func NewAPIHandler(s *Supervisor, basePath string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// NewAPIEndpoints exposes the control-plane handlers individually so
// embedders can mount them with their own middleware.
func NewAPIEndpoints(s *Supervisor, basePath string) *APIEndpoints {
	return iapi.NewAPIEndpoints(s.inner, basePath)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the /metrics handler for embedding into an
// existing mux.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine and returns the listen
// error.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
