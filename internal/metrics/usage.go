package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	DefaultUsageInterval = 5 * time.Second
	DefaultUsageHistory  = 100
)

// Usage is one resource sample for a supervised child process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	Threads    int32     `json:"threads"`
	FDs        int32     `json:"fds"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Sample reads resource usage for a single PID via gopsutil. It fails only
// when the process cannot be opened; individual unreadable fields are left
// zero (NumFDs is unsupported on some platforms).
func Sample(pid int32) (Usage, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: pid, SampledAt: time.Now()}
	if v, err := p.CPUPercent(); err == nil {
		u.CPUPercent = v
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		u.MemoryRSS = mi.RSS
		u.MemoryVMS = mi.VMS
	}
	if v, err := p.NumThreads(); err == nil {
		u.Threads = v
	}
	if v, err := p.NumFDs(); err == nil {
		u.FDs = v
	}
	return u, nil
}

// UsageConfig controls the periodic resource sampler.
type UsageConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// UsageSampler periodically samples resource usage for running projects and
// exports the latest values as Prometheus gauges. It keeps a bounded
// per-project history for usage queries.
type UsageSampler struct {
	cfg UsageConfig

	mu      sync.RWMutex
	history map[string][]Usage

	cpuGauge    *prometheus.GaugeVec
	rssGauge    *prometheus.GaugeVec
	threadGauge *prometheus.GaugeVec
	fdGauge     *prometheus.GaugeVec

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewUsageSampler(cfg UsageConfig) *UsageSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultUsageInterval
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultUsageHistory
	}
	return &UsageSampler{
		cfg:     cfg,
		history: make(map[string][]Usage),
		cpuGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "usage",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the project's child process.",
		}, []string{"project"}),
		rssGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "usage",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the project's child process.",
		}, []string{"project"}),
		threadGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "usage",
			Name:      "threads",
			Help:      "Thread count of the project's child process.",
		}, []string{"project"}),
		fdGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "usage",
			Name:      "fds",
			Help:      "Open file descriptor count of the project's child process.",
		}, []string{"project"}),
		stopCh: make(chan struct{}),
	}
}

// RegisterMetrics registers the usage gauges with the provided registerer.
func (s *UsageSampler) RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpuGauge, s.rssGauge, s.threadGauge, s.fdGauge} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. pids returns the current project -> PID
// map; projects absent from it have their history and gauges dropped.
func (s *UsageSampler) Start(ctx context.Context, pids func() map[string]int32) error {
	if !s.cfg.Enabled {
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("usage sampler already started")
	}
	s.wg.Add(1)
	go s.loop(ctx, pids)
	return nil
}

// Stop halts collection and waits for the sampling goroutine to exit.
func (s *UsageSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *UsageSampler) loop(ctx context.Context, pids func() map[string]int32) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.collect(pids())
		}
	}
}

func (s *UsageSampler) collect(pids map[string]int32) {
	samples := make(map[string]Usage, len(pids))
	for project, pid := range pids {
		u, err := Sample(pid)
		if err != nil {
			continue
		}
		samples[project] = u
	}

	s.mu.Lock()
	for project, u := range samples {
		h := append(s.history[project], u)
		if len(h) > s.cfg.MaxHistory {
			h = h[len(h)-s.cfg.MaxHistory:]
		}
		s.history[project] = h
	}
	for project := range s.history {
		if _, ok := pids[project]; !ok {
			delete(s.history, project)
			s.cpuGauge.DeleteLabelValues(project)
			s.rssGauge.DeleteLabelValues(project)
			s.threadGauge.DeleteLabelValues(project)
			s.fdGauge.DeleteLabelValues(project)
		}
	}
	s.mu.Unlock()

	for project, u := range samples {
		s.cpuGauge.WithLabelValues(project).Set(u.CPUPercent)
		s.rssGauge.WithLabelValues(project).Set(float64(u.MemoryRSS))
		s.threadGauge.WithLabelValues(project).Set(float64(u.Threads))
		s.fdGauge.WithLabelValues(project).Set(float64(u.FDs))
	}
}

// AddSampleForTesting seeds the history and gauges for a project without
// sampling a live process.
func (s *UsageSampler) AddSampleForTesting(project string, u Usage) {
	s.mu.Lock()
	h := append(s.history[project], u)
	if len(h) > s.cfg.MaxHistory {
		h = h[len(h)-s.cfg.MaxHistory:]
	}
	s.history[project] = h
	s.mu.Unlock()

	s.cpuGauge.WithLabelValues(project).Set(u.CPUPercent)
	s.rssGauge.WithLabelValues(project).Set(float64(u.MemoryRSS))
	s.threadGauge.WithLabelValues(project).Set(float64(u.Threads))
	s.fdGauge.WithLabelValues(project).Set(float64(u.FDs))
}

// Latest returns the most recent sample for a project, if any.
func (s *UsageSampler) Latest(project string) (Usage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[project]
	if len(h) == 0 {
		return Usage{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of the retained samples for a project, oldest first.
func (s *UsageSampler) History(project string) []Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[project]
	out := make([]Usage, len(h))
	copy(out, h)
	return out
}
