package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devserd/devserd/internal/env"
	"github.com/devserd/devserd/internal/logger"
	"github.com/devserd/devserd/internal/metrics"
	"github.com/devserd/devserd/internal/supervisor"
	"github.com/spf13/viper"
)

// ProjectsDirName is scanned next to the config file when projects_dir is
// not set. Each TOML file in it declares a single project at top level.
const ProjectsDirName = "projects"

// Project is one project entry as written in the config file. Env entries
// use "KEY=VALUE" form; env_files are merged in front of them at load time.
type Project struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Port         int           `toml:"port" mapstructure:"port"`
	Command      string        `toml:"command" mapstructure:"command"`
	Args         []string      `toml:"args" mapstructure:"args"`
	WorkDir      string        `toml:"workdir" mapstructure:"workdir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	EnvFiles     []string      `toml:"env_files" mapstructure:"env_files"`
	Detached     bool          `toml:"detached" mapstructure:"detached"`
	InheritStdio bool          `toml:"inherit_stdio" mapstructure:"inherit_stdio"`
	StartTimeout time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	Autostart    *bool         `toml:"autostart" mapstructure:"autostart"`
	Priority     int           `toml:"priority" mapstructure:"priority"`
}

// Config maps to supervisor.ProjectConfig.
func (p Project) Config() supervisor.ProjectConfig {
	return supervisor.ProjectConfig{
		Name:    p.Name,
		Port:    p.Port,
		Command: p.Command,
		Args:    append([]string(nil), p.Args...),
		WorkDir: p.WorkDir,
		Env:     env.ParseList(p.Env),
	}
}

// Options maps the per-start fields to supervisor.Options.
func (p Project) Options() supervisor.Options {
	return supervisor.Options{
		Detached:     p.Detached,
		InheritStdio: p.InheritStdio,
		Timeout:      p.StartTimeout,
	}
}

// AutostartEnabled reports whether `up` should start this project.
// Unset means yes.
func (p Project) AutostartEnabled() bool {
	if p.Autostart == nil {
		return true
	}
	return *p.Autostart
}

// SupervisorConfig carries the supervisor timing knobs. Zero values fall
// back to the supervisor defaults.
type SupervisorConfig struct {
	StartTimeout time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	StopGrace    time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Cooldown     time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	History      int           `toml:"history" mapstructure:"history"`
}

// ServerConfig configures the control-plane HTTP API.
type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	PidFile       string     `toml:"pidfile" mapstructure:"pidfile"`
	LogFile       string     `toml:"logfile" mapstructure:"logfile"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig selects certificate sources for the API listener. Explicit
// cert/key files win over Dir; with AutoGenerate a self-signed pair is
// written into Dir when none exists.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// MetricsConfig configures the prometheus endpoint and the resource
// usage sampler.
type MetricsConfig struct {
	Enabled bool                 `toml:"enabled" mapstructure:"enabled"`
	Listen  string               `toml:"listen" mapstructure:"listen"`
	Usage   *metrics.UsageConfig `toml:"usage" mapstructure:"usage"`
}

// JournalConfig configures the optional lifecycle-event journal. Disabled
// by default; nothing is persisted unless Enabled is true and a DSN is set.
type JournalConfig struct {
	Enabled         bool   `toml:"enabled" mapstructure:"enabled"`
	DSN             string `toml:"dsn" mapstructure:"dsn"`
	Buffer          int    `toml:"buffer" mapstructure:"buffer"`
	ClickHouseDSN   string `toml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`
	ClickHouseTable string `toml:"clickhouse_table" mapstructure:"clickhouse_table"`
}

// Config is the top-level TOML structure.
type Config struct {
	Env         []string         `toml:"env" mapstructure:"env"`
	EnvFiles    []string         `toml:"env_files" mapstructure:"env_files"`
	ProjectsDir string           `toml:"projects_dir" mapstructure:"projects_dir"`
	Log         logger.Config    `toml:"log" mapstructure:"log"`
	Supervisor  SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Projects    []Project        `toml:"projects" mapstructure:"projects"`
	Server      *ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics     *MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Journal     *JournalConfig   `toml:"journal" mapstructure:"journal"`

	// GlobalEnv is the resolved global environment ("KEY=VALUE"):
	// env_files contents in order, then the env list overriding.
	GlobalEnv []string `toml:"-" mapstructure:"-"`
}

// Load reads the config file, merges per-project files from the projects
// directory, resolves env_files, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(path)

	genv, err := resolveEnv(baseDir, c.EnvFiles, c.Env)
	if err != nil {
		return nil, err
	}
	c.GlobalEnv = genv

	for i := range c.Projects {
		if err := resolveProjectEnv(&c.Projects[i], baseDir); err != nil {
			return nil, err
		}
	}

	extra, err := loadProjectsDir(projectsDir(baseDir, c.ProjectsDir))
	if err != nil {
		return nil, err
	}
	c.Projects = append(c.Projects, extra...)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadProjects is a convenience wrapper returning only the merged,
// validated project list.
func LoadProjects(path string) ([]Project, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return c.Projects, nil
}

// Environment builds the global env layer for the supervisor. The OS
// environment is the base; GlobalEnv entries override it at start time.
func (c *Config) Environment() *env.Env {
	e := env.New()
	for k, val := range env.ParseList(c.GlobalEnv) {
		e.Set(k, val)
	}
	return e
}

// Project returns the entry with the given name.
func (c *Config) Project(name string) (Project, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// Validate checks project entries and section constraints.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("project requires name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project %s", p.Name)
		}
		seen[p.Name] = true
		if p.Command == "" {
			return fmt.Errorf("project %s requires command", p.Name)
		}
		if p.Port < 0 || p.Port > 65535 {
			return fmt.Errorf("project %s: port %d out of range", p.Name, p.Port)
		}
		if p.StartTimeout < 0 {
			return fmt.Errorf("project %s: negative start_timeout", p.Name)
		}
		if p.Detached && p.InheritStdio {
			return fmt.Errorf("project %s: detached and inherit_stdio are mutually exclusive", p.Name)
		}
	}
	if c.Supervisor.StartTimeout < 0 || c.Supervisor.StopGrace < 0 || c.Supervisor.Cooldown < 0 {
		return fmt.Errorf("supervisor timings must not be negative")
	}
	if c.Server != nil && c.Server.Listen == "" {
		return fmt.Errorf("server requires listen address")
	}
	if c.Journal != nil && c.Journal.Enabled && c.Journal.DSN == "" && c.Journal.ClickHouseDSN == "" {
		return fmt.Errorf("journal enabled but no dsn configured")
	}
	return nil
}

// SortProjectsByPriority returns a copy ordered by ascending priority.
// Entries with equal priority keep their declaration order.
func SortProjectsByPriority(ps []Project) []Project {
	sorted := append([]Project(nil), ps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// projectsDir resolves the per-project directory: explicit projects_dir
// (relative to the config file) or the default sibling directory.
func projectsDir(baseDir, configured string) string {
	if configured == "" {
		return filepath.Join(baseDir, ProjectsDirName)
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(baseDir, configured)
}

// loadProjectsDir reads every *.toml file in dir as a single project
// definition. A missing directory is not an error.
func loadProjectsDir(dir string) ([]Project, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Project
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".toml") {
			continue
		}
		p, err := loadProjectFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	// ReadDir returns sorted names; keep that as declaration order.
	return out, nil
}

func loadProjectFile(path string) (Project, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Project{}, err
	}
	var p Project
	if err := v.Unmarshal(&p); err != nil {
		return Project{}, err
	}
	if err := resolveProjectEnv(&p, filepath.Dir(path)); err != nil {
		return Project{}, err
	}
	return p, nil
}

// resolveProjectEnv folds the project's env_files into its env list.
// File entries come first so the inline env list wins.
func resolveProjectEnv(p *Project, baseDir string) error {
	if len(p.EnvFiles) == 0 {
		return nil
	}
	merged, err := resolveEnv(baseDir, p.EnvFiles, p.Env)
	if err != nil {
		return fmt.Errorf("project %s: %w", p.Name, err)
	}
	p.Env = merged
	p.EnvFiles = nil
	return nil
}

// resolveEnv loads env files in order and applies the env list on top,
// returning "KEY=VALUE" entries. Relative file paths are resolved against
// baseDir.
func resolveEnv(baseDir string, files, envList []string) ([]string, error) {
	m := make(map[string]string)
	order := make([]string, 0, len(envList))
	add := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(baseDir, f)
		}
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, err
		}
		for _, k := range pairs.order {
			add(k, pairs.vars[k])
		}
	}
	for _, kv := range envList {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			add(kv[:i], kv[i+1:])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a .env file and returns "KEY=VALUE" entries in file
// order.
func LoadEnvFile(path string) ([]string, error) {
	pairs, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pairs.order))
	for _, k := range pairs.order {
		out = append(out, k+"="+pairs.vars[k])
	}
	return out, nil
}

type envFile struct {
	vars  map[string]string
	order []string
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with
// # are ignored; no quoting or export keywords.
func loadEnvFile(path string) (envFile, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return envFile{}, err
	}
	ef := envFile{vars: make(map[string]string)}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if k == "" {
			continue
		}
		if _, ok := ef.vars[k]; !ok {
			ef.order = append(ef.order, k)
		}
		ef.vars[k] = v
	}
	return ef, nil
}
