package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devserd/devserd"
	"github.com/devserd/devserd/pkg/client"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

// command binds the CLI handlers so tests can call them directly with flag
// structs. Every handler talks to the daemon through the API client.
type command struct{}

// dial builds an API client for the given URL (local daemon by default) and
// verifies the daemon answers before running any operation.
func (c *command) dial(apiURL string, timeout time.Duration) (*client.Client, error) {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	api := client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
	if !api.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable - please start daemon first with 'devserd serve'")
	}
	return api, nil
}

// Start launches one project, either from command-line flags or from its
// definition in the config file when no --cmd is given.
func (c *command) Start(f StartFlags) error {
	if f.Name == "" {
		return fmt.Errorf("project name is required")
	}

	req := client.StartRequest{
		Name:    f.Name,
		Port:    f.Port,
		Command: f.Cmd,
		Args:    f.Args,
		WorkDir: f.WorkDir,
		Env:     parseEnvPairs(f.EnvKVs),
		Options: client.StartOptions{
			Detached: f.Detached,
			Timeout:  f.Timeout,
		},
	}

	if f.Cmd == "" {
		if f.ConfigPath == "" {
			return fmt.Errorf("either --cmd or --config with a matching project is required")
		}
		p, err := projectFromConfig(f.ConfigPath, f.Name)
		if err != nil {
			return err
		}
		req = startRequestFromProject(p)
		// Command-line flags still override the config definition.
		if f.Port != 0 {
			req.Port = f.Port
		}
		if f.WorkDir != "" {
			req.WorkDir = f.WorkDir
		}
		for k, v := range parseEnvPairs(f.EnvKVs) {
			if req.Env == nil {
				req.Env = make(map[string]string)
			}
			req.Env[k] = v
		}
		if f.Detached {
			req.Options.Detached = true
		}
		if f.Timeout > 0 {
			req.Options.Timeout = f.Timeout
		}
	}

	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	rec, err := api.Start(context.Background(), req)
	if err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

// Stop terminates one project and waits for the daemon to confirm.
func (c *command) Stop(f StopFlags) error {
	if f.Name == "" {
		return fmt.Errorf("project name is required")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := api.Stop(context.Background(), f.Name, f.Signal); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", f.Name)
	return nil
}

// Restart stops and relaunches one project with its last known settings.
func (c *command) Restart(f RestartFlags) error {
	if f.Name == "" {
		return fmt.Errorf("project name is required")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	rec, err := api.Restart(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

// Status prints one project record, or all records when no name is given.
func (c *command) Status(f StatusFlags) error {
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if f.Name != "" {
		rec, err := api.Status(context.Background(), f.Name)
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	recs, err := api.List(context.Background())
	if err != nil {
		return err
	}
	printJSON(recs)
	return nil
}

// Stats prints the aggregate status counters.
func (c *command) Stats(f StatsFlags) error {
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	stats, err := api.Stats(context.Background())
	if err != nil {
		return err
	}
	printJSON(stats)
	return nil
}

// Logs prints the captured output tail of one project.
func (c *command) Logs(f LogsFlags) error {
	if f.Name == "" {
		return fmt.Errorf("project name is required")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	lines, err := api.Output(context.Background(), f.Name, f.N)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Printf("[%s] %s\n", l.Stream, l.Text)
	}
	return nil
}

// Usage prints resource usage, for one project, for all projects, or the
// sampled history of one project.
func (c *command) Usage(f UsageFlags) error {
	if f.History && f.Name == "" {
		return fmt.Errorf("project name is required for --history")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	switch {
	case f.History:
		samples, err := api.UsageHistory(context.Background(), f.Name)
		if err != nil {
			return err
		}
		printJSON(samples)
	case f.Name != "":
		usage, err := api.Usage(context.Background(), f.Name)
		if err != nil {
			return err
		}
		printJSON(usage)
	default:
		all, err := api.UsageAll(context.Background())
		if err != nil {
			return err
		}
		printJSON(all)
	}
	return nil
}

// Health reports an external health verdict for one project.
func (c *command) Health(f HealthFlags) error {
	if f.Name == "" {
		return fmt.Errorf("project name is required")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := api.SetHealth(context.Background(), f.Name, f.Healthy); err != nil {
		return err
	}
	fmt.Printf("Marked %s healthy=%t\n", f.Name, f.Healthy)
	return nil
}

// KillAll terminates every tracked project in one sweep.
func (c *command) KillAll(f KillAllFlags) error {
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := api.KillAll(context.Background(), f.Signal); err != nil {
		return err
	}
	fmt.Println("All projects terminated")
	return nil
}

// Up starts every autostart project from the config file in priority order.
func (c *command) Up(f UpFlags) error {
	if f.ConfigPath == "" {
		return fmt.Errorf("config file is required for up. Use --config=devserd.toml")
	}
	cfg, err := devserd.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	api, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	for _, p := range devserd.SortProjectsByPriority(cfg.Projects) {
		if !p.AutostartEnabled() {
			continue
		}
		rec, err := api.Start(context.Background(), startRequestFromProject(p))
		if err != nil {
			if strings.Contains(err.Error(), "already running") {
				fmt.Printf("%s already running\n", p.Name)
				continue
			}
			return fmt.Errorf("start %s: %w", p.Name, err)
		}
		fmt.Printf("Started %s (pid %d)\n", rec.Project, rec.PID)
	}
	return nil
}

// projectFromConfig finds one named project in a config file.
func projectFromConfig(path, name string) (devserd.Project, error) {
	cfg, err := devserd.LoadConfig(path)
	if err != nil {
		return devserd.Project{}, fmt.Errorf("error loading config: %w", err)
	}
	for _, p := range cfg.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	return devserd.Project{}, fmt.Errorf("project %q not found in %s", name, path)
}

// startRequestFromProject maps a config project onto the wire request.
func startRequestFromProject(p devserd.Project) client.StartRequest {
	return client.StartRequest{
		Name:    p.Name,
		Port:    p.Port,
		Command: p.Command,
		Args:    append([]string(nil), p.Args...),
		WorkDir: p.WorkDir,
		Env:     parseEnvPairs(p.Env),
		Options: client.StartOptions{
			Detached:     p.Detached,
			InheritStdio: p.InheritStdio,
			Timeout:      p.StartTimeout,
		},
	}
}
