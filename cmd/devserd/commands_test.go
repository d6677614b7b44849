package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/devserd/devserd"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
}

// captureStdout runs fn while collecting what it prints.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	callErr := fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	_ = r.Close()
	return buf.String(), callErr
}

// startTestDaemon runs a real supervisor behind an httptest listener and
// returns the API base URL.
func startTestDaemon(t *testing.T) (*devserd.Supervisor, string) {
	t.Helper()
	sup := devserd.New()
	server, err := devserd.NewHTTPServer("127.0.0.1:0", "/api", sup)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = server.Close()
		sup.Shutdown()
	})
	return sup, ts.URL + "/api"
}

func TestCommandFlagValidation(t *testing.T) {
	c := &command{}

	if err := c.Start(StartFlags{}); err == nil || !strings.Contains(err.Error(), "project name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
	if err := c.Start(StartFlags{Name: "web"}); err == nil || !strings.Contains(err.Error(), "either --cmd or --config") {
		t.Fatalf("expected cmd-or-config error, got %v", err)
	}
	if err := c.Stop(StopFlags{}); err == nil || !strings.Contains(err.Error(), "project name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
	if err := c.Restart(RestartFlags{}); err == nil || !strings.Contains(err.Error(), "project name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
	if err := c.Logs(LogsFlags{}); err == nil || !strings.Contains(err.Error(), "project name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
	if err := c.Health(HealthFlags{}); err == nil || !strings.Contains(err.Error(), "project name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
	if err := c.Usage(UsageFlags{History: true}); err == nil || !strings.Contains(err.Error(), "project name is required for --history") {
		t.Fatalf("expected history-name error, got %v", err)
	}
	if err := c.Up(UpFlags{}); err == nil || !strings.Contains(err.Error(), "config file is required") {
		t.Fatalf("expected config-required error, got %v", err)
	}
}

func TestCommandsRequireReachableDaemon(t *testing.T) {
	c := &command{}
	unreachable := "http://127.0.0.1:1/api"

	checks := []struct {
		name string
		run  func() error
	}{
		{"start", func() error {
			return c.Start(StartFlags{Name: "web", Cmd: "sleep", APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"stop", func() error {
			return c.Stop(StopFlags{Name: "web", APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"restart", func() error {
			return c.Restart(RestartFlags{Name: "web", APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"status", func() error {
			return c.Status(StatusFlags{APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"stats", func() error {
			return c.Stats(StatsFlags{APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"logs", func() error {
			return c.Logs(LogsFlags{Name: "web", APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"usage", func() error {
			return c.Usage(UsageFlags{APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"health", func() error {
			return c.Health(HealthFlags{Name: "web", APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
		{"kill-all", func() error {
			return c.KillAll(KillAllFlags{APIUrl: unreachable, APITimeout: 500 * time.Millisecond})
		}},
	}
	for _, check := range checks {
		if err := check.run(); err == nil || !strings.Contains(err.Error(), "daemon not reachable") {
			t.Errorf("%s: expected daemon-not-reachable error, got %v", check.name, err)
		}
	}
}

func TestCLIAgainstDaemon(t *testing.T) {
	requireUnix(t)
	_, apiURL := startTestDaemon(t)
	c := &command{}

	out, err := captureStdout(t, func() error {
		return c.Start(StartFlags{Name: "t1", Cmd: "sleep", Args: []string{"30"}, APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, "\"project\": \"t1\"") || !strings.Contains(out, "\"status\": \"running\"") {
		t.Fatalf("unexpected start output: %s", out)
	}

	out, err = captureStdout(t, func() error {
		return c.Status(StatusFlags{Name: "t1", APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "\"project\": \"t1\"") {
		t.Fatalf("unexpected status output: %s", out)
	}

	out, err = captureStdout(t, func() error {
		return c.Status(StatusFlags{APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("status all: %v", err)
	}
	if !strings.Contains(out, "t1") {
		t.Fatalf("expected t1 in list output: %s", out)
	}

	out, err = captureStdout(t, func() error {
		return c.Stats(StatsFlags{APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "\"running\": 1") {
		t.Fatalf("unexpected stats output: %s", out)
	}

	if _, err = captureStdout(t, func() error {
		return c.Logs(LogsFlags{Name: "t1", N: 5, APIUrl: apiURL, APITimeout: 2 * time.Second})
	}); err != nil {
		t.Fatalf("logs: %v", err)
	}

	out, err = captureStdout(t, func() error {
		return c.Usage(UsageFlags{Name: "t1", APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out, "\"pid\"") {
		t.Fatalf("unexpected usage output: %s", out)
	}

	if _, err = captureStdout(t, func() error {
		return c.Usage(UsageFlags{APIUrl: apiURL, APITimeout: 2 * time.Second})
	}); err != nil {
		t.Fatalf("usage all: %v", err)
	}

	err = c.Usage(UsageFlags{Name: "t1", History: true, APIUrl: apiURL, APITimeout: 2 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "usage sampling is disabled") {
		t.Fatalf("expected sampling-disabled error, got %v", err)
	}

	if _, err = captureStdout(t, func() error {
		return c.Health(HealthFlags{Name: "t1", Healthy: false, APIUrl: apiURL, APITimeout: 2 * time.Second})
	}); err != nil {
		t.Fatalf("health false: %v", err)
	}
	out, err = captureStdout(t, func() error {
		return c.Status(StatusFlags{Name: "t1", APIUrl: apiURL, APITimeout: 2 * time.Second})
	})
	if err != nil {
		t.Fatalf("status after health: %v", err)
	}
	if !strings.Contains(out, "healthcheck_failed") {
		t.Fatalf("expected healthcheck_failed status: %s", out)
	}
	if _, err = captureStdout(t, func() error {
		return c.Health(HealthFlags{Name: "t1", Healthy: true, APIUrl: apiURL, APITimeout: 2 * time.Second})
	}); err != nil {
		t.Fatalf("health true: %v", err)
	}

	out, err = captureStdout(t, func() error {
		return c.Restart(RestartFlags{Name: "t1", APIUrl: apiURL, APITimeout: 5 * time.Second})
	})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !strings.Contains(out, "\"restarts\": 1") {
		t.Fatalf("expected restart count in output: %s", out)
	}

	out, err = captureStdout(t, func() error {
		return c.Stop(StopFlags{Name: "t1", APIUrl: apiURL, APITimeout: 10 * time.Second})
	})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out, "Stopped t1") {
		t.Fatalf("unexpected stop output: %s", out)
	}

	out, err = captureStdout(t, func() error {
		return c.KillAll(KillAllFlags{APIUrl: apiURL, APITimeout: 5 * time.Second})
	})
	if err != nil {
		t.Fatalf("kill-all: %v", err)
	}
	if !strings.Contains(out, "All projects terminated") {
		t.Fatalf("unexpected kill-all output: %s", out)
	}
}

func TestUpStartsConfiguredProjects(t *testing.T) {
	requireUnix(t)
	_, apiURL := startTestDaemon(t)
	c := &command{}

	dir := t.TempDir()
	data := `
[[projects]]
name = "web"
command = "sleep"
args = ["30"]
priority = 2

[[projects]]
name = "db"
command = "sleep"
args = ["30"]
priority = 1

[[projects]]
name = "skipped"
command = "sleep"
args = ["30"]
autostart = false
`
	path := filepath.Join(dir, "devserd.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := captureStdout(t, func() error {
		return c.Up(UpFlags{ConfigPath: path, APIUrl: apiURL, APITimeout: 5 * time.Second})
	})
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	dbIdx := strings.Index(out, "Started db")
	webIdx := strings.Index(out, "Started web")
	if dbIdx < 0 || webIdx < 0 || dbIdx > webIdx {
		t.Fatalf("expected db before web in output: %s", out)
	}
	if strings.Contains(out, "skipped") {
		t.Fatalf("autostart=false project should not start: %s", out)
	}

	// Second run reports already-running projects and succeeds.
	out, err = captureStdout(t, func() error {
		return c.Up(UpFlags{ConfigPath: path, APIUrl: apiURL, APITimeout: 5 * time.Second})
	})
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if !strings.Contains(out, "web already running") || !strings.Contains(out, "db already running") {
		t.Fatalf("expected already-running notices: %s", out)
	}

	if _, err = captureStdout(t, func() error {
		return c.KillAll(KillAllFlags{APIUrl: apiURL, APITimeout: 5 * time.Second})
	}); err != nil {
		t.Fatalf("kill-all: %v", err)
	}
}

func TestStartUsesConfigDefinition(t *testing.T) {
	requireUnix(t)
	_, apiURL := startTestDaemon(t)
	c := &command{}

	dir := t.TempDir()
	data := `
[[projects]]
name = "cfg1"
port = 4000
command = "sleep"
args = ["30"]
`
	path := filepath.Join(dir, "devserd.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := captureStdout(t, func() error {
		return c.Start(StartFlags{Name: "cfg1", ConfigPath: path, APIUrl: apiURL, APITimeout: 5 * time.Second})
	})
	if err != nil {
		t.Fatalf("start from config: %v", err)
	}
	if !strings.Contains(out, "\"port\": 4000") {
		t.Fatalf("expected config port in record: %s", out)
	}

	err = c.Start(StartFlags{Name: "absent", ConfigPath: path, APIUrl: apiURL, APITimeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "not found in") {
		t.Fatalf("expected project-not-found error, got %v", err)
	}

	if _, err = captureStdout(t, func() error {
		return c.Stop(StopFlags{Name: "cfg1", APIUrl: apiURL, APITimeout: 10 * time.Second})
	}); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
